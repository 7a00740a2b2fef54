// Package queue implements the work-queue adapter (spec §4.2) over
// AWS SQS: put/receive/delete/abort/purge/depth, with the
// StagedReceipt settlement discipline enforced independently of the
// adapter itself.
package queue

import (
	"context"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/retry"
	"github.com/oriys/brew/internal/shoperr"
)

// SizeLimit is SQS's text-only message body limit after base64
// encoding, per spec §4.2/§6.
const SizeLimit = 256 * 1024

// DefaultWaitTime is the maximum long-poll duration a receive call
// will clamp to, per spec §4.2.
const DefaultWaitTime = 20 * time.Second

// MaxCompletionRetries bounds delete/abort retry attempts.
const MaxCompletionRetries = 3

// WorkQueue adapts one SQS queue to the Shop's work-queue contract.
type WorkQueue struct {
	client   *sqs.Client
	queueURL string
}

// New resolves queueName to its SQS queue URL and returns an adapter
// bound to it.
func New(ctx context.Context, cfg aws.Config, queueName string) (*WorkQueue, error) {
	client := sqs.NewFromConfig(cfg)
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "resolve queue url for %q", queueName)
	}
	if out.QueueUrl == nil {
		return nil, shoperr.New(shoperr.KindUnexpectedAWSResponse, "GetQueueUrl returned no url for %q", queueName)
	}
	return &WorkQueue{client: client, queueURL: *out.QueueUrl}, nil
}

// Put base64-encodes data (already serialized+compressed by the
// caller) and sends it, failing fast if the result would exceed
// SizeLimit rather than letting SQS reject it. The queue-assigned
// message id is adopted verbatim as the Ticket.
func (q *WorkQueue) Put(ctx context.Context, data []byte) (message.Ticket, error) {
	encoded := base64.StdEncoding.EncodeToString(data)
	if len(encoded) > SizeLimit {
		return "", shoperr.New(shoperr.KindBase64EncodingOversize, "encoded body is %d bytes, limit is %d", len(encoded), SizeLimit)
	}

	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(encoded),
	})
	if err != nil {
		return "", shoperr.Wrap(shoperr.KindAWSSdkError, err, "send message")
	}
	if out.MessageId == nil {
		return "", shoperr.New(shoperr.KindUnexpectedAWSResponse, "SendMessage returned no MessageId")
	}
	return *out.MessageId, nil
}

// rawReceipt is the undecoded result of a successful receive.
type rawReceipt struct {
	ticket        message.Ticket
	receiptHandle string
	body          []byte
}

// receiveRaw long-polls for one message, clamping timeout to
// DefaultWaitTime. It is explicitly NOT cancellation-safe: callers
// must not race this call against an external timeout and should rely
// on the timeout parameter instead, per spec §4.2.
func (q *WorkQueue) receiveRaw(ctx context.Context, timeout time.Duration) (*rawReceipt, error) {
	if timeout > DefaultWaitTime {
		timeout = DefaultWaitTime
	}
	waitSeconds := int32(timeout / time.Second)
	if waitSeconds < 1 {
		waitSeconds = 1
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "receive message")
	}
	if len(out.Messages) == 0 {
		return nil, shoperr.New(shoperr.KindAWSSQSQueueEmpty, "no message within %s", timeout)
	}

	msg := out.Messages[0]
	if msg.ReceiptHandle == nil || msg.Body == nil || msg.MessageId == nil {
		return nil, shoperr.New(shoperr.KindUnexpectedAWSResponse, "message missing receipt handle, body, or id")
	}

	decoded, err := base64.StdEncoding.DecodeString(*msg.Body)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindBase64Decoding, err, "decode message body")
	}

	return &rawReceipt{ticket: *msg.MessageId, receiptHandle: *msg.ReceiptHandle, body: decoded}, nil
}

// Delete acknowledges successful processing, retried up to
// MaxCompletionRetries times on transient error.
func (q *WorkQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := retry.UntilOK(ctx, "sqs-delete", MaxCompletionRetries, func(ctx context.Context) (struct{}, error) {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.queueURL),
			ReceiptHandle: aws.String(receiptHandle),
		})
		return struct{}{}, err
	})
	if err != nil {
		return shoperr.Wrap(shoperr.KindAWSSdkError, err, "delete message after %d attempts", MaxCompletionRetries)
	}
	return nil
}

// Abort returns the message to visible state immediately, retried up
// to MaxCompletionRetries times on transient error.
func (q *WorkQueue) Abort(ctx context.Context, receiptHandle string) error {
	_, err := retry.UntilOK(ctx, "sqs-abort", MaxCompletionRetries, func(ctx context.Context) (struct{}, error) {
		_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(q.queueURL),
			ReceiptHandle:     aws.String(receiptHandle),
			VisibilityTimeout: 0,
		})
		return struct{}{}, err
	})
	if err != nil {
		return shoperr.Wrap(shoperr.KindAWSSdkError, err, "abort message after %d attempts", MaxCompletionRetries)
	}
	return nil
}

// Purge removes every in-flight message from the queue.
func (q *WorkQueue) Purge(ctx context.Context) error {
	_, err := q.client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.queueURL)})
	if err != nil {
		return shoperr.Wrap(shoperr.KindAWSSdkError, err, "purge queue")
	}
	return nil
}

// ApproximateDepth reports the queue's approximate message count.
func (q *WorkQueue) ApproximateDepth(ctx context.Context) (int, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, shoperr.Wrap(shoperr.KindAWSSdkError, err, "get queue attributes")
	}
	raw, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, shoperr.New(shoperr.KindUnexpectedAWSResponse, "response missing ApproximateNumberOfMessages")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shoperr.Wrap(shoperr.KindUnexpectedAWSResponse, err, "parse ApproximateNumberOfMessages %q", raw)
	}
	return n, nil
}
