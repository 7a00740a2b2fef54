// Package store implements the keyed store (spec §4.4): a DynamoDB
// table, keyed by ticket, holding the outcome of processing one ticket
// (a codec-encoded output on success, a JSON error body on failure). An optional read-through cache sits in front
// of DynamoDB for GetItem traffic, since a settled ticket's row never
// changes and is safe to cache indefinitely within its TTL.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/oriys/brew/internal/cache"
	"github.com/oriys/brew/internal/codec"
	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/retry"
	"github.com/oriys/brew/internal/shoperr"
)

// maxPutRetries bounds putRow's retry attempts on a transient PutItem
// failure, mirroring the work-queue adapter's MaxCompletionRetries.
const maxPutRetries = 3

// Column names for the keyed-store row layout, per spec §6.
const (
	colSuccess    = "success"
	colStatusCode = "status_code"
	colOutput     = "output"
	colError      = "error"
	colTTL        = "ttl"
)

// maxEpochSeconds caps a row's TTL attribute at DynamoDB's maximum
// representable expiry (9999-12-31T23:59:59Z), per the "TTL capped at
// representable max" supplemented feature.
const maxEpochSeconds = 253402300799

// Store is the DynamoDB-backed keyed store.
type Store struct {
	client       *dynamodb.Client
	table        string
	partitionKey string
	ttl          time.Duration
	cache        cache.Cache
	scratch      *codec.ScratchDir
}

// New builds a Store over table, keyed on partitionKey, with rows
// expiring after ttl. cache and scratch are both optional (nil is
// valid): cache enables read-through caching of GetItem results;
// scratch enables spill-to-disk encoding of large outputs.
func New(cfg aws.Config, table, partitionKey string, ttl time.Duration, c cache.Cache, scratch *codec.ScratchDir) *Store {
	return &Store{
		client:       dynamodb.NewFromConfig(cfg),
		table:        table,
		partitionKey: partitionKey,
		ttl:          ttl,
		cache:        c,
		scratch:      scratch,
	}
}

// ttlEpoch returns the Unix-epoch-seconds expiry for a row written
// now, capped at maxEpochSeconds.
func (s *Store) ttlEpoch() int64 {
	epoch := time.Now().Add(s.ttl).Unix()
	if epoch > maxEpochSeconds {
		return maxEpochSeconds
	}
	return epoch
}

// row is the on-the-wire DynamoDB item shape; Output is a codec-encoded
// blob and Error is the failure's ErrorSchema as JSON text, per spec §4.4.
type row struct {
	Success    bool   `dynamodbav:"success"`
	StatusCode int    `dynamodbav:"status_code"`
	Output     []byte `dynamodbav:"output,omitempty"`
	Error      string `dynamodbav:"error,omitempty"`
	TTL        int64  `dynamodbav:"ttl"`
}

// PutSuccess writes output under ticket as a success row.
func PutSuccess[O any](ctx context.Context, s *Store, ticket string, output O, statusCode int) error {
	encoded, err := codec.EncodeSpillable(s.scratch, output)
	if err != nil {
		return err
	}
	return s.putRow(ctx, ticket, row{
		Success:    true,
		StatusCode: statusCode,
		Output:     encoded,
		TTL:        s.ttlEpoch(),
	})
}

// PutFailure writes errSchema under ticket as a failure row, JSON
// encoded per spec §4.4.
func (s *Store) PutFailure(ctx context.Context, ticket string, errSchema shoperr.ErrorSchema) error {
	encoded, err := json.Marshal(errSchema)
	if err != nil {
		return shoperr.Wrap(shoperr.KindBinaryConversion, err, "encode error body for ticket %s", ticket)
	}
	return s.putRow(ctx, ticket, row{
		Success:    false,
		StatusCode: errSchema.StatusCode,
		Error:      string(encoded),
		TTL:        s.ttlEpoch(),
	})
}

func (s *Store) putRow(ctx context.Context, ticket string, r row) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return shoperr.Wrap(shoperr.KindDynamoDBMalformedItem, err, "marshal row for ticket %s", ticket)
	}
	item[s.partitionKey] = &types.AttributeValueMemberS{Value: ticket}

	_, err = retry.UntilOK(ctx, "dynamodb-put", maxPutRetries, func(ctx context.Context) (struct{}, error) {
		_, putErr := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item:      item,
		})
		return struct{}{}, putErr
	})
	if err != nil {
		return shoperr.Wrap(shoperr.KindAWSSdkError, err, "put item for ticket %s after %d attempts", ticket, maxPutRetries)
	}

	if s.cache != nil {
		if blob, err := codec.Encode(r); err == nil {
			_ = s.cache.Set(ctx, cacheKey(ticket), blob, s.ttl)
		}
	}
	return nil
}

// Get fetches ticket's outcome, consulting the read-through cache
// first. A row whose Error blob fails to decode as shoperr.ErrorSchema
// is reported as shoperr.UnknownProcessingError rather than bubbling a
// decode error, per the "unknown-processing-error fallback"
// supplemented feature.
func Get[O any](ctx context.Context, s *Store, ticket string) (*message.ProcessResult[O], error) {
	if s.cache != nil {
		if blob, err := s.cache.Get(ctx, cacheKey(ticket)); err == nil {
			var r row
			if decErr := codec.Decode(blob, &r); decErr == nil {
				return rowToResult[O](r)
			}
		}
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			s.partitionKey: &types.AttributeValueMemberS{Value: ticket},
		},
	})
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindAWSSdkError, err, "get item for ticket %s", ticket)
	}
	if out.Item == nil {
		return nil, nil
	}

	var r row
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, shoperr.Wrap(shoperr.KindDynamoDBMalformedItem, err, "unmarshal row for ticket %s", ticket)
	}

	if s.cache != nil {
		if blob, encErr := codec.Encode(r); encErr == nil {
			_ = s.cache.Set(ctx, cacheKey(ticket), blob, s.ttl)
		}
	}

	return rowToResult[O](r)
}

func rowToResult[O any](r row) (*message.ProcessResult[O], error) {
	result := &message.ProcessResult[O]{Success: r.Success, StatusCode: r.StatusCode}

	if r.Success {
		var output O
		if len(r.Output) > 0 {
			if err := codec.Decode(r.Output, &output); err != nil {
				return nil, shoperr.Wrap(shoperr.KindBinaryConversion, err, "decode stored output")
			}
		}
		result.Output = output
		return result, nil
	}

	var errSchema shoperr.ErrorSchema
	if len(r.Error) == 0 || json.Unmarshal([]byte(r.Error), &errSchema) != nil {
		fallback := shoperr.UnknownProcessingError(r.Error)
		result.Err = &fallback
		return result, nil
	}
	result.Err = &errSchema
	return result, nil
}

func cacheKey(ticket string) string {
	return "brew:store:" + ticket
}
