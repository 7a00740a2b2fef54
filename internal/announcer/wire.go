package announcer

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/oriys/brew/internal/message"
	"github.com/oriys/brew/internal/shoperr"
)

// Wire field numbers for MulticastMessage, per spec §4.5.
const (
	fieldTask      = protowire.Number(1)
	fieldTicket    = protowire.Number(2)
	fieldKind      = protowire.Number(3)
	fieldStatus    = protowire.Number(4)
	fieldTimestamp = protowire.Number(5)
)

// maxDatagram bounds a single receive read, per spec §4.5.
const maxDatagram = 1024

// encodeMessage renders msg as a protobuf-wire-format byte string:
// {task, id (=ticket), kind, status, timestamp (unix millis)}.
func encodeMessage(msg message.MulticastMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTask, protowire.BytesType)
	b = protowire.AppendString(b, msg.Task)
	b = protowire.AppendTag(b, fieldTicket, protowire.BytesType)
	b = protowire.AppendString(b, msg.Ticket)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(msg.Kind)))
	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(msg.Status)))
	b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Timestamp.UnixMilli()))
	return b
}

// decodeMessage reverses encodeMessage. Unknown fields are skipped
// rather than rejected, so the wire format can grow without breaking
// older Announcers, matching the original schema's forward-compatible
// intent.
func decodeMessage(data []byte) (message.MulticastMessage, error) {
	var msg message.MulticastMessage
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume tag")
		}
		data = data[n:]

		switch num {
		case fieldTask:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume task")
			}
			msg.Task = v
			data = data[n:]
		case fieldTicket:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume ticket")
			}
			msg.Ticket = v
			data = data[n:]
		case fieldKind:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume kind")
			}
			msg.Kind = message.Kind(int32(v))
			data = data[n:]
		case fieldStatus:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume status")
			}
			msg.Status = message.Status(int32(v))
			data = data[n:]
		case fieldTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "consume timestamp")
			}
			msg.Timestamp = time.UnixMilli(int64(v)).UTC()
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return msg, shoperr.Wrap(shoperr.KindBinaryConversion, protowire.ParseError(n), "skip unknown field %d", num)
			}
			data = data[n:]
		}
	}
	return msg, nil
}
