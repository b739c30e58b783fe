// File: protocol/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Default api.Codec implementation: simple-query encoding and the
// per-frame protocol transition consumed by the session actor.

package protocol

import (
	"encoding/binary"

	"github.com/momentics/pgsession/api"
)

// Codec is the default PostgreSQL v3 codec. Zero value is usable; use
// NewCodec to register value-conversion extensions.
type Codec struct {
	decoders map[uint32]api.ValueDecoder
}

var _ api.Codec = (*Codec)(nil)

// NewCodec builds a codec with per-OID value decoders. Fields whose
// type OID is unregistered decode to string.
func NewCodec(decoders map[uint32]api.ValueDecoder) *Codec {
	return &Codec{decoders: decoders}
}

// EncodeQuery encodes one simple-query command.
func (c *Codec) EncodeQuery(statement string) ([]byte, error) {
	if statement == "" {
		return nil, api.NewError(api.ErrCodeUsage, "empty statement")
	}
	payload := appendCString(nil, statement)
	return AppendFrame(nil, msgQueryQ, payload), nil
}

// EncodeTerminate encodes the graceful session termination command.
func (c *Codec) EncodeTerminate() []byte {
	return AppendFrame(nil, msgTerminateX, nil)
}

// OnMessage advances protocol state for one decoded frame.
func (c *Codec) OnMessage(f api.Frame, x *api.Exchange) api.MessageEvent {
	switch f.Type {
	case msgReadyForQueryZ:
		if len(f.Payload) != 1 {
			return fatalf("malformed ReadyForQuery payload")
		}
		return api.MessageEvent{Done: true, TxStatus: f.Payload[0]}

	case msgRowDescriptionT:
		if x == nil {
			return fatalf("RowDescription outside an exchange")
		}
		cols, err := parseRowDescription(f.Payload)
		if err != nil {
			return fatalf("%v", err)
		}
		x.Result.Columns = cols
		return api.MessageEvent{}

	case msgDataRowD:
		if x == nil {
			return fatalf("DataRow outside an exchange")
		}
		row, err := c.parseDataRow(f.Payload, x.Result.Columns)
		if err != nil {
			return fatalf("%v", err)
		}
		x.Result.Rows = append(x.Result.Rows, row)
		return api.MessageEvent{}

	case msgCommandCompleteC:
		if x == nil {
			return fatalf("CommandComplete outside an exchange")
		}
		tag, _, err := cstring(f.Payload)
		if err != nil {
			return fatalf("%v", err)
		}
		x.Result.CommandTag = tag
		return api.MessageEvent{}

	case msgEmptyQueryResponseI:
		return api.MessageEvent{}

	case msgErrorResponseE:
		serr := parseErrorFields(f.Payload, api.ErrCodeServer)
		if x == nil {
			// Asynchronous fatal error, e.g. server shutdown.
			return api.MessageEvent{Fatal: serr}
		}
		x.Err = serr
		return api.MessageEvent{}

	case msgNoticeResponseN:
		return api.MessageEvent{Notice: parseErrorFields(f.Payload, api.ErrCodeServer)}

	case msgNotificationA:
		n, err := parseNotification(f.Payload)
		if err != nil {
			return fatalf("%v", err)
		}
		return api.MessageEvent{Notification: n}

	case msgParameterStatusS:
		name, rest, err := cstring(f.Payload)
		if err != nil {
			return fatalf("%v", err)
		}
		value, _, err := cstring(rest)
		if err != nil {
			return fatalf("%v", err)
		}
		return api.MessageEvent{Parameter: &api.ServerParameter{Name: name, Value: value}}

	case msgNoDatan, msgParameterDescription:
		return api.MessageEvent{}

	default:
		return fatalf("unexpected message type %q", f.Type)
	}
}

func fatalf(format string, args ...any) api.MessageEvent {
	return api.MessageEvent{Fatal: api.Errorf(api.ErrCodeProtocol, format, args...)}
}

// parseRowDescription decodes a 'T' payload: column count followed by
// per-column name, table OID, attnum, type OID, size, modifier, format.
func parseRowDescription(payload []byte) ([]api.Column, error) {
	if len(payload) < 2 {
		return nil, errMalformed("RowDescription")
	}
	count := int(binary.BigEndian.Uint16(payload))
	rest := payload[2:]
	cols := make([]api.Column, 0, count)
	for i := 0; i < count; i++ {
		name, r, err := cstring(rest)
		if err != nil {
			return nil, errMalformed("RowDescription")
		}
		if len(r) < 18 {
			return nil, errMalformed("RowDescription")
		}
		cols = append(cols, api.Column{
			Name:    name,
			TypeOID: binary.BigEndian.Uint32(r[6:10]),
		})
		rest = r[18:]
	}
	return cols, nil
}

// parseDataRow decodes a 'D' payload: field count then per-field signed
// length (-1 marks NULL) and bytes.
func (c *Codec) parseDataRow(payload []byte, cols []api.Column) ([]any, error) {
	if len(payload) < 2 {
		return nil, errMalformed("DataRow")
	}
	count := int(binary.BigEndian.Uint16(payload))
	rest := payload[2:]
	row := make([]any, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return nil, errMalformed("DataRow")
		}
		flen := int32(binary.BigEndian.Uint32(rest))
		rest = rest[4:]
		if flen < 0 {
			row = append(row, nil)
			continue
		}
		if int(flen) > len(rest) {
			return nil, errMalformed("DataRow")
		}
		field := rest[:flen]
		rest = rest[flen:]
		var oid uint32
		if i < len(cols) {
			oid = cols[i].TypeOID
		}
		if dec, ok := c.decoders[oid]; ok {
			v, err := dec(field)
			if err != nil {
				return nil, err
			}
			row = append(row, v)
			continue
		}
		row = append(row, string(field))
	}
	return row, nil
}

// parseNotification decodes an 'A' payload: sender PID, channel name,
// payload text.
func parseNotification(payload []byte) (*api.Notification, error) {
	if len(payload) < 4 {
		return nil, errMalformed("NotificationResponse")
	}
	pid := binary.BigEndian.Uint32(payload)
	channel, rest, err := cstring(payload[4:])
	if err != nil {
		return nil, errMalformed("NotificationResponse")
	}
	text, _, err := cstring(rest)
	if err != nil {
		return nil, errMalformed("NotificationResponse")
	}
	return &api.Notification{ConnID: pid, Channel: channel, Payload: text}, nil
}

// parseErrorFields decodes the tagged field list shared by
// ErrorResponse and NoticeResponse.
func parseErrorFields(payload []byte, code api.ErrorCode) *api.Error {
	e := api.NewError(code, "unknown server error")
	rest := payload
	for len(rest) > 0 && rest[0] != 0 {
		tag := rest[0]
		value, r, err := cstring(rest[1:])
		if err != nil {
			break
		}
		switch tag {
		case 'S':
			e.Severity = value
		case 'C':
			e.SQLState = value
		case 'M':
			e.Message = value
		case 'D':
			e.WithContext("detail", value)
		case 'H':
			e.WithContext("hint", value)
		}
		rest = r
	}
	return e
}

func errMalformed(msg string) error {
	return api.Errorf(api.ErrCodeProtocol, "malformed %s message", msg)
}
