// Package codec implements the binary wire encoding exchanged with the
// embedder: a one-byte protocol version followed by a msgpack body. The
// scalar value domain travels through msgpack extension types so a round
// trip of any legal IR reproduces an equal IR.
package codec

import (
	"bytes"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mr-fatalyst/oxyde/oxerr"
	"github.com/mr-fatalyst/oxyde/query/ir"
)

// Version is the wire protocol version carried in the frame header.
const Version byte = 0x01

// Extension type ids for the non-native members of the value domain.
// time.Time uses msgpack's built-in timestamp extension.
const (
	extUUID    int8 = 1
	extDecimal int8 = 2
	extDate    int8 = 3
	extJSON    int8 = 4
)

func init() {
	msgpack.RegisterExtEncoder(extUUID, uuid.UUID{}, func(_ *msgpack.Encoder, v reflect.Value) ([]byte, error) {
		u := v.Interface().(uuid.UUID)
		return u[:], nil
	})
	msgpack.RegisterExtDecoder(extUUID, uuid.UUID{}, func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return err
		}
		u, err := uuid.FromBytes(data)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(u))
		return nil
	})

	msgpack.RegisterExtEncoder(extDecimal, ir.Decimal(""), func(_ *msgpack.Encoder, v reflect.Value) ([]byte, error) {
		return []byte(v.Interface().(ir.Decimal)), nil
	})
	msgpack.RegisterExtDecoder(extDecimal, ir.Decimal(""), func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(ir.Decimal(data)))
		return nil
	})

	msgpack.RegisterExtEncoder(extDate, ir.Date(""), func(_ *msgpack.Encoder, v reflect.Value) ([]byte, error) {
		return []byte(v.Interface().(ir.Date)), nil
	})
	msgpack.RegisterExtDecoder(extDate, ir.Date(""), func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(ir.Date(data)))
		return nil
	})

	msgpack.RegisterExtEncoder(extJSON, ir.JSON{}, func(_ *msgpack.Encoder, v reflect.Value) ([]byte, error) {
		return msgpack.Marshal(v.Interface().(ir.JSON).Doc)
	})
	msgpack.RegisterExtDecoder(extJSON, ir.JSON{}, func(d *msgpack.Decoder, v reflect.Value, extLen int) error {
		data := make([]byte, extLen)
		if err := d.ReadFull(data); err != nil {
			return err
		}
		var doc any
		if err := msgpack.Unmarshal(data, &doc); err != nil {
			return err
		}
		v.Set(reflect.ValueOf(ir.JSON{Doc: doc}))
		return nil
	})
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, oxerr.Wrap(oxerr.KindProtocol, err, "encode failed")
	}
	return buf.Bytes(), nil
}

func unmarshal(data []byte, v any) error {
	if len(data) < 2 {
		return oxerr.New(oxerr.KindProtocol, "frame too short (%d bytes)", len(data))
	}
	if data[0] != Version {
		return oxerr.New(oxerr.KindProtocol, "unsupported protocol version 0x%02x", data[0])
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data[1:]))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return oxerr.Wrap(oxerr.KindProtocol, err, "decode failed")
	}
	return nil
}

// EncodeIR frames a QueryIR for the wire.
func EncodeIR(q *ir.QueryIR) ([]byte, error) {
	if q.Proto == 0 {
		q.Proto = ir.ProtoVersion
	}
	return marshal(q)
}

// DecodeIR parses a framed QueryIR. Frame-level failures are PROTOCOL errors;
// structural validation is the caller's concern.
func DecodeIR(data []byte) (*ir.QueryIR, error) {
	var q ir.QueryIR
	if err := unmarshal(data, &q); err != nil {
		return nil, err
	}
	if q.Proto != ir.ProtoVersion {
		return nil, oxerr.New(oxerr.KindProtocol, "unsupported IR proto %d", q.Proto)
	}
	return &q, nil
}

// normalizeDecoded converts decoded wire values into the canonical value domain.
func normalizeDecoded(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
