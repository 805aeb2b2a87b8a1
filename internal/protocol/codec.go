package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnknownShape   = errors.New("unknown response shape")
)

// Codec translates commands and responses to and from MessagePack.
//
// Commands are written positionally as arrays whose first element is the
// command code, e.g. ["PUT", table, key, {field: bytes}]. Responses are read
// either positionally ([status] or [status, value]) or as maps keyed by
// "status" and "value".
type Codec struct {
	// LegacyRaw writes byte values with str headers instead of bin headers,
	// for nodes whose decoder predates the bin format family.
	LegacyRaw bool
}

func (c Codec) Encode(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	var err error
	switch cmd := cmd.(type) {
	case Get:
		err = c.encodeKeyed(enc, CodeGet, cmd.Table, cmd.Key)
	case Delete:
		err = c.encodeKeyed(enc, CodeDelete, cmd.Table, cmd.Key)
	case Put:
		err = c.encodeWithValue(enc, CodePut, cmd.Table, cmd.Key, cmd.Value)
	case Update:
		err = c.encodeWithValue(enc, CodeUpdate, cmd.Table, cmd.Key, cmd.Value)
	case Options:
		err = encodeOptions(enc, cmd)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", cmd.Code(), err)
	}

	return buf.Bytes(), nil
}

func (c Codec) encodeKeyed(enc *msgpack.Encoder, code Code, table, key string) error {
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	return encodeStrings(enc, string(code), table, key)
}

func (c Codec) encodeWithValue(enc *msgpack.Encoder, code Code, table, key string, value map[string][]byte) error {
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := encodeStrings(enc, string(code), table, key); err != nil {
		return err
	}
	return c.encodeValue(enc, value, false)
}

func encodeOptions(enc *msgpack.Encoder, opt Options) error {
	if err := enc.EncodeArrayLen(5); err != nil {
		return err
	}
	if err := enc.EncodeString(string(CodeOptions)); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(opt.SyncInterval)); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(opt.StripInterval)); err != nil {
		return err
	}
	if err := enc.EncodeFloat32(opt.ReplicationFailureRate); err != nil {
		return err
	}
	return enc.EncodeInt(int64(opt.NodeFailureRate))
}

func encodeStrings(enc *msgpack.Encoder, values ...string) error {
	for _, v := range values {
		if err := enc.EncodeString(v); err != nil {
			return err
		}
	}
	return nil
}

// encodeValue writes a record map with fields in sorted order so that equal
// records always produce equal bytes. A nil map is written as nil only when
// nilable is set; commands always carry a map.
func (c Codec) encodeValue(enc *msgpack.Encoder, value map[string][]byte, nilable bool) error {
	if value == nil && nilable {
		return enc.EncodeNil()
	}

	fields := make([]string, 0, len(value))
	for f := range value {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	if err := enc.EncodeMapLen(len(fields)); err != nil {
		return err
	}
	for _, f := range fields {
		if err := enc.EncodeString(f); err != nil {
			return err
		}
		if err := c.encodeBytes(enc, value[f]); err != nil {
			return err
		}
	}
	return nil
}

func (c Codec) encodeBytes(enc *msgpack.Encoder, b []byte) error {
	if c.LegacyRaw {
		return enc.EncodeString(string(b))
	}
	if b == nil {
		b = []byte{}
	}
	return enc.EncodeBytes(b)
}

// Decode reads a single response of the given shape. Decoding against the
// wrong shape fails rather than yielding a partially filled response.
func (c Codec) Decode(data []byte, shape Shape) (Response, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	var (
		resp Response
		err  error
	)
	switch shape {
	case ShapeGet:
		resp, err = decodeGetResult(dec)
	case ShapeAck:
		resp, err = decodeAckResult(dec)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownShape, shape)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrMalformed, shape, err)
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformed, r.Len(), shape)
	}

	return resp, nil
}

func decodeGetResult(dec *msgpack.Decoder) (Response, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	var res GetResult
	switch {
	case isArray(code):
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n != 2 {
			return nil, fmt.Errorf("expected 2 elements, got %d", n)
		}
		if res.Status, err = dec.DecodeString(); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		if res.Value, err = decodeValue(dec); err != nil {
			return nil, fmt.Errorf("value: %w", err)
		}

	case isMap(code):
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		var hasStatus, hasValue bool
		for range n {
			name, err := dec.DecodeString()
			if err != nil {
				return nil, err
			}
			switch name {
			case "status":
				res.Status, err = dec.DecodeString()
				hasStatus = true
			case "value":
				res.Value, err = decodeValue(dec)
				hasValue = true
			default:
				return nil, fmt.Errorf("unexpected field %q", name)
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
		}
		if !hasStatus || !hasValue {
			return nil, fmt.Errorf("missing fields (status: %t, value: %t)", hasStatus, hasValue)
		}

	default:
		return nil, fmt.Errorf("unexpected code 0x%x", code)
	}

	return res, nil
}

func decodeAckResult(dec *msgpack.Decoder) (Response, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	var res AckResult
	switch {
	case isArray(code):
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, fmt.Errorf("expected 1 element, got %d", n)
		}
		if res.Status, err = dec.DecodeString(); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}

	case isMap(code):
		n, err := dec.DecodeMapLen()
		if err != nil {
			return nil, err
		}
		if n != 1 {
			return nil, fmt.Errorf("expected 1 field, got %d", n)
		}
		name, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		if name != "status" {
			return nil, fmt.Errorf("unexpected field %q", name)
		}
		if res.Status, err = dec.DecodeString(); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}

	default:
		return nil, fmt.Errorf("unexpected code 0x%x", code)
	}

	return res, nil
}

// decodeValue accepts both bin and str encoded values; their bytes are never
// interpreted.
func decodeValue(dec *msgpack.Decoder) (map[string][]byte, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}

	value := make(map[string][]byte, n)
	for range n {
		field, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		b, err := dec.DecodeBytes()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		if b == nil {
			b = []byte{}
		}
		value[field] = b
	}
	return value, nil
}

func isArray(code byte) bool {
	return msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32
}

func isMap(code byte) bool {
	return msgpcode.IsFixedMap(code) || code == msgpcode.Map16 || code == msgpcode.Map32
}
