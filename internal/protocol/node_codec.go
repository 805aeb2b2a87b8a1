package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// commandArity is the number of array elements each command is written with,
// the code included.
var commandArity = map[Code]int{
	CodeGet:     3,
	CodeDelete:  3,
	CodePut:     4,
	CodeUpdate:  4,
	CodeOptions: 5,
}

// DecodeCommand is the node-side counterpart of Encode.
func (c Codec) DecodeCommand(data []byte) (Command, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	cmd, err := decodeCommand(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode command: %w", ErrMalformed, err)
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after %s", ErrMalformed, r.Len(), cmd.Code())
	}
	return cmd, nil
}

func decodeCommand(dec *msgpack.Decoder) (Command, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, fmt.Errorf("expected a command array, got %d elements", n)
	}
	code, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("code: %w", err)
	}

	want, ok := commandArity[Code(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, code)
	}
	if n != want {
		return nil, fmt.Errorf("%s expects %d elements, got %d", code, want, n)
	}

	if Code(code) == CodeOptions {
		var opt Options
		if opt.SyncInterval, err = dec.DecodeInt(); err != nil {
			return nil, fmt.Errorf("sync_interval: %w", err)
		}
		if opt.StripInterval, err = dec.DecodeInt(); err != nil {
			return nil, fmt.Errorf("strip_interval: %w", err)
		}
		if opt.ReplicationFailureRate, err = dec.DecodeFloat32(); err != nil {
			return nil, fmt.Errorf("replication_failure_rate: %w", err)
		}
		if opt.NodeFailureRate, err = dec.DecodeInt(); err != nil {
			return nil, fmt.Errorf("node_failure_rate: %w", err)
		}
		return opt, nil
	}

	table, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("table: %w", err)
	}
	key, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}

	switch Code(code) {
	case CodeGet:
		return Get{Table: table, Key: key}, nil
	case CodeDelete:
		return Delete{Table: table, Key: key}, nil
	}

	value, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("value: %w", err)
	}
	if Code(code) == CodePut {
		return Put{Table: table, Key: key, Value: value}, nil
	}
	return Update{Table: table, Key: key, Value: value}, nil
}

// EncodeResponse is the node-side counterpart of Decode. Responses are
// written positionally.
func (c Codec) EncodeResponse(resp Response) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	var err error
	switch resp := resp.(type) {
	case GetResult:
		if err = enc.EncodeArrayLen(2); err == nil {
			if err = enc.EncodeString(resp.Status); err == nil {
				err = c.encodeValue(enc, resp.Value, true)
			}
		}
	case AckResult:
		if err = enc.EncodeArrayLen(1); err == nil {
			err = enc.EncodeString(resp.Status)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownShape, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", resp.Shape(), err)
	}

	return buf.Bytes(), nil
}
