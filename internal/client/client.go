// Package client runs the request/response cycle of each data operation.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/pool"
	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/record"
	"github.com/DeltaLaboratory/dotted/internal/rpc"
)

const (
	// RecordBufferSize is the receive buffer for replies that carry a record.
	RecordBufferSize = 10 * 1024
	// AckBufferSize is the receive buffer for acknowledgement-only replies.
	AckBufferSize = 128
)

// BufferSizes are the receive limits handed to the framer per reply shape.
// Only size-aware framings honour them.
type BufferSizes struct {
	Get int
	Ack int
}

type Config struct {
	Codec   protocol.Codec
	Framer  rpc.Framer
	Buffers BufferSizes
	// Timeout bounds each round trip when > 0. With zero and no context
	// deadline a read waits for the node indefinitely.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Framer:  rpc.Stream,
		Buffers: BufferSizes{Get: RecordBufferSize, Ack: RecordBufferSize},
	}
}

type Client struct {
	pool   *pool.Pool
	config Config
	logger zerolog.Logger
}

func New(p *pool.Pool, config Config, logger ...zerolog.Logger) *Client {
	if config.Framer == nil {
		config.Framer = rpc.Stream
	}

	c := &Client{
		pool:   p,
		config: config,
	}

	if len(logger) > 0 {
		c.logger = logger[0].With().Str("layer", "client").Logger()
	} else {
		c.logger = zerolog.Nop()
	}

	return c
}

func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Read fetches the record stored under table/key.
func (c *Client) Read(ctx context.Context, table, key string) (record.Record, error) {
	const op = "read"
	if err := validate(op, table, key); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, op, table, key, protocol.Get{Table: table, Key: key})
	if err != nil {
		return nil, err
	}

	res, ok := resp.(protocol.GetResult)
	if !ok {
		return nil, &OpError{Op: op, Kind: KindDecode, Err: fmt.Errorf("unexpected response %T", resp)}
	}
	return record.FromWire(res.Value), nil
}

// Insert stores rec under table/key. rec may be empty.
func (c *Client) Insert(ctx context.Context, table, key string, rec record.Record) error {
	const op = "insert"
	if err := validate(op, table, key); err != nil {
		return err
	}

	_, err := c.do(ctx, op, table, key, protocol.Put{Table: table, Key: key, Value: record.ToWire(rec)})
	return err
}

func (c *Client) Update(ctx context.Context, table, key string, rec record.Record) error {
	const op = "update"
	if err := validate(op, table, key); err != nil {
		return err
	}

	_, err := c.do(ctx, op, table, key, protocol.Update{Table: table, Key: key, Value: record.ToWire(rec)})
	return err
}

func (c *Client) Delete(ctx context.Context, table, key string) error {
	const op = "delete"
	if err := validate(op, table, key); err != nil {
		return err
	}

	_, err := c.do(ctx, op, table, key, protocol.Delete{Table: table, Key: key})
	return err
}

// Scan is not supported by the cluster. It succeeds without touching the
// network and returns no records.
func (c *Client) Scan(ctx context.Context, table, startKey string, count int) ([]record.Record, error) {
	c.logger.Debug().Str("table", table).Str("start_key", startKey).Int("count", count).Msg("scan is a no-op")
	return nil, nil
}

// Exchange sends cmd on conn and returns the decoded reply. A reply whose
// status is not "OK" is returned together with a KindServerRejected error.
func (c *Client) Exchange(ctx context.Context, conn *pool.Conn, cmd protocol.Command) (protocol.Response, error) {
	return c.exchange(ctx, string(cmd.Code()), conn, cmd)
}

func (c *Client) do(ctx context.Context, op, table, key string, cmd protocol.Command) (protocol.Response, error) {
	conn, err := c.pool.Acquire(routingKey(table, key))
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindConnect, Err: err}
	}

	resp, err := c.exchange(ctx, op, conn, cmd)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Str("kind", KindOf(err).String()).Msg("operation failed")
		return nil, err
	}
	return resp, nil
}

func (c *Client) exchange(ctx context.Context, op string, conn *pool.Conn, cmd protocol.Command) (protocol.Response, error) {
	endpoint := conn.Endpoint().String()

	payload, err := c.config.Codec.Encode(cmd)
	if err != nil {
		return nil, &OpError{Op: op, Endpoint: endpoint, Kind: KindEncode, Err: err}
	}

	raw, err := conn.RoundTrip(ctx, c.config.Framer, payload, c.limit(cmd.Expects()), c.config.Timeout)
	if err != nil {
		return nil, &OpError{Op: op, Endpoint: endpoint, Kind: transportKind(err), Err: err}
	}

	resp, err := c.config.Codec.Decode(raw, cmd.Expects())
	if err != nil {
		return nil, &OpError{Op: op, Endpoint: endpoint, Kind: KindDecode, Err: err}
	}

	if !resp.OK() {
		return resp, statusError(op, endpoint, resp)
	}
	return resp, nil
}

func (c *Client) limit(shape protocol.Shape) int {
	switch shape {
	case protocol.ShapeGet:
		return c.config.Buffers.Get
	case protocol.ShapeAck:
		return c.config.Buffers.Ack
	default:
		return 0
	}
}

func routingKey(table, key string) []byte {
	return []byte(table + "\x00" + key)
}

func validate(op, table, key string) error {
	if table == "" || key == "" {
		return &OpError{Op: op, Kind: KindInvalid, Err: fmt.Errorf("%w: table and key are required", ErrInvalidRequest)}
	}
	return nil
}
