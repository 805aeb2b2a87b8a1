package pool

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DeltaLaboratory/dotted/internal/rpc"
)

var (
	ErrNotConnected = errors.New("connection was never established")
	ErrClosed       = errors.New("connection is closed")
)

// Conn is a long-lived connection to one endpoint. A Conn whose dial failed
// stays in the pool and fails every round trip with ErrNotConnected. A round
// trip that fails after writing closes the Conn; later ones fail with ErrClosed.
type Conn struct {
	endpoint Endpoint
	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	dialErr  error

	// mu serializes round trips: one request and its reply own the stream.
	mu       sync.Mutex
	inFlight atomic.Int64
	closed   atomic.Bool
}

func newConn(endpoint Endpoint, conn net.Conn) *Conn {
	return &Conn{
		endpoint: endpoint,
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
	}
}

func brokenConn(endpoint Endpoint, err error) *Conn {
	return &Conn{endpoint: endpoint, dialErr: err}
}

func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// Err returns the dial error of a broken entry, nil otherwise.
func (c *Conn) Err() error {
	return c.dialErr
}

func (c *Conn) Connected() bool {
	return c.dialErr == nil && !c.closed.Load()
}

// InFlight is the number of round trips waiting on or holding the connection.
func (c *Conn) InFlight() int64 {
	return c.inFlight.Load()
}

// RoundTrip writes payload as one frame and reads one frame back. The
// earlier of the context deadline and timeout (when > 0) bounds the whole
// exchange; with neither, the read blocks until the node answers.
func (c *Conn) RoundTrip(ctx context.Context, framer rpc.Framer, payload []byte, limit int, timeout time.Duration) ([]byte, error) {
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	if c.dialErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotConnected, c.endpoint, c.dialErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, fmt.Errorf("%w: %s", ErrClosed, c.endpoint)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if timeout > 0 {
		if d := time.Now().Add(timeout); !ok || d.Before(deadline) {
			deadline, ok = d, true
		}
	}
	if ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	// Cancellation interrupts a blocked write or read by expiring the deadline.
	// The callback must finish before the lock is released, or it could
	// expire the next round trip's deadline.
	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(expired)
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-expired
		}
	}()

	// Once the request is on the wire, an unfinished exchange leaves its reply
	// in the stream; the connection is closed so no later round trip reads it.
	if err := framer.WriteFrame(c.w, payload); err != nil {
		return nil, c.abandon(ctx, "write", err)
	}
	reply, err := framer.ReadFrame(c.r, limit)
	if err != nil {
		return nil, c.abandon(ctx, "read", err)
	}
	return reply, nil
}

func (c *Conn) abandon(ctx context.Context, op string, err error) error {
	wrapped := c.wrap(ctx, op, err)
	if closeErr := c.Close(); closeErr != nil {
		return errors.Join(wrapped, closeErr)
	}
	return wrapped
}

func (c *Conn) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("failed to %s %s: %w", op, c.endpoint, ctxErr)
	}
	if c.closed.Load() {
		return fmt.Errorf("failed to %s %s: %w: %w", op, c.endpoint, ErrClosed, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, c.endpoint, err)
}

// Close shuts the output side, the input side, then the transport. Every
// step runs even if an earlier one fails. Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.dialErr != nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if hc, ok := c.conn.(interface {
		CloseWrite() error
		CloseRead() error
	}); ok {
		if err := hc.CloseWrite(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
		if err := hc.CloseRead(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	return errors.Join(errs...)
}
