// Package pool keeps one long-lived connection per cluster endpoint.
package pool

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
)

var ErrEmptyPool = errors.New("pool has no connections")

type Pool struct {
	conns    []*Conn
	selector Selector

	dialTimeout time.Duration
	logger      zerolog.Logger
}

type Option func(*Pool)

func WithSelector(s Selector) Option {
	return func(p *Pool) { p.selector = s }
}

// WithDialTimeout bounds each connection attempt. Zero leaves it to the OS.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) { p.dialTimeout = d }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) { p.logger = logger.With().Str("layer", "pool").Logger() }
}

// New connects to every endpoint in order. An endpoint that cannot be
// resolved or connected is logged and kept as a broken entry.
func New(ctx context.Context, endpoints []Endpoint, opts ...Option) *Pool {
	p := &Pool{
		selector: Random{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	dialer := net.Dialer{Timeout: p.dialTimeout}
	for _, ep := range endpoints {
		p.logger.Info().Str("endpoint", ep.String()).Msg("connecting")

		nc, err := dialer.DialContext(ctx, "tcp", ep.String())
		if err != nil {
			p.logger.Warn().Err(err).Str("endpoint", ep.String()).Msg("failed to connect, keeping broken entry")
			p.conns = append(p.conns, brokenConn(ep, err))
			continue
		}
		p.conns = append(p.conns, newConn(ep, nc))
	}

	return p
}

// Acquire selects a connection for a request on key. There is no health
// check: a broken entry is returned like any other.
func (p *Pool) Acquire(key []byte) (*Conn, error) {
	if len(p.conns) == 0 {
		return nil, ErrEmptyPool
	}
	return p.conns[p.selector.Pick(p.conns, key)], nil
}

// Conns returns every entry in configuration order.
func (p *Pool) Conns() []*Conn {
	return p.conns
}

func (p *Pool) Size() int {
	return len(p.conns)
}

func (p *Pool) Selector() Selector {
	return p.selector
}

// Close closes every connection. Failures are logged, not returned, so one
// bad connection does not keep the rest open; the count is returned.
func (p *Pool) Close() int {
	failed := 0
	for _, c := range p.conns {
		if err := c.Close(); err != nil {
			failed++
			p.logger.Warn().Err(err).Str("endpoint", c.Endpoint().String()).Msg("failed to close connection")
		}
	}
	return failed
}
