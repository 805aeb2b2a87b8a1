// Package faults pushes fault-injection parameters to every cluster node.
package faults

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/client"
	"github.com/DeltaLaboratory/dotted/internal/protocol"
)

const (
	DefaultSyncInterval           = 200
	DefaultStripInterval          = 2000
	DefaultReplicationFailureRate = 0
	DefaultNodeFailureRate        = 0
)

var ErrInvalidParams = errors.New("invalid fault-injection parameters")

// Params configures the simulated failures on a node. Intervals are in
// milliseconds.
type Params struct {
	SyncInterval           int
	StripInterval          int
	ReplicationFailureRate float32
	NodeFailureRate        int
}

// Disabled turns fault injection off while keeping the default sync and
// strip intervals.
func Disabled() Params {
	return Params{
		SyncInterval:           DefaultSyncInterval,
		StripInterval:          DefaultStripInterval,
		ReplicationFailureRate: DefaultReplicationFailureRate,
		NodeFailureRate:        DefaultNodeFailureRate,
	}
}

func (p Params) Validate() error {
	switch {
	case p.SyncInterval < 0:
		return fmt.Errorf("%w: sync interval %d is negative", ErrInvalidParams, p.SyncInterval)
	case p.StripInterval < 0:
		return fmt.Errorf("%w: strip interval %d is negative", ErrInvalidParams, p.StripInterval)
	case math.IsNaN(float64(p.ReplicationFailureRate)) || p.ReplicationFailureRate < 0 || p.ReplicationFailureRate > 1:
		return fmt.Errorf("%w: replication failure rate %v is outside [0, 1]", ErrInvalidParams, p.ReplicationFailureRate)
	case p.NodeFailureRate < 0:
		return fmt.Errorf("%w: node failure rate %d is negative", ErrInvalidParams, p.NodeFailureRate)
	}
	return nil
}

func (p Params) command() protocol.Options {
	return protocol.Options{
		SyncInterval:           p.SyncInterval,
		StripInterval:          p.StripInterval,
		ReplicationFailureRate: p.ReplicationFailureRate,
		NodeFailureRate:        p.NodeFailureRate,
	}
}

// Outcome is the result of pushing to one endpoint.
type Outcome struct {
	Endpoint string
	Acked    bool
	Status   string
	Err      error
}

type Controller struct {
	client *client.Client
	logger zerolog.Logger
}

func New(c *client.Client, logger ...zerolog.Logger) *Controller {
	ctl := &Controller{client: c}

	if len(logger) > 0 {
		ctl.logger = logger[0].With().Str("layer", "faults").Logger()
	} else {
		ctl.logger = zerolog.Nop()
	}

	return ctl
}

// Push sends p to every connection of the pool, one after another. A node
// that fails to acknowledge is logged and the push moves on.
func (ctl *Controller) Push(ctx context.Context, p Params) []Outcome {
	cmd := p.command()
	conns := ctl.client.Pool().Conns()
	outcomes := make([]Outcome, 0, len(conns))

	for _, conn := range conns {
		out := Outcome{Endpoint: conn.Endpoint().String()}

		resp, err := ctl.client.Exchange(ctx, conn, cmd)
		if resp != nil {
			out.Status = resp.StatusCode()
		}
		out.Err = err
		out.Acked = err == nil

		if out.Acked {
			ctl.logger.Info().
				Str("endpoint", out.Endpoint).
				Int("sync", p.SyncInterval).
				Int("strip", p.StripInterval).
				Float32("replication_failure_rate", p.ReplicationFailureRate).
				Int("node_failure_rate", p.NodeFailureRate).
				Msg("options applied")
		} else {
			ctl.logger.Warn().
				Err(err).
				Str("endpoint", out.Endpoint).
				Str("status", out.Status).
				Msg("options not set")
		}

		outcomes = append(outcomes, out)
	}

	return outcomes
}

// Failed counts the outcomes that were not acknowledged.
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.Acked {
			n++
		}
	}
	return n
}
