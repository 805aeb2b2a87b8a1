// Package driver binds the cluster client to a benchmarking harness.
//
// A harness creates a DB, calls Init once with its properties, issues
// operations from any number of goroutines, and finally calls Cleanup.
// Operation failures are reported only as Error; the cause is logged.
package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/client"
	"github.com/DeltaLaboratory/dotted/internal/config"
	"github.com/DeltaLaboratory/dotted/internal/faults"
	"github.com/DeltaLaboratory/dotted/internal/pool"
	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/record"
	"github.com/DeltaLaboratory/dotted/internal/rpc"
)

// Status is the harness result code of an operation.
type Status int

const (
	OK    Status = 0
	Error Status = -1
)

func (s Status) String() string {
	if s == OK {
		return "OK"
	}
	return "ERROR"
}

var (
	ErrInit            = errors.New("failed to initialize driver")
	ErrUnknownDriver   = errors.New("unknown driver")
	ErrNotInitialized  = errors.New("driver is not initialized")
	ErrInitialized     = errors.New("driver is already initialized")
	ErrNoFaultInjector = errors.New("driver has no fault injection")
)

// DB is the operation contract a harness drives.
type DB interface {
	Init(ctx context.Context, props config.Properties) error
	Read(ctx context.Context, table, key string, fields []string, result record.Record) Status
	Insert(ctx context.Context, table, key string, values record.Record) Status
	Update(ctx context.Context, table, key string, values record.Record) Status
	Delete(ctx context.Context, table, key string) Status
	Scan(ctx context.Context, table, startKey string, count int, fields []string, result *[]record.Record) Status
	Cleanup(ctx context.Context) error
}

var _ DB = (*Driver)(nil)

type variant struct {
	name           string
	prefix         string
	ackBuffer      int
	faultInjection bool
}

var (
	basicVariant = variant{
		name:      "basic",
		prefix:    config.PrefixBasic,
		ackBuffer: client.RecordBufferSize,
	}
	dottedVariant = variant{
		name:           "dotted",
		prefix:         config.PrefixDotted,
		ackBuffer:      client.AckBufferSize,
		faultInjection: true,
	}
)

type Driver struct {
	variant variant

	pool   *pool.Pool
	client *client.Client
	faults *faults.Controller

	logger zerolog.Logger
}

// NewBasic returns the plain driver: data operations only.
func NewBasic(logger ...zerolog.Logger) *Driver {
	return newDriver(basicVariant, logger)
}

// NewDotted returns the fault-injection driver. Init pushes the configured
// failure parameters to every node and Cleanup switches them off again.
func NewDotted(logger ...zerolog.Logger) *Driver {
	return newDriver(dottedVariant, logger)
}

// New returns the driver registered under name.
func New(name string, logger ...zerolog.Logger) (*Driver, error) {
	switch name {
	case basicVariant.name:
		return NewBasic(logger...), nil
	case dottedVariant.name:
		return NewDotted(logger...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
}

func newDriver(v variant, logger []zerolog.Logger) *Driver {
	d := &Driver{variant: v}

	if len(logger) > 0 {
		d.logger = logger[0].With().Str("layer", "driver").Str("driver", v.name).Logger()
	} else {
		d.logger = zerolog.Nop()
	}

	return d
}

func (d *Driver) Name() string {
	return d.variant.name
}

// Client exposes the underlying client once Init has succeeded.
func (d *Driver) Client() *client.Client {
	return d.client
}

func (d *Driver) initError(err error) error {
	return fmt.Errorf("%w %s: %w", ErrInit, d.variant.name, err)
}

// Init parses the configuration, connects to every host and, for the
// fault-injection driver, pushes the configured parameters. Configuration
// errors fail Init; unreachable hosts do not. A second Init fails until
// Cleanup has run.
func (d *Driver) Init(ctx context.Context, props config.Properties) error {
	if d.pool != nil {
		return d.initError(ErrInitialized)
	}

	settings, err := props.Settings(d.variant.prefix)
	if err != nil {
		return d.initError(err)
	}

	endpoints, err := pool.ParseEndpoints(settings.Hosts)
	if err != nil {
		return d.initError(err)
	}
	framer, err := rpc.ParseFramer(settings.Framing)
	if err != nil {
		return d.initError(err)
	}
	selector, err := pool.ParseSelector(settings.Selection)
	if err != nil {
		return d.initError(err)
	}

	params := faults.Params{
		SyncInterval:           settings.SyncInterval,
		StripInterval:          settings.StripInterval,
		ReplicationFailureRate: settings.ReplicationFailureRate,
		NodeFailureRate:        settings.NodeFailureRate,
	}
	if d.variant.faultInjection {
		if err := params.Validate(); err != nil {
			return d.initError(err)
		}
	}

	d.pool = pool.New(ctx, endpoints,
		pool.WithSelector(selector),
		pool.WithDialTimeout(settings.DialTimeout),
		pool.WithLogger(d.logger),
	)
	d.client = client.New(d.pool, client.Config{
		Codec:   protocol.Codec{LegacyRaw: settings.LegacyRaw},
		Framer:  framer,
		Buffers: client.BufferSizes{Get: client.RecordBufferSize, Ack: d.variant.ackBuffer},
		Timeout: settings.RequestTimeout,
	}, d.logger)

	d.logger.Info().
		Int("endpoints", d.pool.Size()).
		Str("framing", framer.Name()).
		Str("selection", selector.Name()).
		Msg("driver initialized")

	if d.variant.faultInjection {
		d.faults = faults.New(d.client, d.logger)
		d.faults.Push(ctx, params)
	}

	return nil
}

// PushOptions sends fault-injection parameters to every node.
func (d *Driver) PushOptions(ctx context.Context, params faults.Params) ([]faults.Outcome, error) {
	if d.faults == nil {
		if d.client == nil {
			return nil, ErrNotInitialized
		}
		return nil, ErrNoFaultInjector
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return d.faults.Push(ctx, params), nil
}

func (d *Driver) status(op string, err error) Status {
	if err == nil {
		return OK
	}
	d.logger.Debug().Err(err).Str("op", op).Str("kind", client.KindOf(err).String()).Msg("operation failed")
	return Error
}

// Read fills result with the requested fields of the record (all fields when
// fields is empty).
func (d *Driver) Read(ctx context.Context, table, key string, fields []string, result record.Record) Status {
	if d.client == nil {
		return d.status("read", ErrNotInitialized)
	}

	rec, err := d.client.Read(ctx, table, key)
	if err != nil {
		return d.status("read", err)
	}
	for field, value := range record.Project(rec, fields) {
		if result != nil {
			result[field] = value
		}
	}
	return OK
}

func (d *Driver) Insert(ctx context.Context, table, key string, values record.Record) Status {
	if d.client == nil {
		return d.status("insert", ErrNotInitialized)
	}
	return d.status("insert", d.client.Insert(ctx, table, key, values))
}

func (d *Driver) Update(ctx context.Context, table, key string, values record.Record) Status {
	if d.client == nil {
		return d.status("update", ErrNotInitialized)
	}
	return d.status("update", d.client.Update(ctx, table, key, values))
}

func (d *Driver) Delete(ctx context.Context, table, key string) Status {
	if d.client == nil {
		return d.status("delete", ErrNotInitialized)
	}
	return d.status("delete", d.client.Delete(ctx, table, key))
}

// Scan always succeeds and leaves result untouched.
func (d *Driver) Scan(ctx context.Context, table, startKey string, count int, fields []string, result *[]record.Record) Status {
	if d.client != nil {
		_, _ = d.client.Scan(ctx, table, startKey, count)
	}
	return OK
}

// Cleanup switches fault injection off (fault-injection driver) and closes
// every connection. It is safe to call more than once.
func (d *Driver) Cleanup(ctx context.Context) error {
	if d.pool == nil {
		return nil
	}

	if d.faults != nil {
		d.faults.Push(ctx, faults.Disabled())
	}
	if failed := d.pool.Close(); failed > 0 {
		d.logger.Warn().Int("failed", failed).Msg("some connections did not close cleanly")
	}

	d.pool, d.client, d.faults = nil, nil, nil
	return nil
}
