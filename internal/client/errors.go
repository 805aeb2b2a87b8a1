package client

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/DeltaLaboratory/dotted/internal/pool"
	"github.com/DeltaLaboratory/dotted/internal/protocol"
)

// Kind classifies why an operation failed.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalid
	KindConnect
	KindTimeout
	KindTransport
	KindEncode
	KindDecode
	KindServerRejected
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindEncode:
		return "encode"
	case KindDecode:
		return "decode"
	case KindServerRejected:
		return "server_rejected"
	default:
		return "unknown"
	}
}

var (
	ErrServerRejected = errors.New("server rejected request")
	ErrInvalidRequest = errors.New("invalid request")
)

// OpError is the error returned by every failed operation.
type OpError struct {
	Op       string
	Endpoint string
	Kind     Kind
	// Status is the node's reply status for KindServerRejected.
	Status string
	Err    error
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Endpoint != "" {
		msg += " " + e.Endpoint
	}
	msg += ": " + e.Kind.String()
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %q)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, KindUnknown when err is not an *OpError.
func KindOf(err error) Kind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindUnknown
}

// transportKind sorts a round trip failure into connect, timeout or transport.
func transportKind(err error) Kind {
	switch {
	case errors.Is(err, pool.ErrNotConnected), errors.Is(err, pool.ErrClosed):
		return KindConnect
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}

func statusError(op, endpoint string, resp protocol.Response) error {
	return &OpError{
		Op:       op,
		Endpoint: endpoint,
		Kind:     KindServerRejected,
		Status:   resp.StatusCode(),
		Err:      ErrServerRejected,
	}
}
