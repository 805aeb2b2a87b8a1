package server

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/record"
	"github.com/DeltaLaboratory/dotted/internal/storage"
)

// Stats counts the commands a node has answered.
type Stats struct {
	Get       int64 `json:"get"`
	Put       int64 `json:"put"`
	Update    int64 `json:"update"`
	Delete    int64 `json:"delete"`
	Options   int64 `json:"options"`
	NotFound  int64 `json:"not_found"`
	Malformed int64 `json:"malformed"`
	Failed    int64 `json:"failed"`
}

type counters struct {
	get, put, update, del, options atomic.Int64
	notFound, malformed, failed    atomic.Int64
}

// Handler applies decoded commands to the store.
type Handler struct {
	store *storage.PebbleStore

	mu      sync.RWMutex
	options protocol.Options
	pushed  bool

	stats counters

	logger zerolog.Logger
}

func NewHandler(store *storage.PebbleStore, logger ...zerolog.Logger) *Handler {
	h := &Handler{store: store}

	if len(logger) > 0 {
		h.logger = logger[0].With().Str("layer", "handler").Logger()
	} else {
		h.logger = zerolog.Nop()
	}

	return h
}

// Handle answers one command. It never fails: storage errors become an
// "ERROR" status.
func (h *Handler) Handle(cmd protocol.Command) protocol.Response {
	switch cmd := cmd.(type) {
	case protocol.Get:
		h.stats.get.Add(1)
		rec, ok, err := h.store.GetRecord(cmd.Table, cmd.Key)
		if err != nil {
			h.fail(cmd, err)
			return protocol.GetResult{Status: protocol.StatusError}
		}
		if !ok {
			h.stats.notFound.Add(1)
			return protocol.GetResult{Status: protocol.StatusNotFound}
		}
		return protocol.GetResult{Status: protocol.StatusOK, Value: record.ToWire(rec)}

	case protocol.Put:
		h.stats.put.Add(1)
		return h.ack(cmd, h.store.PutRecord(cmd.Table, cmd.Key, record.FromWire(cmd.Value)))

	case protocol.Update:
		h.stats.update.Add(1)
		return h.ack(cmd, h.store.MergeRecord(cmd.Table, cmd.Key, record.FromWire(cmd.Value)))

	case protocol.Delete:
		h.stats.del.Add(1)
		existed, err := h.store.DeleteRecord(cmd.Table, cmd.Key)
		if err != nil {
			return h.ack(cmd, err)
		}
		if !existed {
			h.stats.notFound.Add(1)
			return protocol.AckResult{Status: protocol.StatusNotFound}
		}
		return protocol.AckResult{Status: protocol.StatusOK}

	case protocol.Options:
		h.stats.options.Add(1)
		h.mu.Lock()
		h.options, h.pushed = cmd, true
		h.mu.Unlock()
		h.logger.Info().
			Int("sync", cmd.SyncInterval).
			Int("strip", cmd.StripInterval).
			Float32("replication_failure_rate", cmd.ReplicationFailureRate).
			Int("node_failure_rate", cmd.NodeFailureRate).
			Msg("options updated")
		return protocol.AckResult{Status: protocol.StatusOK}
	}

	h.stats.failed.Add(1)
	return protocol.AckResult{Status: protocol.StatusError}
}

// Malformed answers input that could not be decoded as a command.
func (h *Handler) Malformed(err error) protocol.Response {
	h.stats.malformed.Add(1)
	h.logger.Warn().Err(err).Msg("malformed command")
	return protocol.AckResult{Status: protocol.StatusError}
}

func (h *Handler) ack(cmd protocol.Command, err error) protocol.Response {
	if err != nil {
		h.fail(cmd, err)
		return protocol.AckResult{Status: protocol.StatusError}
	}
	return protocol.AckResult{Status: protocol.StatusOK}
}

func (h *Handler) fail(cmd protocol.Command, err error) {
	h.stats.failed.Add(1)
	h.logger.Error().Err(err).Str("command", string(cmd.Code())).Msg("failed to apply command")
}

// Options returns the last pushed fault-injection parameters and whether any
// were pushed at all.
func (h *Handler) Options() (protocol.Options, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.options, h.pushed
}

func (h *Handler) Stats() Stats {
	return Stats{
		Get:       h.stats.get.Load(),
		Put:       h.stats.put.Load(),
		Update:    h.stats.update.Load(),
		Delete:    h.stats.del.Load(),
		Options:   h.stats.options.Load(),
		NotFound:  h.stats.notFound.Load(),
		Malformed: h.stats.malformed.Load(),
		Failed:    h.stats.failed.Load(),
	}
}
