// Package storage holds the records served by the mock node.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/DeltaLaboratory/dotted/internal/record"
)

// keySeparator cannot appear in a table name the driver accepts from the
// harness in practice, so (table, key) pairs map to distinct store keys.
const keySeparator = "\x00"

type PebbleStore struct {
	db *pebble.DB

	// mu serializes writes with read-modify-write merges.
	mu sync.Mutex

	logger zerolog.Logger
}

// NewPebbleStore opens (or creates) a store in path.
func NewPebbleStore(path string, logger ...zerolog.Logger) (*PebbleStore, error) {
	return open(path, &pebble.Options{}, logger)
}

// NewMemoryStore opens a store backed by an in-memory filesystem.
func NewMemoryStore(logger ...zerolog.Logger) (*PebbleStore, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(path string, opts *pebble.Options, logger []zerolog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}

	s := &PebbleStore{db: db}
	if len(logger) > 0 {
		s.logger = logger[0].With().Str("layer", "storage").Logger()
	} else {
		s.logger = zerolog.Nop()
	}
	return s, nil
}

func storeKey(table, key string) []byte {
	return []byte(table + keySeparator + key)
}

// GetRecord returns the stored record, or ok == false when there is none.
func (s *PebbleStore) GetRecord(table, key string) (rec record.Record, ok bool, err error) {
	value, closer, err := s.db.Get(storeKey(table, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	defer func() {
		if err := closer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close pebble value")
		}
	}()

	// value is only valid until closer is closed; Unmarshal copies.
	rec = record.Record{}
	if err := msgpack.Unmarshal(value, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s/%s: %w", table, key, err)
	}
	return rec, true, nil
}

// PutRecord replaces the record.
func (s *PebbleStore) PutRecord(table, key string, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.put(table, key, rec)
}

func (s *PebbleStore) put(table, key string, rec record.Record) error {
	if rec == nil {
		rec = record.Record{}
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, key, err)
	}
	if err := s.db.Set(storeKey(table, key), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", table, key, err)
	}
	return nil
}

// MergeRecord overlays fields onto the stored record, creating it when absent.
func (s *PebbleStore) MergeRecord(table, key string, fields record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.GetRecord(table, key)
	if err != nil {
		return err
	}
	if !ok {
		rec = record.Record{}
	}
	for f, v := range fields {
		rec[f] = v
	}
	return s.put(table, key, rec)
}

// DeleteRecord removes the record and reports whether it existed.
func (s *PebbleStore) DeleteRecord(table, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey(table, key)
	_, closer, err := s.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s/%s: %w", table, key, err)
	}
	_ = closer.Close()

	if err := s.db.Delete(k, pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", table, key, err)
	}
	return true, nil
}

// Count returns the number of records in table.
func (s *PebbleStore) Count(table string) (int, error) {
	lower := []byte(table + keySeparator)
	upper := []byte(table + "\x01")

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
