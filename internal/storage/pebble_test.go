package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DeltaLaboratory/dotted/internal/record"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetRecord("usertable", "user1"); err != nil || ok {
		t.Fatalf("GetRecord() on empty store = ok %v, err %v", ok, err)
	}

	want := record.Record{"field0": []byte("AB"), "field1": {}}
	if err := s.PutRecord("usertable", "user1", want); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	got, ok, err := s.GetRecord("usertable", "user1")
	if err != nil || !ok {
		t.Fatalf("GetRecord() = ok %v, err %v", ok, err)
	}
	if !record.Equal(got, want) {
		t.Errorf("GetRecord() = %v, want %v", got, want)
	}

	// Put replaces the whole record.
	if err := s.PutRecord("usertable", "user1", record.Record{"field2": []byte("x")}); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	got, _, _ = s.GetRecord("usertable", "user1")
	if !record.Equal(got, record.Record{"field2": []byte("x")}) {
		t.Errorf("GetRecord() after replace = %v", got)
	}
}

func TestMergeRecord(t *testing.T) {
	s := newTestStore(t)

	if err := s.MergeRecord("t", "k", record.Record{"a": []byte("1")}); err != nil {
		t.Fatalf("MergeRecord() error = %v", err)
	}
	if err := s.MergeRecord("t", "k", record.Record{"a": []byte("2"), "b": []byte("3")}); err != nil {
		t.Fatalf("MergeRecord() error = %v", err)
	}

	got, ok, err := s.GetRecord("t", "k")
	if err != nil || !ok {
		t.Fatalf("GetRecord() = ok %v, err %v", ok, err)
	}
	if want := (record.Record{"a": []byte("2"), "b": []byte("3")}); !record.Equal(got, want) {
		t.Errorf("GetRecord() = %v, want %v", got, want)
	}
}

func TestPutDuringMerge(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("user%d", i)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.PutRecord("t", key, record.Record{"put": []byte("1")}); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.MergeRecord("t", key, record.Record{"merge": []byte("1")}); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		// Either order keeps the put; a merge must never overwrite it.
		got, _, err := s.GetRecord("t", key)
		if err != nil {
			t.Fatalf("GetRecord() error = %v", err)
		}
		if _, ok := got["put"]; !ok {
			t.Fatalf("GetRecord(%s) = %v, lost the put", key, got)
		}
	}
}

func TestDeleteRecord(t *testing.T) {
	s := newTestStore(t)

	if existed, err := s.DeleteRecord("t", "k"); err != nil || existed {
		t.Fatalf("DeleteRecord() on missing = %v, %v", existed, err)
	}
	if err := s.PutRecord("t", "k", record.Record{}); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	if existed, err := s.DeleteRecord("t", "k"); err != nil || !existed {
		t.Fatalf("DeleteRecord() = %v, %v", existed, err)
	}
	if _, ok, _ := s.GetRecord("t", "k"); ok {
		t.Errorf("GetRecord() found a deleted record")
	}
}

func TestTablesAreSeparate(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{"a", "b", "c"} {
		if err := s.PutRecord("t1", key, record.Record{}); err != nil {
			t.Fatalf("PutRecord() error = %v", err)
		}
	}
	if err := s.PutRecord("t10", "a", record.Record{}); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	tests := []struct {
		table string
		want  int
	}{
		{"t1", 3},
		{"t10", 1},
		{"t2", 0},
	}
	for _, tt := range tests {
		if got, err := s.Count(tt.table); err != nil || got != tt.want {
			t.Errorf("Count(%q) = %d, %v, want %d", tt.table, got, err, tt.want)
		}
	}
}

func TestReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")

	s, err := NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("NewPebbleStore() error = %v", err)
	}
	if err := s.PutRecord("t", "k", record.Record{"f": []byte("v")}); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s, err = NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("NewPebbleStore() error = %v", err)
	}
	defer s.Close()

	got, ok, err := s.GetRecord("t", "k")
	if err != nil || !ok || !record.Equal(got, record.Record{"f": []byte("v")}) {
		t.Errorf("GetRecord() after reopen = %v, %v, %v", got, ok, err)
	}
}
