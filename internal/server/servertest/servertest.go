// Package servertest starts in-memory nodes on loopback for tests.
package servertest

import (
	"testing"

	"github.com/DeltaLaboratory/dotted/internal/server"
	"github.com/DeltaLaboratory/dotted/internal/storage"
)

// Start runs a node backed by an in-memory store on 127.0.0.1 and stops it
// when the test ends.
func Start(tb testing.TB, config server.Config) *server.Node {
	tb.Helper()

	store, err := storage.NewMemoryStore()
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}

	node := server.NewNode(store, config)
	if err := node.Listen("127.0.0.1:0"); err != nil {
		store.Close()
		tb.Fatalf("failed to listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- node.Serve() }()

	tb.Cleanup(func() {
		if err := node.Stop(); err != nil {
			tb.Errorf("failed to stop node: %v", err)
		}
		if err := <-done; err != nil {
			tb.Errorf("node stopped with: %v", err)
		}
		if err := store.Close(); err != nil {
			tb.Errorf("failed to close store: %v", err)
		}
	})

	return node
}
