package faults_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/client"
	"github.com/DeltaLaboratory/dotted/internal/faults"
	"github.com/DeltaLaboratory/dotted/internal/pool"
	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/server"
	"github.com/DeltaLaboratory/dotted/internal/server/servertest"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  faults.Params
		wantErr bool
	}{
		{"Disabled", faults.Disabled(), false},
		{"Full failure rate", faults.Params{SyncInterval: 1, StripInterval: 1, ReplicationFailureRate: 1, NodeFailureRate: 5}, false},
		{"Negative sync", faults.Params{SyncInterval: -1}, true},
		{"Negative strip", faults.Params{StripInterval: -1}, true},
		{"Rate above one", faults.Params{ReplicationFailureRate: 1.01}, true},
		{"Negative rate", faults.Params{ReplicationFailureRate: -0.1}, true},
		{"NaN rate", faults.Params{ReplicationFailureRate: float32(math.NaN())}, true},
		{"Negative node rate", faults.Params{NodeFailureRate: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, faults.ErrInvalidParams) {
				t.Errorf("Validate() error = %v, want %v", err, faults.ErrInvalidParams)
			}
		})
	}
}

func TestDisabled(t *testing.T) {
	want := faults.Params{SyncInterval: 200, StripInterval: 2000}
	if got := faults.Disabled(); got != want {
		t.Errorf("Disabled() = %+v, want %+v", got, want)
	}
}

func TestPushReachesEveryNode(t *testing.T) {
	nodes := []*server.Node{
		servertest.Start(t, server.Config{}),
		servertest.Start(t, server.Config{}),
		servertest.Start(t, server.Config{}),
	}
	c := newClient(t, nodes)

	var logs bytes.Buffer
	ctl := faults.New(c, zerolog.New(&logs))

	// The second connection is gone before the push starts.
	if err := c.Pool().Conns()[1].Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	params := faults.Params{SyncInterval: 100, StripInterval: 1000, ReplicationFailureRate: 0.5, NodeFailureRate: 1}
	outcomes := ctl.Push(context.Background(), params)

	if len(outcomes) != len(nodes) {
		t.Fatalf("Push() returned %d outcomes, want %d", len(outcomes), len(nodes))
	}
	if got := faults.Failed(outcomes); got != 1 {
		t.Errorf("Failed() = %d, want 1", got)
	}
	if outcomes[1].Acked || client.KindOf(outcomes[1].Err) != client.KindConnect {
		t.Errorf("outcome for closed connection = %+v", outcomes[1])
	}

	if got := strings.Count(logs.String(), `"message":"options not set"`); got != 1 {
		t.Errorf("logged %d failures, want 1:\n%s", got, logs.String())
	}
	if got := strings.Count(logs.String(), `"message":"options applied"`); got != 2 {
		t.Errorf("logged %d successes, want 2:\n%s", got, logs.String())
	}

	want := protocol.Options{SyncInterval: 100, StripInterval: 1000, ReplicationFailureRate: 0.5, NodeFailureRate: 1}
	for i, node := range nodes {
		got, pushed := node.Handler().Options()
		if i == 1 {
			if pushed {
				t.Errorf("node %d received options over a closed connection", i)
			}
			continue
		}
		if !pushed || got != want {
			t.Errorf("node %d Options() = %+v, %v, want %+v", i, got, pushed, want)
		}
	}
}

func TestPushDisabled(t *testing.T) {
	node := servertest.Start(t, server.Config{})
	c := newClient(t, []*server.Node{node})

	outcomes := faults.New(c).Push(context.Background(), faults.Disabled())
	if len(outcomes) != 1 || !outcomes[0].Acked || outcomes[0].Status != protocol.StatusOK {
		t.Errorf("Push() = %+v", outcomes)
	}
}

func newClient(t *testing.T, nodes []*server.Node) *client.Client {
	t.Helper()

	hosts := make([]string, len(nodes))
	for i, n := range nodes {
		hosts[i] = n.Addr().String()
	}
	endpoints, err := pool.ParseEndpoints(strings.Join(hosts, ","))
	if err != nil {
		t.Fatalf("ParseEndpoints() error = %v", err)
	}

	p := pool.New(context.Background(), endpoints)
	t.Cleanup(func() { p.Close() })
	return client.New(p, client.DefaultConfig())
}
