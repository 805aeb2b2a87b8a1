package pool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/DeltaLaboratory/dotted/internal/rpc"
)

// startEcho serves frames back to the sender until the test ends.
func startEcho(t *testing.T, framer rpc.Framer) Endpoint {
	t.Helper()
	return startServer(t, func(conn net.Conn) {
		r, w := bufio.NewReader(conn), bufio.NewWriter(conn)
		for {
			frame, err := framer.ReadFrame(r, 1<<20)
			if err != nil {
				return
			}
			if err := framer.WriteFrame(w, frame); err != nil {
				return
			}
		}
	})
}

func startServer(t *testing.T, serve func(net.Conn)) Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	var (
		mu     sync.Mutex
		conns  []net.Conn
		closed bool
		wg     sync.WaitGroup
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		closed = true
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
		wg.Wait()
	})

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			if closed {
				mu.Unlock()
				conn.Close()
				return
			}
			conns = append(conns, conn)
			wg.Add(1)
			mu.Unlock()

			go func() {
				defer wg.Done()
				defer conn.Close()
				serve(conn)
			}()
		}
	}()

	return endpointOf(t, ln.Addr())
}

// silent reads requests and never answers.
func silent(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

func endpointOf(t *testing.T, addr net.Addr) Endpoint {
	t.Helper()
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		t.Fatalf("SplitHostPort() error = %v", err)
	}
	p, _ := strconv.Atoi(port)
	return Endpoint{Host: host, Port: p}
}

// closedPort returns an endpoint nothing listens on.
func closedPort(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ep := endpointOf(t, ln.Addr())
	ln.Close()
	return ep
}

func payload(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return b
}

func TestNewKeepsBrokenEntries(t *testing.T) {
	up := startEcho(t, rpc.Stream)
	down := closedPort(t)

	p := New(context.Background(), []Endpoint{up, down, up})
	defer p.Close()

	if p.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", p.Size())
	}
	for i, c := range p.Conns() {
		wantConnected := i != 1
		if c.Connected() != wantConnected {
			t.Errorf("Conns()[%d].Connected() = %v, want %v", i, c.Connected(), wantConnected)
		}
	}
	if p.Conns()[1].Err() == nil {
		t.Errorf("broken entry has no dial error")
	}

	_, err := p.Conns()[1].RoundTrip(context.Background(), rpc.Stream, payload(t, "x"), 0, 0)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("RoundTrip() error = %v, want %v", err, ErrNotConnected)
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	p := New(context.Background(), nil)
	if _, err := p.Acquire(nil); !errors.Is(err, ErrEmptyPool) {
		t.Errorf("Acquire() error = %v, want %v", err, ErrEmptyPool)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, framer := range []rpc.Framer{rpc.Stream, rpc.LengthPrefixed} {
		t.Run(framer.Name(), func(t *testing.T) {
			p := New(context.Background(), []Endpoint{startEcho(t, framer)}, WithSelector(&RoundRobin{}))
			defer p.Close()

			conn, err := p.Acquire([]byte("k"))
			if err != nil {
				t.Fatalf("Acquire() error = %v", err)
			}

			want := payload(t, []any{"PUT", "usertable", "user1", map[string][]byte{"field0": []byte("AB")}})
			got, err := conn.RoundTrip(context.Background(), framer, want, 0, time.Second)
			if err != nil {
				t.Fatalf("RoundTrip() error = %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("RoundTrip() = %x, want %x", got, want)
			}
			if conn.InFlight() != 0 {
				t.Errorf("InFlight() = %d after round trip", conn.InFlight())
			}
		})
	}
}

func TestRoundTripConcurrent(t *testing.T) {
	p := New(context.Background(), []Endpoint{startEcho(t, rpc.Stream)})
	defer p.Close()
	conn := p.Conns()[0]

	const workers, rounds = 16, 50

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				want, _ := msgpack.Marshal(fmt.Sprintf("worker-%d-round-%d", w, i))
				got, err := conn.RoundTrip(context.Background(), rpc.Stream, want, 0, 5*time.Second)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(got, want) {
					errs <- fmt.Errorf("got %q, want %q", got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestRoundTripTimeout(t *testing.T) {
	p := New(context.Background(), []Endpoint{startServer(t, silent)})
	defer p.Close()

	start := time.Now()
	_, err := p.Conns()[0].RoundTrip(context.Background(), rpc.Stream, payload(t, "x"), 0, 100*time.Millisecond)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("RoundTrip() error = %v, want %v", err, os.ErrDeadlineExceeded)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("RoundTrip() took %v", elapsed)
	}
}

func TestRoundTripTimeoutClosesConn(t *testing.T) {
	p := New(context.Background(), []Endpoint{startServer(t, silent)})
	defer p.Close()

	conn := p.Conns()[0]
	if _, err := conn.RoundTrip(context.Background(), rpc.Stream, payload(t, "x"), 0, 50*time.Millisecond); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("RoundTrip() error = %v, want %v", err, os.ErrDeadlineExceeded)
	}
	if conn.Connected() {
		t.Errorf("Connected() = true after an abandoned round trip")
	}
	if _, err := conn.RoundTrip(context.Background(), rpc.Stream, payload(t, "y"), 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("second RoundTrip() error = %v, want %v", err, ErrClosed)
	}
}

func TestRoundTripContextCancel(t *testing.T) {
	p := New(context.Background(), []Endpoint{startServer(t, silent)})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := p.Conns()[0].RoundTrip(ctx, rpc.Stream, payload(t, "x"), 0, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RoundTrip() error = %v, want %v", err, context.Canceled)
	}
}

func TestClose(t *testing.T) {
	p := New(context.Background(), []Endpoint{startEcho(t, rpc.Stream), closedPort(t)})

	if failed := p.Close(); failed != 0 {
		t.Errorf("Close() failed = %d, want 0", failed)
	}
	if failed := p.Close(); failed != 0 {
		t.Errorf("second Close() failed = %d, want 0", failed)
	}

	conn := p.Conns()[0]
	if conn.Connected() {
		t.Errorf("Connected() = true after Close")
	}
	if _, err := conn.RoundTrip(context.Background(), rpc.Stream, payload(t, "x"), 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("RoundTrip() error = %v, want %v", err, ErrClosed)
	}
}
