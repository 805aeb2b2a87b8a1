// Package server runs a single-process stand-in for a cluster node. It speaks
// the same wire protocol as the real nodes, which makes it the loopback
// target for the driver's tests and for local experiments.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lesismal/arpc"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/protocol"
	"github.com/DeltaLaboratory/dotted/internal/rpc"
	"github.com/DeltaLaboratory/dotted/internal/storage"
)

const (
	// DefaultReadLimit caps a command on size-aware framings.
	DefaultReadLimit = 1 << 20

	adminCallTimeout = 5 * time.Second
)

var ErrNotListening = errors.New("node is not listening")

type Config struct {
	Codec     protocol.Codec
	Framer    rpc.Framer
	ReadLimit int
}

type Node struct {
	handler *Handler
	config  Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopping bool
	wg       sync.WaitGroup

	admin *arpc.Server

	logger zerolog.Logger
}

func NewNode(store *storage.PebbleStore, config Config, logger ...zerolog.Logger) *Node {
	if config.Framer == nil {
		config.Framer = rpc.Stream
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = DefaultReadLimit
	}

	n := &Node{
		config: config,
		conns:  make(map[net.Conn]struct{}),
	}
	if len(logger) > 0 {
		n.logger = logger[0].With().Str("layer", "node").Logger()
	} else {
		n.logger = zerolog.Nop()
	}
	n.handler = NewHandler(store, n.logger)

	return n
}

func (n *Node) Handler() *Handler {
	return n.handler
}

// Start listens on addr and serves until Stop is called.
func (n *Node) Start(addr string) error {
	if err := n.Listen(addr); err != nil {
		return err
	}
	return n.Serve()
}

func (n *Node) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()

	n.logger.Info().Str("addr", ln.Addr().String()).Str("framing", n.config.Framer.Name()).Msg("node listening")
	return nil
}

// Addr is the bound data address, nil before Listen.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// Serve accepts connections until the listener is closed. It returns nil
// after Stop.
func (n *Node) Serve() error {
	n.mu.Lock()
	ln := n.listener
	n.mu.Unlock()
	if ln == nil {
		return ErrNotListening
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			n.mu.Lock()
			stopping := n.stopping
			n.mu.Unlock()
			if stopping {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		n.mu.Lock()
		if n.stopping {
			n.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		n.conns[conn] = struct{}{}
		n.wg.Add(1)
		n.mu.Unlock()

		go n.serveConn(conn)
	}
}

func (n *Node) serveConn(conn net.Conn) {
	defer n.wg.Done()
	defer func() {
		n.mu.Lock()
		delete(n.conns, conn)
		n.mu.Unlock()
		_ = conn.Close()
	}()

	logger := n.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Debug().Msg("connection accepted")

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		frame, err := n.config.Framer.ReadFrame(r, n.config.ReadLimit)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Debug().Msg("connection closed")
				return
			}
			// The stream cannot be resynchronized after a bad frame.
			n.reply(w, n.handler.Malformed(err), logger)
			return
		}

		cmd, err := n.config.Codec.DecodeCommand(frame)
		if err != nil {
			// A frame that is not a command may be one of several objects the
			// peer meant as a single message; answer once and drop the peer.
			n.reply(w, n.handler.Malformed(err), logger)
			return
		}

		if !n.reply(w, n.handler.Handle(cmd), logger) {
			return
		}
	}
}

func (n *Node) reply(w *bufio.Writer, resp protocol.Response, logger zerolog.Logger) bool {
	payload, err := n.config.Codec.EncodeResponse(resp)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode response")
		return false
	}
	if err := n.config.Framer.WriteFrame(w, payload); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
		return false
	}
	return true
}

// ListenAdmin serves the inspection RPC on addr in the background and
// returns the bound address.
func (n *Node) ListenAdmin(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	admin := arpc.NewServer()
	admin.Handler.Handle(RouteOptions, n.handleOptions)
	admin.Handler.Handle(RouteStats, n.handleStats)

	n.mu.Lock()
	n.admin = admin
	n.mu.Unlock()

	go func() {
		if err := admin.Serve(ln); err != nil {
			n.logger.Debug().Err(err).Msg("admin server stopped")
		}
	}()

	n.logger.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	return ln.Addr(), nil
}

// Stop closes the listeners and every open connection, then waits for the
// connection goroutines to return. The store stays open.
func (n *Node) Stop() error {
	n.mu.Lock()
	n.stopping = true
	ln, admin := n.listener, n.admin
	for conn := range n.conns {
		_ = conn.Close()
	}
	n.mu.Unlock()

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close listener: %w", err))
		}
	}
	if admin != nil {
		if err := admin.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop admin server: %w", err))
		}
	}

	n.wg.Wait()
	return errors.Join(errs...)
}
