// cmd/server/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/dotted/internal/logging"
	"github.com/DeltaLaboratory/dotted/internal/rpc"
	"github.com/DeltaLaboratory/dotted/internal/server"
	"github.com/DeltaLaboratory/dotted/internal/storage"
)

type Config struct {
	Addr      string
	AdminAddr string
	DataDir   string
	Memory    bool
	Framing   string
	LogLevel  string
	LogFile   string
}

func main() {
	cfg := parseFlags()

	logger, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()
	logging.NewALogAdapter(logger).Install()

	framer, err := rpc.ParseFramer(cfg.Framing)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid framing")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("addr", cfg.Addr).
		Str("admin_addr", cfg.AdminAddr).
		Str("data_dir", cfg.DataDir).
		Bool("memory", cfg.Memory).
		Str("framing", framer.Name()).
		Msg("Starting node")

	node := server.NewNode(store, server.Config{Framer: framer}, logger)
	if err := node.Listen(cfg.Addr); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start node")
	}
	if cfg.AdminAddr != "" {
		if _, err := node.ListenAdmin(cfg.AdminAddr); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start admin server")
		}
	}

	go func() {
		if err := node.Serve(); err != nil {
			logger.Fatal().Err(err).Msg("Node stopped")
		}
	}()

	// Wait for interrupt signal
	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt, syscall.SIGTERM)
	<-terminate

	logger.Info().Msg("Shutting down node")
	if err := node.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop node")
	}
}

func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:10017", "Node TCP address")
	flag.StringVar(&cfg.AdminAddr, "admin-addr", "", "Inspection RPC address (disabled when empty)")
	flag.StringVar(&cfg.DataDir, "data-dir", "data", "Directory to store data")
	flag.BoolVar(&cfg.Memory, "memory", false, "Keep data in memory only")
	flag.StringVar(&cfg.Framing, "framing", "stream", "Message framing: stream, single-read or length-prefixed")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Log file (stderr when empty)")

	flag.Parse()
	return cfg
}

func openStore(cfg *Config, logger zerolog.Logger) (*storage.PebbleStore, error) {
	if cfg.Memory {
		return storage.NewMemoryStore(logger)
	}

	dir := filepath.Join(cfg.DataDir, "store")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return storage.NewPebbleStore(dir, logger)
}
