// Package logging builds the zerolog logger shared by the binaries.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level string
	// File, when set, sends JSON lines to a size-rotated file instead of the
	// console.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger and a closer for its sink.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		l, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = l
	}

	if opts.File == "" {
		logger := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
		})).Level(level).With().Timestamp().Logger()
		return logger, nopCloser{}, nil
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 10
	}
	sink := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     30,
		Compress:   true,
	}

	logger := zerolog.New(sink).Level(level).With().Timestamp().Logger()
	return logger, sink, nil
}
