package rpc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// DefaultReadLimit is the receive buffer used when a caller passes no limit.
	DefaultReadLimit = 10 * 1024

	headerSize = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds read limit")
	ErrEmptyFrame    = errors.New("empty frame")
	ErrUnknownFramer = errors.New("unknown framing")
)

// Framer decides where one message ends on a connection's byte stream.
type Framer interface {
	Name() string
	WriteFrame(w *bufio.Writer, payload []byte) error
	// ReadFrame returns the next message. limit caps the accepted size where
	// the framing has a notion of one; limit <= 0 selects DefaultReadLimit.
	ReadFrame(r *bufio.Reader, limit int) ([]byte, error)
}

var (
	Stream         Framer = streamFramer{}
	SingleRead     Framer = singleReadFramer{}
	LengthPrefixed Framer = lengthPrefixedFramer{}
)

// ParseFramer maps a configuration name to its Framer.
func ParseFramer(name string) (Framer, error) {
	for _, f := range []Framer{Stream, SingleRead, LengthPrefixed} {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFramer, name)
}

func writeAll(w *bufio.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return w.Flush()
}

// streamFramer writes bare messages and reads exactly one MessagePack object,
// using the encoding's own boundary. There is no size ceiling.
type streamFramer struct{}

func (streamFramer) Name() string { return "stream" }

func (streamFramer) WriteFrame(w *bufio.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	return writeAll(w, payload)
}

func (streamFramer) ReadFrame(r *bufio.Reader, _ int) ([]byte, error) {
	// bufio.Reader is an io.ByteScanner, so the decoder reads no further than
	// the end of the object.
	raw, err := msgpack.NewDecoder(r).DecodeRaw()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// singleReadFramer issues one read into a fixed buffer and takes whatever
// arrived. A reply larger than the buffer, or split across segments, comes
// back truncated.
type singleReadFramer struct{}

func (singleReadFramer) Name() string { return "single-read" }

func (singleReadFramer) WriteFrame(w *bufio.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	return writeAll(w, payload)
}

func (singleReadFramer) ReadFrame(r *bufio.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	buf := make([]byte, limit)
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return nil, err
	}
	return buf[:n], nil
}

// lengthPrefixedFramer puts a 4 byte big-endian length in front of every
// message. Both ends must agree on it.
type lengthPrefixedFramer struct{}

func (lengthPrefixedFramer) Name() string { return "length-prefixed" }

func (lengthPrefixedFramer) WriteFrame(w *bufio.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return writeAll(w, header, payload)
}

func (lengthPrefixedFramer) ReadFrame(r *bufio.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 {
		return nil, ErrEmptyFrame
	}
	if uint64(size) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, limit)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}
	return payload, nil
}
