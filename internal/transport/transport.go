// Package transport moves packed frames between connections and postboxes.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

// MaxFrameSize bounds a single frame on every transport.
const MaxFrameSize = 16 << 20

// Conn is a frame oriented connection. ReadFrame and WriteFrame may be called from
// different goroutines, but each from at most one goroutine at a time.
type Conn interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	RemoteAddr() string
	Close() error
}

// Listener hands out accepted connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// IsClosed reports whether err only means the peer or the local side went away.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
