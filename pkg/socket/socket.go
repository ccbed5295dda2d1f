// Package socket defines the non-blocking socket capability the
// server is driven by. The server never opens sockets itself: a
// Source is handed to it, so the transport (plain TCP, TLS, an
// in-memory pair in tests) stays outside the protocol engine.
package socket

import "errors"

// ErrWouldBlock is returned by non-blocking operations when no
// progress can be made right now. Callers retry on a later poll.
var ErrWouldBlock = errors.New("socket: operation would block")

// ErrClosed is returned when operating on a closed socket.
var ErrClosed = errors.New("socket: closed")

// Source accepts incoming connections without blocking.
type Source interface {
	// Accept returns the next pending connection, or ErrWouldBlock
	// when none is waiting.
	Accept() (Conn, error)

	// Close releases the underlying listener.
	Close() error
}

// Conn is a single accepted connection with non-blocking semantics.
//
// Recv and Send transfer whatever the transport can take right now
// and report ErrWouldBlock instead of waiting. io.EOF from Recv
// signals that the peer closed the connection.
type Conn interface {
	// Recv reads up to len(buf) bytes. It returns (0, ErrWouldBlock)
	// when no data is available and (0, io.EOF) on peer close.
	Recv(buf []byte) (int, error)

	// Send writes bytes from p, possibly fewer than len(p). It
	// returns (0, ErrWouldBlock) when the transport cannot accept
	// any bytes right now.
	Send(p []byte) (int, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// RemoteAddr returns the client address, e.g. "192.168.1.7:40684".
	RemoteAddr() string
}
