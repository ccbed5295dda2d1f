package socket

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// ioGrace is how far in the future the per-operation deadline is
// placed. A deadline in the past makes net refuse the operation
// outright, so a small positive window is required; it bounds how
// long a single Recv/Send/Accept may wait.
const ioGrace = time.Millisecond

// TCPSource adapts a net.Listener to the non-blocking Source
// contract using immediate deadlines.
type TCPSource struct {
	ln net.Listener
}

// Listen opens a TCP listener on addr and wraps it as a Source.
func Listen(addr string) (*TCPSource, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPSource{ln: ln}, nil
}

// NewTCPSource wraps an existing listener, e.g. one carrying TLS.
func NewTCPSource(ln net.Listener) *TCPSource {
	return &TCPSource{ln: ln}
}

// Addr returns the listener's address.
func (s *TCPSource) Addr() net.Addr {
	return s.ln.Addr()
}

// Accept returns a pending connection or ErrWouldBlock.
func (s *TCPSource) Accept() (Conn, error) {
	type deadliner interface {
		SetDeadline(time.Time) error
	}
	if d, ok := s.ln.(deadliner); ok {
		d.SetDeadline(time.Now().Add(ioGrace))
	}
	c, err := s.ln.Accept()
	if err != nil {
		return nil, mapNetErr(err)
	}
	return &tcpConn{c: c}, nil
}

// Close closes the listener.
func (s *TCPSource) Close() error {
	return s.ln.Close()
}

// tcpConn wraps a net.Conn with per-operation deadlines so every
// Recv/Send returns quickly, satisfied or not.
type tcpConn struct {
	c net.Conn
}

func (t *tcpConn) Recv(buf []byte) (int, error) {
	t.c.SetReadDeadline(time.Now().Add(ioGrace))
	n, err := t.c.Read(buf)
	if n > 0 {
		return n, nil
	}
	return 0, mapNetErr(err)
}

func (t *tcpConn) Send(p []byte) (int, error) {
	t.c.SetWriteDeadline(time.Now().Add(ioGrace))
	n, err := t.c.Write(p)
	if n > 0 {
		return n, nil
	}
	return 0, mapNetErr(err)
}

func (t *tcpConn) Close() error {
	return t.c.Close()
}

func (t *tcpConn) RemoteAddr() string {
	return t.c.RemoteAddr().String()
}

// mapNetErr folds transport errors into the Source/Conn contract:
// deadline misses become ErrWouldBlock, peer resets become io.EOF.
func mapNetErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrWouldBlock
	case errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return io.EOF
	case errors.Is(err, net.ErrClosed):
		return ErrClosed
	default:
		return err
	}
}
