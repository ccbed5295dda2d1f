package socket

import (
	"bytes"
	"io"
	"sync"
)

// MemSource is an in-memory Source for tests and examples. Client
// ends are created with Dial; the matching server ends are handed
// out by Accept in dial order.
type MemSource struct {
	mu      sync.Mutex
	pending []*MemConn
	closed  bool
}

// NewMemSource creates an empty in-memory source.
func NewMemSource() *MemSource {
	return &MemSource{}
}

// Dial creates a connected pair and returns the client end. The
// server end becomes available to the next Accept call.
func (s *MemSource) Dial(remoteAddr string) *MemConn {
	client := &MemConn{remote: "server"}
	server := &MemConn{remote: remoteAddr}
	client.peer = server
	server.peer = client

	s.mu.Lock()
	s.pending = append(s.pending, server)
	s.mu.Unlock()
	return client
}

// Accept returns the next pending server end or ErrWouldBlock.
func (s *MemSource) Accept() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(s.pending) == 0 {
		return nil, ErrWouldBlock
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

// Close marks the source closed.
func (s *MemSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// MemConn is one end of an in-memory connection pair.
type MemConn struct {
	mu     sync.Mutex
	inbox  bytes.Buffer
	peer   *MemConn
	closed bool
	remote string

	// SendWindow caps how many bytes a single Send transfers,
	// forcing the partial-write paths in the encoder. Zero means
	// unlimited.
	SendWindow int
}

// Recv reads buffered bytes, or reports ErrWouldBlock / io.EOF.
func (m *MemConn) Recv(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if m.inbox.Len() == 0 {
		if m.peer.isClosed() {
			return 0, io.EOF
		}
		return 0, ErrWouldBlock
	}
	return m.inbox.Read(buf)
}

// Send transfers up to SendWindow bytes into the peer's inbox.
func (m *MemConn) Send(p []byte) (int, error) {
	m.mu.Lock()
	closed := m.closed
	window := m.SendWindow
	m.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if m.peer.isClosed() {
		return 0, io.EOF
	}
	if window > 0 && len(p) > window {
		p = p[:window]
	}
	if len(p) == 0 {
		return 0, nil
	}
	m.peer.mu.Lock()
	n, _ := m.peer.inbox.Write(p)
	m.peer.mu.Unlock()
	return n, nil
}

// Close marks this end closed. The peer sees io.EOF after draining.
func (m *MemConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// RemoteAddr returns the address given to Dial.
func (m *MemConn) RemoteAddr() string {
	return m.remote
}

func (m *MemConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
