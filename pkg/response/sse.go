package response

import (
	"errors"
	"strconv"
	"strings"
	"sync"
)

// ErrStreamClosed is returned when sending on a closed event stream.
var ErrStreamClosed = errors.New("response: event stream closed")

// Stream is the server half of a Server-Sent Events response.
// SendEvent may be called at any time after the handler returns; the
// encoded frames queue up and are drained on subsequent poll cycles.
type Stream struct {
	mu     sync.Mutex
	queue  []byte
	closed bool
}

// NewStream creates an open event stream.
func NewStream() *Stream {
	return &Stream{}
}

// EventOption customizes one outgoing event.
type EventOption func(*event)

type event struct {
	name  string
	id    string
	retry int
}

// WithEventName sets the "event:" field.
func WithEventName(name string) EventOption {
	return func(e *event) { e.name = name }
}

// WithEventID sets the "id:" field.
func WithEventID(id string) EventOption {
	return func(e *event) { e.id = id }
}

// WithRetry sets the "retry:" reconnection delay in milliseconds.
func WithRetry(ms int) EventOption {
	return func(e *event) { e.retry = ms }
}

// SendEvent queues one event. Multi-line data is split into one
// "data:" field per line, per the text/event-stream framing.
func (s *Stream) SendEvent(data string, opts ...EventOption) error {
	var e event
	for _, opt := range opts {
		opt(&e)
	}

	var b strings.Builder
	if e.name != "" {
		b.WriteString("event: " + e.name + "\n")
	}
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	if e.id != "" {
		b.WriteString("id: " + e.id + "\n")
	}
	if e.retry > 0 {
		b.WriteString("retry: " + strconv.Itoa(e.retry) + "\n")
	}
	b.WriteString("\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.queue = append(s.queue, b.String()...)
	return nil
}

// Close marks the stream finished. Queued events are still flushed
// before the connection is released.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// take removes and returns all queued bytes.
func (s *Stream) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// drained reports whether the stream is closed with nothing queued.
func (s *Stream) drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed && len(s.queue) == 0
}
