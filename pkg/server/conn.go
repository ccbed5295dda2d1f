package server

import (
	"time"

	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/response"
	"github.com/lume-dev/lume/pkg/socket"
	"github.com/lume-dev/lume/pkg/websocket"
)

type connState int

const (
	// connReading: assembling a request from incoming bytes.
	connReading connState = iota

	// connWriting: flushing a response through the encoder.
	connWriting

	// connStreaming: response head flushed, SSE stream attached.
	connStreaming

	// connChannel: upgraded, frames flow through a WebSocket channel.
	connChannel

	// connClosed: socket released, removed on the next poll.
	connClosed
)

// conn tracks one accepted connection through its exchange. Each
// connection carries at most one request; the socket closes once the
// response is flushed, except for SSE and WebSocket responses which
// hold it open.
type conn struct {
	id   string
	sock socket.Conn

	state  connState
	parser *request.Parser

	req     *request.Request
	resp    *response.Response
	enc     *response.Encoder
	channel *websocket.Channel

	lastActive time.Time
	started    time.Time // when handling of the completed request began

	received int  // wire bytes read so far
	recorded bool // diagnostics emitted for this exchange
}
