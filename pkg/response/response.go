// Package response models outgoing responses and the resumable
// encoder that serializes them across partial non-blocking writes.
package response

import (
	"encoding/json"
	"strconv"

	"github.com/lume-dev/lume/pkg/headers"
	"github.com/lume-dev/lume/pkg/websocket"
)

// ChunkProducer yields the body of a chunked response one chunk at a
// time. It is finite and non-restartable; the encoder consumes it
// exactly once, returning ok=false after the final chunk.
type ChunkProducer func() (chunk []byte, ok bool)

type bodyKind int

const (
	kindFixed bodyKind = iota
	kindChunked
	kindStream
	kindUpgrade
)

// Response is one outgoing response: status, headers, cookies, and
// exactly one body representation. A Response is created per request,
// handed to the encoder, and never reused.
type Response struct {
	Status  Status
	Headers *headers.Headers

	kind    bodyKind
	body    []byte
	chunks  ChunkProducer
	stream  *Stream
	onOpen  func(*websocket.Channel)
	cookies []Cookie
}

// New creates an empty fixed-body response with the given status.
func New(status Status) *Response {
	return &Response{Status: status, Headers: headers.New()}
}

// Text creates a 200 text/plain response.
func Text(body string) *Response {
	r := New(StatusOK)
	r.Headers.Set("Content-Type", "text/plain")
	r.body = []byte(body)
	return r
}

// HTML creates a 200 text/html response.
func HTML(body string) *Response {
	r := New(StatusOK)
	r.Headers.Set("Content-Type", "text/html")
	r.body = []byte(body)
	return r
}

// Bytes creates a 200 response with an explicit content type.
func Bytes(contentType string, body []byte) *Response {
	r := New(StatusOK)
	r.Headers.Set("Content-Type", contentType)
	r.body = body
	return r
}

// JSON creates a 200 application/json response. A value that cannot
// be marshalled yields a 500 instead; handlers stay error-free.
func JSON(v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		r := Text("failed to encode response body")
		r.Status = StatusInternalServerError
		return r
	}
	r := New(StatusOK)
	r.Headers.Set("Content-Type", "application/json")
	r.body = data
	return r
}

// Redirect creates a redirect to location: 301 when permanent,
// otherwise 307 so the client preserves the request method.
func Redirect(location string, permanent bool) *Response {
	status := StatusTemporaryRedirect
	if permanent {
		status = StatusMovedPermanently
	}
	r := New(status)
	r.Headers.Set("Location", location)
	return r
}

// Chunked creates a 200 response whose body is produced chunk by
// chunk and sent with "Transfer-Encoding: chunked".
func Chunked(contentType string, producer ChunkProducer) *Response {
	r := New(StatusOK)
	r.Headers.Set("Content-Type", contentType)
	r.kind = kindChunked
	r.chunks = producer
	return r
}

// Events creates a Server-Sent Events response bound to the given
// stream. The connection stays open, attributed to this response,
// until the stream is closed or the client disconnects.
func Events(stream *Stream) *Response {
	r := New(StatusOK)
	r.kind = kindStream
	r.stream = stream
	return r
}

// WebSocket creates an upgrade response. After the handshake is
// flushed the connection is handed to a frame codec channel and
// onOpen is invoked with it.
func WebSocket(onOpen func(*websocket.Channel)) *Response {
	r := New(StatusSwitchingProtocols)
	r.kind = kindUpgrade
	r.onOpen = onOpen
	return r
}

// WithStatus sets the status and returns the response for chaining.
func (r *Response) WithStatus(status Status) *Response {
	r.Status = status
	return r
}

// WithHeader adds a header and returns the response for chaining.
func (r *Response) WithHeader(name, value string) *Response {
	r.Headers.Add(name, value)
	return r
}

// WithCookie adds a cookie to set and returns the response.
func (r *Response) WithCookie(c Cookie) *Response {
	r.cookies = append(r.cookies, c)
	return r
}

// SetCookie adds a simple session cookie by name and value.
func (r *Response) SetCookie(name, value string) *Response {
	return r.WithCookie(Cookie{Name: name, Value: value})
}

// Stream returns the SSE stream for an Events response, nil
// otherwise.
func (r *Response) Stream() *Stream {
	return r.stream
}

// IsLongLived reports whether the response occupies its connection
// beyond a single exchange (SSE or WebSocket) and therefore counts
// against the long-lived connection cap.
func (r *Response) IsLongLived() bool {
	return r.kind == kindStream || r.kind == kindUpgrade
}

// IsUpgrade reports whether this is a WebSocket upgrade response.
func (r *Response) IsUpgrade() bool {
	return r.kind == kindUpgrade
}

// OnOpen returns the WebSocket open callback, nil for other kinds.
func (r *Response) OnOpen() func(*websocket.Channel) {
	return r.onOpen
}

// Cookie is one Set-Cookie directive.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	MaxAge   int
	Secure   bool
	HTTPOnly bool
}

// encode renders the cookie as a Set-Cookie header value.
func (c Cookie) encode() string {
	s := c.Name + "=" + c.Value
	if c.Path != "" {
		s += "; Path=" + c.Path
	}
	if c.MaxAge != 0 {
		s += "; Max-Age=" + strconv.Itoa(c.MaxAge)
	}
	if c.Secure {
		s += "; Secure"
	}
	if c.HTTPOnly {
		s += "; HttpOnly"
	}
	return s
}
