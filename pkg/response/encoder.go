package response

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lume-dev/lume/pkg/socket"
)

// Encoder serializes one Response to wire bytes across any number of
// partial writes. A cursor tracks what was already accepted by the
// transport, so Advance resumes exactly where the previous poll left
// off. Write failures are reported to the caller, which tears the
// connection down; they are never fatal to the server.
type Encoder struct {
	conn socket.Conn
	resp *Response

	pending      []byte
	producerDone bool
	done         bool
	bytesSent    int
}

// NewEncoder prepares a response for transmission on conn, fixing
// the framing headers for its body representation.
func NewEncoder(conn socket.Conn, resp *Response) *Encoder {
	e := &Encoder{conn: conn, resp: resp}

	switch resp.kind {
	case kindFixed:
		resp.Headers.SetDefault("Content-Type", "text/plain")
		resp.Headers.Set("Content-Length", strconv.Itoa(len(resp.body)))
		resp.Headers.SetDefault("Connection", "close")
	case kindChunked:
		resp.Headers.Set("Transfer-Encoding", "chunked")
		resp.Headers.SetDefault("Connection", "close")
	case kindStream:
		resp.Headers.Set("Content-Type", "text/event-stream")
		resp.Headers.Set("Cache-Control", "no-cache")
		resp.Headers.Set("Connection", "keep-alive")
	case kindUpgrade:
		// Handshake headers are set by the server before encoding.
	}
	for _, c := range resp.cookies {
		resp.Headers.Add("Set-Cookie", c.encode())
	}

	e.pending = buildHead(resp)
	if resp.kind == kindFixed {
		e.pending = append(e.pending, resp.body...)
	}
	return e
}

// Advance pushes as many bytes as the transport accepts right now.
// It returns done=true once the response is fully flushed; for an
// SSE response that only happens after the stream is closed and
// drained. A nil error with done=false means the transport blocked
// or, for SSE, that the connection simply stays open.
func (e *Encoder) Advance() (bool, error) {
	if e.done {
		return true, nil
	}
	for {
		if len(e.pending) > 0 {
			n, err := e.conn.Send(e.pending)
			if errors.Is(err, socket.ErrWouldBlock) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			e.bytesSent += n
			e.pending = e.pending[n:]
			continue
		}

		switch e.resp.kind {
		case kindFixed, kindUpgrade:
			e.done = true
			return true, nil

		case kindChunked:
			if e.producerDone {
				e.done = true
				return true, nil
			}
			// A nil producer is an empty body; the terminating zero
			// chunk is still required.
			if e.resp.chunks == nil {
				e.producerDone = true
				e.pending = []byte("0\r\n\r\n")
				continue
			}
			chunk, ok := e.resp.chunks()
			if !ok {
				e.producerDone = true
				e.pending = []byte("0\r\n\r\n")
				continue
			}
			if len(chunk) == 0 {
				// A zero-length chunk would terminate the stream.
				continue
			}
			e.pending = encodeChunk(chunk)

		case kindStream:
			if data := e.resp.stream.take(); len(data) > 0 {
				e.pending = data
				continue
			}
			if e.resp.stream.drained() {
				e.done = true
				return true, nil
			}
			return false, nil
		}
	}
}

// Done reports whether the response is fully flushed.
func (e *Encoder) Done() bool {
	return e.done
}

// BytesSent returns how many wire bytes were accepted so far.
func (e *Encoder) BytesSent() int {
	return e.bytesSent
}

func buildHead(resp *Response) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 " + resp.Status.String() + "\r\n")
	for _, f := range resp.Headers.Fields() {
		b.WriteString(f.Name + ": " + f.Value + "\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// encodeChunk frames one chunk: hex length, CRLF, bytes, CRLF.
func encodeChunk(chunk []byte) []byte {
	out := make([]byte, 0, len(chunk)+16)
	out = append(out, strconv.FormatInt(int64(len(chunk)), 16)...)
	out = append(out, '\r', '\n')
	out = append(out, chunk...)
	return append(out, '\r', '\n')
}
