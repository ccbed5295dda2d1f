package request

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/lume-dev/lume/pkg/headers"
)

// knownMethods is the set of request methods the parser accepts.
var knownMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "CONNECT": true, "OPTIONS": true,
	"TRACE": true, "PATCH": true,
}

var crlf = []byte("\r\n")

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBodyFixed
	stateChunkSize
	stateChunkData
	stateChunkEnd
	stateTrailers
	stateComplete
	stateFailed
)

// Limits bounds how much input the parser accepts before failing
// with ErrRequestTooLarge.
type Limits struct {
	// MaxHeaderBytes caps the request line plus all header bytes.
	MaxHeaderBytes int

	// MaxBodyBytes caps the decoded body length.
	MaxBodyBytes int
}

// DefaultLimits returns the limits used when a zero value is given.
func DefaultLimits() Limits {
	return Limits{
		MaxHeaderBytes: 8 * 1024,
		MaxBodyBytes:   64 * 1024,
	}
}

// Parser assembles a Request incrementally. Feed accepts whatever
// bytes arrived on the socket; the parser suspends mid-request and
// resumes on the next Feed, so a request may span any number of
// reads. A parser handles exactly one request.
type Parser struct {
	clientAddr string
	limits     Limits

	state       parseState
	buf         []byte
	req         *Request
	body        []byte
	headerBytes int
	received    int
	remaining   int // bytes left in the fixed body or current chunk
	err         error
}

// NewParser creates a parser for one request on the given connection.
func NewParser(clientAddr string, limits Limits) *Parser {
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = DefaultLimits().MaxHeaderBytes
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = DefaultLimits().MaxBodyBytes
	}
	return &Parser{
		clientAddr: clientAddr,
		limits:     limits,
		req: &Request{
			Headers:     headers.New(),
			QueryParams: NewParams(),
			ClientAddr:  clientAddr,
		},
	}
}

// Feed consumes the next slice of bytes off the wire. It returns
// ErrMalformedRequest or ErrRequestTooLarge (wrapped with detail) as
// soon as the stream is known to be invalid; afterwards the parser
// stays failed.
func (p *Parser) Feed(data []byte) error {
	if p.err != nil {
		return p.err
	}
	if p.state == stateComplete {
		return nil
	}
	p.buf = append(p.buf, data...)
	p.received += len(data)
	if err := p.advance(); err != nil {
		p.state = stateFailed
		p.err = err
		return err
	}
	return nil
}

// Done reports whether a complete request is available.
func (p *Parser) Done() bool {
	return p.state == stateComplete
}

// Err returns the terminal parse error, if any.
func (p *Parser) Err() error {
	return p.err
}

// Request returns the parsed request once Done reports true.
func (p *Parser) Request() *Request {
	if p.state != stateComplete {
		return nil
	}
	return p.req
}

// advance runs the state machine over the buffered bytes until it
// needs more input or the request completes.
func (p *Parser) advance() error {
	for {
		switch p.state {
		case stateRequestLine:
			line, ok := p.takeLine()
			if !ok {
				if len(p.buf) > p.limits.MaxHeaderBytes {
					return fmt.Errorf("%w: request line exceeds %d bytes",
						ErrRequestTooLarge, p.limits.MaxHeaderBytes)
				}
				return nil
			}
			if err := p.parseRequestLine(line); err != nil {
				return err
			}
			p.state = stateHeaders

		case stateHeaders:
			line, ok := p.takeLine()
			if !ok {
				if p.headerBytes+len(p.buf) > p.limits.MaxHeaderBytes {
					return fmt.Errorf("%w: headers exceed %d bytes",
						ErrRequestTooLarge, p.limits.MaxHeaderBytes)
				}
				return nil
			}
			if len(line) == 0 {
				if err := p.resolveBody(); err != nil {
					return err
				}
				continue
			}
			if err := p.parseHeaderLine(line); err != nil {
				return err
			}

		case stateBodyFixed:
			n := min(len(p.buf), p.remaining)
			p.body = append(p.body, p.buf[:n]...)
			p.buf = p.buf[n:]
			p.remaining -= n
			if p.remaining > 0 {
				return nil
			}
			p.complete()

		case stateChunkSize:
			line, ok := p.takeLine()
			if !ok {
				if len(p.buf) > p.limits.MaxHeaderBytes {
					return fmt.Errorf("%w: chunk size line exceeds %d bytes",
						ErrRequestTooLarge, p.limits.MaxHeaderBytes)
				}
				return nil
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return err
			}
			if size == 0 {
				p.state = stateTrailers
				continue
			}
			if len(p.body)+size > p.limits.MaxBodyBytes {
				return fmt.Errorf("%w: chunked body exceeds %d bytes",
					ErrRequestTooLarge, p.limits.MaxBodyBytes)
			}
			p.remaining = size
			p.state = stateChunkData

		case stateChunkData:
			n := min(len(p.buf), p.remaining)
			p.body = append(p.body, p.buf[:n]...)
			p.buf = p.buf[n:]
			p.remaining -= n
			if p.remaining > 0 {
				return nil
			}
			p.state = stateChunkEnd

		case stateChunkEnd:
			if len(p.buf) < 2 {
				return nil
			}
			if !bytes.Equal(p.buf[:2], crlf) {
				return fmt.Errorf("%w: chunk data not terminated by CRLF",
					ErrMalformedRequest)
			}
			p.buf = p.buf[2:]
			p.state = stateChunkSize

		case stateTrailers:
			line, ok := p.takeLine()
			if !ok {
				if len(p.buf) > p.limits.MaxHeaderBytes {
					return fmt.Errorf("%w: trailer line exceeds %d bytes",
						ErrRequestTooLarge, p.limits.MaxHeaderBytes)
				}
				return nil
			}
			if len(line) == 0 {
				p.complete()
			}
			// Trailer fields are read and discarded.

		case stateComplete, stateFailed:
			return nil
		}
	}
}

// takeLine removes one CRLF-terminated line from the buffer. The
// returned line excludes the terminator.
func (p *Parser) takeLine() ([]byte, bool) {
	i := bytes.Index(p.buf, crlf)
	if i < 0 {
		return nil, false
	}
	line := p.buf[:i]
	p.buf = p.buf[i+2:]
	return line, true
}

func (p *Parser) parseRequestLine(line []byte) error {
	p.headerBytes += len(line) + 2
	if p.headerBytes > p.limits.MaxHeaderBytes {
		return fmt.Errorf("%w: request line exceeds %d bytes",
			ErrRequestTooLarge, p.limits.MaxHeaderBytes)
	}
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return fmt.Errorf("%w: bad request line %q", ErrMalformedRequest, line)
	}
	method, target, version := parts[0], parts[1], parts[2]
	if !knownMethods[method] {
		return fmt.Errorf("%w: unknown method %q", ErrMalformedRequest, method)
	}
	if !strings.HasPrefix(target, "/") {
		return fmt.Errorf("%w: path %q does not start with /", ErrMalformedRequest, target)
	}
	if !strings.HasPrefix(version, "HTTP/") {
		return fmt.Errorf("%w: bad protocol version %q", ErrMalformedRequest, version)
	}

	rawPath, query, _ := strings.Cut(target, "?")
	p.req.Method = method
	p.req.RawPath = rawPath
	p.req.Path = unescapePath(rawPath)
	p.req.QueryParams = ParseQuery(query)
	p.req.HTTPVersion = version
	return nil
}

func (p *Parser) parseHeaderLine(line []byte) error {
	p.headerBytes += len(line) + 2
	if p.headerBytes > p.limits.MaxHeaderBytes {
		return fmt.Errorf("%w: headers exceed %d bytes",
			ErrRequestTooLarge, p.limits.MaxHeaderBytes)
	}
	name, value, ok := strings.Cut(string(line), ":")
	if !ok {
		return fmt.Errorf("%w: header line %q missing colon", ErrMalformedRequest, line)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: header line %q has empty name", ErrMalformedRequest, line)
	}
	p.req.Headers.Add(name, strings.TrimSpace(value))
	return nil
}

// resolveBody decides how the body is framed once headers are done:
// chunked transfer-encoding wins, then Content-Length, else empty.
func (p *Parser) resolveBody() error {
	if p.req.Headers.ContainsToken("Transfer-Encoding", "chunked") {
		p.state = stateChunkSize
		return nil
	}
	if cl := p.req.Headers.Get("Content-Length"); cl != "" {
		length, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || length < 0 {
			return fmt.Errorf("%w: bad Content-Length %q", ErrMalformedRequest, cl)
		}
		if length > p.limits.MaxBodyBytes {
			return fmt.Errorf("%w: declared body of %d bytes exceeds %d",
				ErrRequestTooLarge, length, p.limits.MaxBodyBytes)
		}
		if length == 0 {
			p.complete()
			return nil
		}
		p.remaining = length
		p.state = stateBodyFixed
		return nil
	}
	p.complete()
	return nil
}

func (p *Parser) complete() {
	p.req.Body = p.body
	p.req.Size = p.received - len(p.buf)
	p.state = stateComplete
}

func parseChunkSize(line []byte) (int, error) {
	text := string(line)
	// Chunk extensions after ';' are ignored.
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(text), 16, 32)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformedRequest, line)
	}
	return int(size), nil
}
