// Package server ties the parser, router, auth gate and response
// encoder into a single-threaded HTTP/1.1 engine driven by Poll. One
// Poll call advances every connection by one non-blocking step and
// returns; the caller owns the loop, so the server can share a
// process, or even a single thread, with the rest of an application.
//
// Example:
//
//	source, _ := socket.Listen(":8080")
//	srv := server.New(source, nil)
//	srv.Route([]string{"GET"}, "/status", func(*request.Request) *response.Response {
//		return response.Text("ok")
//	})
//	for {
//		srv.Poll()
//		// ... other application work ...
//	}
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lume-dev/lume/pkg/auth"
	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/response"
	"github.com/lume-dev/lume/pkg/router"
	"github.com/lume-dev/lume/pkg/socket"
	"github.com/lume-dev/lume/pkg/websocket"
)

// ErrServerClosed is returned by Poll after Close.
var ErrServerClosed = errors.New("server: closed")

// errLiveCap rejects long-lived upgrades once the cap is reached.
var errLiveCap = errors.New("server: long-lived connection cap reached")

// Server is the poll-driven HTTP engine. It is not safe for
// concurrent use: Route, Poll and Close must run on one goroutine.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	source  socket.Source
	router  *router.Router
	metrics *metrics
	tracer  trace.Tracer

	conns  []*conn
	live   int
	buf    []byte
	closed bool
}

// New creates a server reading connections from source. A nil config
// selects DefaultConfig; zero-valued limits fall back to defaults.
func New(source socket.Source, cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	def := DefaultConfig()
	if cfg.RequestBufferSize <= 0 {
		cfg.RequestBufferSize = def.RequestBufferSize
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MaxLiveConnections <= 0 {
		cfg.MaxLiveConnections = def.MaxLiveConnections
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		source:  source,
		router:  router.New(),
		metrics: newMetrics(cfg.Metrics),
		tracer:  cfg.Tracer,
		buf:     make([]byte, cfg.RequestBufferSize),
	}
}

// Route registers a handler. Register all routes before the first
// Poll; registration order is match priority.
func (s *Server) Route(methods []string, pattern string, handler router.Handler, opts ...router.Option) error {
	return s.router.Register(methods, pattern, handler, opts...)
}

// Router exposes the route table.
func (s *Server) Router() *router.Router {
	return s.router
}

// ActiveConnections returns how many connections are currently open.
func (s *Server) ActiveConnections() int {
	return len(s.conns)
}

// LiveConnections returns how many long-lived connections (SSE and
// WebSocket) are currently held open.
func (s *Server) LiveConnections() int {
	return s.live
}

// Poll advances the server by one non-blocking cycle: accept at most
// one pending connection, then move every open connection one step.
// Handler panics, malformed input and transport failures affect only
// their own connection; Poll itself fails only after Close.
func (s *Server) Poll() error {
	if s.closed {
		return ErrServerClosed
	}
	s.accept()
	now := time.Now()
	kept := s.conns[:0]
	for _, c := range s.conns {
		s.service(c, now)
		if c.state != connClosed {
			kept = append(kept, c)
		}
	}
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = nil
	}
	s.conns = kept
	return nil
}

// ServeForever polls until stop is closed, then shuts the server
// down. It is a convenience for applications with nothing else to do
// between polls.
func (s *Server) ServeForever(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return s.Close()
		default:
		}
		if err := s.Poll(); err != nil {
			return err
		}
		if len(s.conns) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// Close releases every open connection and the listen source.
// Subsequent Poll calls return ErrServerClosed.
func (s *Server) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.conns {
		s.closeConn(c)
	}
	s.conns = nil
	return s.source.Close()
}

func (s *Server) accept() {
	if len(s.conns) >= s.cfg.MaxConnections {
		return
	}
	sock, err := s.source.Accept()
	if errors.Is(err, socket.ErrWouldBlock) {
		return
	}
	if err != nil {
		if !errors.Is(err, socket.ErrClosed) {
			s.logger.Debug("accept failed", "error", err)
		}
		return
	}
	c := &conn{
		id:   uuid.NewString(),
		sock: sock,
		parser: request.NewParser(sock.RemoteAddr(), request.Limits{
			MaxHeaderBytes: s.cfg.MaxHeaderBytes,
			MaxBodyBytes:   s.cfg.MaxBodyBytes,
		}),
		lastActive: time.Now(),
	}
	s.conns = append(s.conns, c)
	s.metrics.connectionOpened()
	s.logger.Debug("connection accepted", "conn", c.id, "remote", sock.RemoteAddr())
}

func (s *Server) service(c *conn, now time.Time) {
	switch c.state {
	case connReading:
		s.read(c, now)
	case connWriting:
		s.write(c, now)
	case connStreaming:
		s.streamTick(c)
	case connChannel:
		s.channelTick(c)
	}
}

// read pulls whatever bytes arrived and feeds the parser. A completed
// request is dispatched immediately, within the same poll.
func (s *Server) read(c *conn, now time.Time) {
	for {
		n, err := c.sock.Recv(s.buf)
		if errors.Is(err, socket.ErrWouldBlock) {
			break
		}
		if err != nil {
			// Peer went away before a full request arrived; there is
			// nobody left to answer.
			s.logger.Debug("connection lost", "conn", c.id, "error", err)
			s.closeConn(c)
			return
		}
		c.lastActive = now
		c.received += n
		if ferr := c.parser.Feed(s.buf[:n]); ferr != nil {
			s.logger.Debug("request rejected", "conn", c.id, "error", ferr)
			s.respond(c, s.errorResponse(ferr))
			return
		}
		if c.parser.Done() {
			s.dispatch(c)
			return
		}
	}
	if s.cfg.IdleTimeout > 0 && now.Sub(c.lastActive) > s.cfg.IdleTimeout {
		s.logger.Debug("connection idle", "conn", c.id, "received", c.received)
		s.respond(c, statusResponse(response.StatusRequestTimeout))
	}
}

// dispatch routes the completed request and starts the response. The
// long-lived cap and the WebSocket handshake are enforced here, after
// the handler ran but before anything reaches the wire.
func (s *Server) dispatch(c *conn) {
	c.req = c.parser.Request()
	c.started = time.Now()

	resp := s.handle(c.req)
	if resp.IsLongLived() && s.live >= s.cfg.MaxLiveConnections {
		s.metrics.upgradeRejected()
		s.logger.Warn("long-lived connection rejected",
			"conn", c.id, "path", c.req.Path, "cap", s.cfg.MaxLiveConnections)
		resp = s.errorResponse(errLiveCap)
	}
	if resp.IsUpgrade() {
		accept, err := websocket.Handshake(c.req)
		if err != nil {
			s.logger.Debug("handshake rejected", "conn", c.id, "error", err)
			resp = s.errorResponse(err)
		} else {
			resp.Headers.Set("Upgrade", "websocket")
			resp.Headers.Set("Connection", "Upgrade")
			resp.Headers.Set("Sec-WebSocket-Accept", accept)
		}
	}
	s.respond(c, resp)
}

// handle runs routing, the auth gate and the handler itself.
func (s *Server) handle(req *request.Request) *response.Response {
	match, err := s.router.Resolve(req.Method, req.Path)
	if err != nil {
		return s.errorResponse(err)
	}
	requirement := auth.Resolve(match.Route.Auth(), s.cfg.Auth)
	if err := requirement.Check(req); err != nil {
		resp := s.errorResponse(err)
		resp.Headers.Set("WWW-Authenticate", requirement.Challenge())
		return resp
	}
	req.PathParams = match.Params
	return s.invoke(match, req)
}

// invoke calls the handler with panic recovery. A panicking or
// nil-returning handler costs its client a 500, never the server.
func (s *Server) invoke(match *router.Match, req *request.Request) (resp *response.Response) {
	if s.tracer != nil {
		_, span := s.tracer.Start(context.Background(), "lume.handle",
			trace.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", match.Route.Pattern()),
			))
		defer func() {
			span.SetAttributes(attribute.Int("http.status_code", resp.Status.Code))
			span.End()
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "route", match.Route.Pattern(), "panic", r)
			resp = statusResponse(response.StatusInternalServerError)
		}
	}()
	resp = match.Handler(req)
	if resp == nil {
		s.logger.Error("handler returned no response", "route", match.Route.Pattern())
		resp = statusResponse(response.StatusInternalServerError)
	}
	return resp
}

func (s *Server) respond(c *conn, resp *response.Response) {
	if c.started.IsZero() {
		c.started = time.Now()
	}
	c.resp = resp
	c.enc = response.NewEncoder(c.sock, resp)
	c.state = connWriting
	s.write(c, time.Now())
}

// write advances the encoder. A fully flushed fixed response closes
// the connection; a flushed handshake hands the socket to a WebSocket
// channel; an SSE response parks the connection in streaming state.
func (s *Server) write(c *conn, now time.Time) {
	done, err := c.enc.Advance()
	if err != nil {
		s.logger.Debug("send failed", "conn", c.id, "error", err)
		s.finish(c)
		s.closeConn(c)
		return
	}
	if done {
		s.finish(c)
		if c.resp.IsUpgrade() {
			c.channel = websocket.NewChannel(c.sock, s.cfg.MaxMessageSize)
			c.state = connChannel
			s.live++
			s.metrics.liveStarted()
			if onOpen := c.resp.OnOpen(); onOpen != nil {
				onOpen(c.channel)
			}
		} else {
			s.closeConn(c)
		}
		return
	}
	if c.resp.Stream() != nil && c.state != connStreaming {
		c.state = connStreaming
		s.live++
		s.metrics.liveStarted()
		s.finish(c)
	}
	c.lastActive = now
}

// streamTick services an SSE connection: flush queued events and
// notice when the client hangs up. Stream clients send nothing, so
// any received bytes are discarded.
func (s *Server) streamTick(c *conn) {
	_, err := c.sock.Recv(s.buf)
	if err != nil && !errors.Is(err, socket.ErrWouldBlock) {
		s.logger.Debug("stream client went away", "conn", c.id, "error", err)
		s.closeConn(c)
		return
	}
	done, err := c.enc.Advance()
	if err != nil {
		s.logger.Debug("stream send failed", "conn", c.id, "error", err)
		s.closeConn(c)
		return
	}
	if done {
		s.closeConn(c)
	}
}

func (s *Server) channelTick(c *conn) {
	if err := c.channel.Service(); err != nil {
		s.logger.Debug("channel error", "conn", c.id, "error", err)
	}
	if c.channel.Closed() {
		s.closeConn(c)
	}
}

// finish emits the per-exchange diagnostics line, log record and
// metrics, exactly once per connection.
func (s *Server) finish(c *conn) {
	if c.recorded {
		return
	}
	c.recorded = true
	elapsed := time.Since(c.started)
	method, path := "-", "-"
	reqSize := c.received
	if c.req != nil {
		method, path = c.req.Method, c.req.Path
		reqSize = c.req.Size
	}
	sent := c.enc.BytesSent()
	if s.cfg.Diagnostics != nil {
		fmt.Fprintf(s.cfg.Diagnostics, "%s -- \"%s %s\" %d -- \"%s\" %d -- %d\n",
			clientIP(c), method, path, reqSize, c.resp.Status.String(), sent, elapsed.Milliseconds())
	}
	s.logger.Info("exchange",
		"conn", c.id, "method", method, "path", path,
		"status", c.resp.Status.Code, "sent", sent, "elapsed", elapsed)
	s.metrics.recordExchange(method, c.resp.Status.Code, elapsed, reqSize, sent)
}

func (s *Server) closeConn(c *conn) {
	if c.state == connClosed {
		return
	}
	if c.state == connStreaming || c.state == connChannel {
		s.live--
		s.metrics.liveEnded()
	}
	// Closing the stream unblocks producers still calling SendEvent.
	if c.resp != nil && c.resp.Stream() != nil {
		c.resp.Stream().Close()
	}
	c.state = connClosed
	_ = c.sock.Close()
	s.metrics.connectionClosed()
	s.logger.Debug("connection closed", "conn", c.id)
}

// errorResponse maps an internal failure onto its response status.
func (s *Server) errorResponse(err error) *response.Response {
	status := response.StatusInternalServerError
	switch {
	case errors.Is(err, request.ErrRequestTooLarge):
		status = response.StatusPayloadTooLarge
	case errors.Is(err, request.ErrMalformedRequest):
		status = response.StatusBadRequest
	case errors.Is(err, websocket.ErrBadHandshake):
		status = response.StatusBadRequest
	case errors.Is(err, router.ErrNotFound):
		status = response.StatusNotFound
	case errors.Is(err, router.ErrMethodNotAllowed):
		status = response.StatusMethodNotAllowed
	case errors.Is(err, auth.ErrUnauthorized):
		status = response.StatusUnauthorized
	case errors.Is(err, errLiveCap):
		status = response.StatusServiceUnavailable
	}
	return statusResponse(status)
}

// statusResponse is a minimal fixed response carrying the status line
// as its body, e.g. "404 Not Found".
func statusResponse(status response.Status) *response.Response {
	return response.Text(status.String()).WithStatus(status)
}

func clientIP(c *conn) string {
	if c.req != nil {
		return c.req.ClientIP()
	}
	addr := c.sock.RemoteAddr()
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}
