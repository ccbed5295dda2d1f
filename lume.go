// Package lume is a poll-driven HTTP/1.1 server for processes that
// cannot give a framework their main loop. The application calls
// Poll whenever it has a moment; each call advances every connection
// by one non-blocking step and returns. Routing, Basic/Bearer auth,
// chunked responses, Server-Sent Events and WebSocket channels all
// run inside that single-threaded loop.
//
// Example:
//
//	source, err := lume.Listen(":8080")
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv := lume.NewServer(source, nil)
//	srv.Route([]string{"GET"}, "/led/<id>", func(req *lume.Request) *lume.Response {
//		id, _ := req.PathParam("id")
//		return lume.Text("led " + id)
//	})
//	for {
//		srv.Poll()
//		// ... the rest of the application's loop ...
//	}
package lume

import (
	"github.com/lume-dev/lume/pkg/auth"
	"github.com/lume-dev/lume/pkg/request"
	"github.com/lume-dev/lume/pkg/response"
	"github.com/lume-dev/lume/pkg/router"
	"github.com/lume-dev/lume/pkg/server"
	"github.com/lume-dev/lume/pkg/socket"
	"github.com/lume-dev/lume/pkg/websocket"
)

// Core types, re-exported so simple applications import one package.
type (
	// Request is a fully parsed incoming request.
	Request = request.Request

	// Response is one outgoing response.
	Response = response.Response

	// Handler produces the response for a request.
	Handler = router.Handler

	// Config controls server limits and observability hooks.
	Config = server.Config

	// Server is the poll-driven engine.
	Server = server.Server

	// Stream carries Server-Sent Events to one client.
	Stream = response.Stream

	// Channel is an upgraded WebSocket connection.
	Channel = websocket.Channel

	// Cookie is one Set-Cookie directive.
	Cookie = response.Cookie
)

// Listen opens a TCP listener on addr as a connection source.
func Listen(addr string) (*socket.TCPSource, error) {
	return socket.Listen(addr)
}

// NewServer creates a server on the given source. A nil config
// selects server.DefaultConfig.
func NewServer(source socket.Source, cfg *Config) *Server {
	return server.New(source, cfg)
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return server.DefaultConfig()
}

// Response constructors, re-exported.
var (
	Text      = response.Text
	HTML      = response.HTML
	Bytes     = response.Bytes
	JSON      = response.JSON
	Redirect  = response.Redirect
	Chunked   = response.Chunked
	Events    = response.Events
	WebSocket = response.WebSocket
	NewStream = response.NewStream
)

// Auth constructors, re-exported.
var (
	BasicAuth  = auth.NewBasic
	BearerAuth = auth.NewBearer
	TokenAuth  = auth.NewToken
	Require    = auth.Require
)

// Route options, re-exported.
var (
	WithAppendSlash = router.WithAppendSlash
	WithAuth        = router.WithAuth
)
