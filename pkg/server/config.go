package server

import (
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/lume-dev/lume/pkg/auth"
)

// Config controls the server's buffers, limits and observability
// hooks. Use DefaultConfig and override with the WithX methods.
//
// Example:
//
//	cfg := server.DefaultConfig().
//		WithMaxLiveConnections(8).
//		WithLogger(slog.Default())
type Config struct {
	// RequestBufferSize is the size of the receive buffer handed to
	// each socket read.
	RequestBufferSize int

	// MaxHeaderBytes caps the request line plus headers; beyond it
	// the request is answered 413.
	MaxHeaderBytes int

	// MaxBodyBytes caps the decoded request body.
	MaxBodyBytes int

	// MaxConnections caps concurrently open connections. Further
	// clients stay in the listen backlog until a slot frees up.
	MaxConnections int

	// MaxLiveConnections caps long-lived connections (SSE streams and
	// WebSocket channels). Upgrades beyond the cap are answered 503.
	MaxLiveConnections int

	// MaxMessageSize caps a reassembled incoming WebSocket message.
	MaxMessageSize int

	// IdleTimeout bounds how long a connection may sit mid-request
	// without delivering bytes. Long-lived connections are exempt.
	IdleTimeout time.Duration

	// Auth is the server-wide access requirement. Routes may override
	// it. Nil leaves the server open.
	Auth *auth.Requirement

	// Logger receives structured server events. Nil discards them.
	Logger *slog.Logger

	// Diagnostics receives one plain-text line per completed
	// exchange. Nil disables diagnostics output.
	Diagnostics io.Writer

	// Metrics registers the server's collectors when set. Nil
	// disables metrics.
	Metrics prometheus.Registerer

	// Tracer opens one span per exchange when set.
	Tracer trace.Tracer
}

// DefaultConfig returns the configuration used when New is given nil.
func DefaultConfig() *Config {
	return &Config{
		RequestBufferSize:  1024,
		MaxHeaderBytes:     8 * 1024,
		MaxBodyBytes:       64 * 1024,
		MaxConnections:     16,
		MaxLiveConnections: 4,
		MaxMessageSize:     64 * 1024,
		IdleTimeout:        30 * time.Second,
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}

// WithRequestBufferSize sets the receive buffer size.
func (c *Config) WithRequestBufferSize(n int) *Config {
	c.RequestBufferSize = n
	return c
}

// WithMaxHeaderBytes sets the header size limit.
func (c *Config) WithMaxHeaderBytes(n int) *Config {
	c.MaxHeaderBytes = n
	return c
}

// WithMaxBodyBytes sets the body size limit.
func (c *Config) WithMaxBodyBytes(n int) *Config {
	c.MaxBodyBytes = n
	return c
}

// WithMaxConnections sets the open connection cap.
func (c *Config) WithMaxConnections(n int) *Config {
	c.MaxConnections = n
	return c
}

// WithMaxLiveConnections sets the long-lived connection cap.
func (c *Config) WithMaxLiveConnections(n int) *Config {
	c.MaxLiveConnections = n
	return c
}

// WithMaxMessageSize sets the incoming WebSocket message limit.
func (c *Config) WithMaxMessageSize(n int) *Config {
	c.MaxMessageSize = n
	return c
}

// WithIdleTimeout sets the mid-request idle bound.
func (c *Config) WithIdleTimeout(d time.Duration) *Config {
	c.IdleTimeout = d
	return c
}

// WithAuth sets the server-wide access requirement.
func (c *Config) WithAuth(requirement *auth.Requirement) *Config {
	c.Auth = requirement
	return c
}

// WithLogger sets the structured logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithDiagnostics sets the per-exchange diagnostics sink.
func (c *Config) WithDiagnostics(w io.Writer) *Config {
	c.Diagnostics = w
	return c
}

// WithMetrics registers the server's collectors on reg.
func (c *Config) WithMetrics(reg prometheus.Registerer) *Config {
	c.Metrics = reg
	return c
}

// WithTracer sets the exchange tracer.
func (c *Config) WithTracer(tracer trace.Tracer) *Config {
	c.Tracer = tracer
	return c
}
