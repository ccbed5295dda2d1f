package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lume-dev/lume"
	"github.com/lume-dev/lume/pkg/response"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		logLevel   string
		configFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a demonstration server",
		Long: `Run a small server showing the poll loop end to end.

Routes:
  GET  /status   uptime and connection counts as JSON
  GET  /metrics  Prometheus metrics in text exposition format
  ANY  /echo     echoes the request body back
  GET  /time     a Server-Sent Events clock
  GET  /ws       a WebSocket echo endpoint
  GET  /admin    Bearer-protected, when auth_token is configured

Configuration is read from lume.yaml in the working directory and
LUME_* environment variables; flags override both.

Examples:
  lume serve
  lume serve --addr=:9000 --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, logLevel, configFile)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (default from config)")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	return cmd
}

func runServe(addr, logLevel, configFile string) error {
	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("idle_timeout", "30s")
	v.SetDefault("max_connections", 16)
	v.SetDefault("max_live_connections", 4)
	v.SetDefault("auth_token", "")

	v.SetConfigName("lume")
	v.AddConfigPath(".")
	v.SetEnvPrefix("lume")
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if addr != "" {
		v.Set("addr", addr)
	}
	if logLevel != "" {
		v.Set("log_level", logLevel)
	}

	level, err := parseLevel(v.GetString("log_level"))
	if err != nil {
		return err
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))

	source, err := lume.Listen(v.GetString("addr"))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", v.GetString("addr"), err)
	}

	registry := prometheus.NewRegistry()
	cfg := lume.DefaultConfig().
		WithLogger(logger).
		WithDiagnostics(os.Stdout).
		WithMetrics(registry).
		WithIdleTimeout(v.GetDuration("idle_timeout")).
		WithMaxConnections(v.GetInt("max_connections")).
		WithMaxLiveConnections(v.GetInt("max_live_connections"))

	srv := lume.NewServer(source, cfg)
	if err := registerRoutes(srv, registry, v.GetString("auth_token")); err != nil {
		return err
	}

	stop := make(chan struct{})
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("shutting down")
		close(stop)
	}()

	logger.Info("listening", "addr", source.Addr().String())
	return srv.ServeForever(stop)
}

func registerRoutes(srv *lume.Server, registry *prometheus.Registry, authToken string) error {
	start := time.Now()

	if err := srv.Route([]string{"GET"}, "/status", func(*lume.Request) *lume.Response {
		return lume.JSON(map[string]any{
			"uptime":           time.Since(start).Round(time.Second).String(),
			"connections":      srv.ActiveConnections(),
			"live_connections": srv.LiveConnections(),
		})
	}); err != nil {
		return err
	}

	if err := srv.Route([]string{"GET"}, "/metrics", func(*lume.Request) *lume.Response {
		families, err := registry.Gather()
		if err != nil {
			return lume.Text("metrics unavailable").
				WithStatus(response.StatusInternalServerError)
		}
		format := expfmt.NewFormat(expfmt.TypeTextPlain)
		var buf bytes.Buffer
		enc := expfmt.NewEncoder(&buf, format)
		for _, f := range families {
			if err := enc.Encode(f); err != nil {
				return lume.Text("metrics unavailable").
					WithStatus(response.StatusInternalServerError)
			}
		}
		return lume.Bytes(string(format), buf.Bytes())
	}); err != nil {
		return err
	}

	if err := srv.Route([]string{"GET", "POST", "PUT"}, "/echo", func(req *lume.Request) *lume.Response {
		if len(req.Body) == 0 {
			return lume.Text(req.Method + " " + req.Path)
		}
		contentType := req.Headers.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return lume.Bytes(contentType, req.Body)
	}); err != nil {
		return err
	}

	if err := srv.Route([]string{"GET"}, "/time", func(*lume.Request) *lume.Response {
		stream := lume.NewStream()
		go func() {
			for !stream.Closed() {
				err := stream.SendEvent(time.Now().Format(time.RFC3339),
					response.WithEventName("tick"))
				if err != nil {
					return
				}
				time.Sleep(time.Second)
			}
		}()
		return lume.Events(stream)
	}); err != nil {
		return err
	}

	if err := srv.Route([]string{"GET"}, "/ws", func(*lume.Request) *lume.Response {
		return lume.WebSocket(func(ch *lume.Channel) {
			go func() {
				for !ch.Closed() {
					msg, ok := ch.Receive()
					if !ok {
						time.Sleep(10 * time.Millisecond)
						continue
					}
					if err := ch.Send(msg); err != nil {
						return
					}
				}
			}()
		})
	}); err != nil {
		return err
	}

	if authToken != "" {
		return srv.Route([]string{"GET"}, "/admin", func(*lume.Request) *lume.Response {
			return lume.Text("authorized")
		}, lume.WithAuth(lume.Require(lume.BearerAuth(authToken))))
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
