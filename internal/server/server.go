// Package server assembles the switchpilot tool server: it registers the
// switcher and auto-switch tool sets on a Model Context Protocol server and
// serves them over stdio and/or streamable HTTP, alongside metrics and health
// endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	engine "github.com/stagecast/switchpilot/internal/autoswitch"
	"github.com/stagecast/switchpilot/internal/config"
	"github.com/stagecast/switchpilot/internal/device"
	"github.com/stagecast/switchpilot/internal/health"
	"github.com/stagecast/switchpilot/internal/journal"
	"github.com/stagecast/switchpilot/internal/observe"
	autoswitchtools "github.com/stagecast/switchpilot/internal/tools/autoswitch"
	"github.com/stagecast/switchpilot/internal/tools/switcher"
)

// shutdownTimeout bounds the HTTP server's graceful drain on exit.
const shutdownTimeout = 10 * time.Second

// Server is the assembled switchpilot tool server.
//
// Create instances with [New], then call [Server.RunHTTP] and/or
// [Server.RunStdio]. Close releases the tool sets' device subscriptions.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observe.Metrics
	version string

	mcpServer     *mcp.Server
	switcherTools *switcher.Tools
	autoTools     *autoswitchtools.Tools
	healthHandler *health.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics sets the metrics sink shared by all tool handlers.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version string advertised to connecting callers.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New assembles a Server around the given device link, engine, and journal.
func New(cfg *config.Config, link device.Link, eng *engine.Engine, rec journal.Recorder, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "switchpilot",
		Title:   "Live switcher control",
		Version: s.version,
	}, nil)

	s.switcherTools = switcher.New(link,
		switcher.WithLogger(s.logger),
		switcher.WithMetrics(s.metrics),
	)
	s.switcherTools.Register(s.mcpServer)

	s.autoTools = autoswitchtools.New(eng,
		autoswitchtools.WithLogger(s.logger),
		autoswitchtools.WithMetrics(s.metrics),
		autoswitchtools.WithJournal(rec),
		autoswitchtools.WithDefaults(cfg.AutoSwitch),
	)
	s.autoTools.Register(s.mcpServer)

	s.healthHandler = health.New(
		health.DeviceChecker(link),
		health.LevelFeedChecker(link),
		health.JournalChecker(rec),
	)

	return s
}

// ApplyConfig applies a hot-reloaded configuration diff to the running
// server. Only the auto-switch defaults are handled here; the log level is
// the caller's concern because it owns the level var.
func (s *Server) ApplyConfig(d config.ConfigDiff) {
	if d.AutoSwitchChanged {
		s.autoTools.SetDefaults(d.NewAutoSwitch)
		s.logger.Info("auto-switch defaults reloaded")
	}
}

// RunStdio serves the tool surface on stdin/stdout until ctx is cancelled or
// the peer disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving tools on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server: stdio: %w", err)
	}
	return nil
}

// RunHTTP serves the tool surface, Prometheus metrics, and health endpoints
// on the configured listen address until ctx is cancelled. Uses TLS when the
// config provides certificates.
func (s *Server) RunHTTP(ctx context.Context) error {
	addr := s.cfg.Server.ListenAddr
	if addr == "" {
		return errors.New("server: no listen address configured")
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: s.handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("serving tools on http",
			"addr", addr,
			"tls", s.cfg.Server.TLS != nil,
		)
		var err error
		if tls := s.cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: http: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// handler builds the HTTP routing table: the tool transport under /mcp,
// Prometheus metrics under /metrics, and the health probes.
func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil))
	mux.Handle("GET /metrics", promhttp.Handler())
	s.healthHandler.Register(mux)
	return mux
}

// Close releases the tool sets' device subscriptions.
func (s *Server) Close() {
	s.switcherTools.Close()
}
