// Command switchpilot is the main entry point for the switchpilot tool server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagecast/switchpilot/internal/autoswitch"
	"github.com/stagecast/switchpilot/internal/config"
	"github.com/stagecast/switchpilot/internal/device/atemws"
	"github.com/stagecast/switchpilot/internal/journal"
	"github.com/stagecast/switchpilot/internal/observe"
	"github.com/stagecast/switchpilot/internal/server"
)

// version is stamped at build time via -ldflags.
var version = "dev"

// dialTimeout bounds the initial connection attempt to the switcher gateway.
const dialTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	stdio := flag.Bool("stdio", false, "serve the tool surface on stdin/stdout")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "switchpilot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "switchpilot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("switchpilot starting",
		"version", version,
		"config", *configPath,
		"gateway", cfg.Device.GatewayURL,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "switchpilot",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Switcher link ─────────────────────────────────────────────────────────
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	var linkOpts []atemws.Option
	linkOpts = append(linkOpts, atemws.WithLogger(logger))
	if w := cfg.Device.LevelFeedWindowMs; w > 0 {
		linkOpts = append(linkOpts, atemws.WithLevelFeedWindow(time.Duration(w)*time.Millisecond))
	}
	link, err := atemws.Dial(dialCtx, cfg.Device.GatewayURL, linkOpts...)
	cancel()
	if err != nil {
		slog.Error("failed to connect to switcher gateway", "url", cfg.Device.GatewayURL, "err", err)
		return 1
	}
	defer func() {
		if err := link.Close(); err != nil {
			slog.Warn("link close error", "err", err)
		}
	}()
	slog.Info("switcher gateway connected", "model", link.Status().Model)

	// ── Journal ───────────────────────────────────────────────────────────────
	var rec journal.Recorder
	if dsn := cfg.Journal.PostgresDSN; dsn != "" {
		store, err := journal.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open journal database", "err", err)
			return 1
		}
		defer store.Close()
		rec = journal.NewBreakerRecorder(store)
		slog.Info("journal backed by postgres")
	} else {
		rec = journal.NewMemStore(0)
		slog.Info("journal kept in memory")
	}

	// ── Engine and server ─────────────────────────────────────────────────────
	eng := autoswitch.New(link,
		autoswitch.WithLogger(logger),
		autoswitch.WithMetrics(metrics),
		autoswitch.WithJournal(rec),
	)
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("engine close error", "err", err)
		}
	}()

	srv := server.New(cfg, link, eng, rec,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithVersion(version),
	)
	defer srv.Close()

	printStartupSummary(cfg, *stdio)

	// Hot reload for the fields that are safe to change at runtime.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level reloaded", "level", d.NewLogLevel)
		}
		srv.ApplyConfig(d)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	serving := false
	if cfg.Server.ListenAddr != "" {
		serving = true
		g.Go(func() error { return srv.RunHTTP(gctx) })
	}
	if *stdio {
		serving = true
		g.Go(func() error { return srv.RunStdio(gctx) })
	}
	if !serving {
		slog.Error("nothing to serve: set server.listen_addr or pass -stdio")
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, stdio bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       switchpilot — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Gateway", cfg.Device.GatewayURL)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	if stdio {
		printRow("Stdio", "enabled")
	} else {
		printRow("Stdio", "(disabled)")
	}
	if cfg.Journal.PostgresDSN != "" {
		printRow("Journal", "postgres")
	} else {
		printRow("Journal", "in-memory")
	}
	printRow("TLS", tlsSummary(cfg))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func tlsSummary(cfg *config.Config) string {
	if cfg.Server.TLS != nil {
		return "enabled"
	}
	return "(disabled)"
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
