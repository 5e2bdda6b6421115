// Command ticketd runs one ticket service process. The operational profile,
// worker count, and store wiring come from TICKETCORE_* environment
// variables; a deployment runs one ticketd per environment behind the router.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticketcore/internal/api"
	"ticketcore/internal/blob"
	"ticketcore/internal/config"
	"ticketcore/internal/core"
	"ticketcore/internal/exports"
	"ticketcore/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var logLevel string
	flag.StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	logger = logger.With("profile", cfg.Profile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := core.DefaultRulesEngine()
	store, err := core.OpenStore(ctx, cfg, engine)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	recorder, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	service := core.NewService(store, core.WithMetricsRecorder(recorder))

	blobStore, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	exportWorker := exports.NewWorker(service, blobStore, logger)
	exportWorker.Start()
	defer func() {
		if err := exportWorker.Stop(context.Background()); err != nil {
			logger.Error("export worker stop", "error", err)
		}
	}()

	handler := api.NewHandler(service,
		api.WithExports(exportWorker),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		api.WithLogger(logger),
	)

	sup, err := supervisor.New(handler, cfg.WorkerCount, cfg.RequestTimeout, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	logger.Info("ticket service listening",
		"addr", ln.Addr().String(),
		"workers", cfg.WorkerCount,
		"store", cfg.StoreDriver,
		"request_timeout", cfg.RequestTimeout.String(),
	)

	if err := sup.Serve(ctx, ln); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("ticket service stopped")
	return nil
}
