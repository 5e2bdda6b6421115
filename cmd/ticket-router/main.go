// Command ticket-router fronts the development and production ticket service
// processes. Requests under /dev/ and /prod/ are forwarded to the matching
// upstream with the environment prefix stripped.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketcore/internal/router"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr   string
		devUpstream  string
		prodUpstream string
	)
	flag.StringVar(&listenAddr, "listen", envOr("TICKETCORE_ROUTER_LISTEN", ":8080"), "router listen address")
	flag.StringVar(&devUpstream, "dev-upstream", envOr("TICKETCORE_ROUTER_DEV_UPSTREAM", "http://127.0.0.1:8081"), "development upstream base URL")
	flag.StringVar(&prodUpstream, "prod-upstream", envOr("TICKETCORE_ROUTER_PROD_UPSTREAM", "http://127.0.0.1:8082"), "production upstream base URL")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	rt, err := router.New(devUpstream, prodUpstream, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           rt,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("router listening", "addr", listenAddr, "dev", devUpstream, "prod", prodUpstream)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("router stopped")
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
