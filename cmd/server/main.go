/*
main.go - HTTP server entry point for the points engine

PURPOSE:
  Starts the JSON API over the configured record store. Configuration
  comes from an optional file plus POINTS_* environment variables.

USAGE:
  go run ./cmd/server
  go run ./cmd/server -config points.yaml
  POINTS_STORE_BACKEND=rest POINTS_STORE_REST_URL=https://db.example.app go run ./cmd/server

STARTUP:
  1. Load config and build the zap logger
  2. Open the record store (rest, sqlite, mongo or memory)
  3. Build account, ledger, redemption and reporting services
  4. Pick the session slot backend (memory or redis)
  5. Serve until SIGINT/SIGTERM, then drain for up to 30s

SEE ALSO:
  - config/config.go:       Every setting and its default
  - bootstrap/bootstrap.go: Backend selection
  - api/server.go:          Route table
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/bootstrap"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (yaml, json, toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore(context.Background())
	log.Info("record store ready", zap.String("backend", cfg.Store.Backend))

	services, err := bootstrap.NewServices(store, cfg, log)
	if err != nil {
		return err
	}

	slots, closeSlots, err := bootstrap.SessionSlots(ctx, cfg.Session)
	if err != nil {
		return fmt.Errorf("session backend: %w", err)
	}
	defer closeSlots(context.Background())

	handler := api.NewHandler(services.Accounts, services.Ledger, services.Redemptions, services.Reports, log.Named("api"))
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Session: api.SessionOptions{
			Slots:  slots,
			TTL:    cfg.Session.TTL,
			Logger: log.Named("session"),
		},
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("session", cfg.Session.Backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
