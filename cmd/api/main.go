package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/bootstrap"
	"classattend/internal/config"
	"classattend/internal/httpapi"
	"classattend/internal/logging"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := runHTTP(cfg, logger); err != nil {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Store.Start(ctx); err != nil {
		return err
	}

	repo := attendance.NewRepository(rt.Store, nil)
	if cfg.SeedDemoData {
		seeded, err := repo.Seed(ctx)
		if err != nil {
			return err
		}
		if seeded {
			logger.Info("demo users seeded")
		}
	}
	svc := attendance.NewService(repo, logger)
	api := httpapi.New(cfg, svc, rt.Health, logger)

	// WriteTimeout stays unset so the event stream is not cut off.
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Shutdown waits for open requests; event streams never finish on their own.
	srv.RegisterOnShutdown(api.CloseStreams)

	go pruneLimiter(ctx, api)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.StoreBackend, "broadcast", cfg.BroadcastBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

func pruneLimiter(ctx context.Context, api *httpapi.Server) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			api.Limiter().Prune(10 * time.Minute)
		}
	}
}
