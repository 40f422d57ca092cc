package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classattend/internal/attendance"
	"classattend/internal/bootstrap"
	"classattend/internal/config"
	"classattend/internal/logging"
)

// Worker follows the change stream and ends sessions whose codes have run out.
func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := logging.New(cfg.Env, cfg.LogLevel).With("component", "worker")
	slog.SetDefault(logger)

	// A worker on the memory backend would sweep a store nobody else reads.
	if !cfg.SharedStore() {
		logger.Error("worker needs a shared store backend", "store", cfg.StoreBackend, "hint", "set STORE_BACKEND to redis, postgres or sqlite")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if err := rt.Store.Start(ctx); err != nil {
		logger.Error("change stream subscribe failed", "error", err)
		os.Exit(1)
	}

	svc := attendance.NewService(attendance.NewRepository(rt.Store, nil), logger)
	unsubscribe := svc.Subscribe(func(key string, value json.RawMessage) {
		logger.Info("change observed", "key", key, "bytes", len(value))
	})
	defer unsubscribe()

	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_interval", interval, "store", cfg.StoreBackend)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-ticker.C:
			if _, err := svc.SweepExpired(ctx); err != nil {
				logger.Error("sweep failed", "error", err)
			}
		}
	}
}
