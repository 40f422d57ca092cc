package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"classattend/internal/broadcast"
	"classattend/internal/config"
	"classattend/internal/sharedstore"
	"classattend/internal/store"
)

// Runtime holds the shared store and the connections behind it.
type Runtime struct {
	Store *sharedstore.Store
	DB    *store.DB
	Redis *store.Redis
}

// Open builds the backend and the change bus selected by cfg.
func Open(ctx context.Context, cfg config.App, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{}
	redisClient := func() *store.Redis {
		if rt.Redis == nil {
			rt.Redis = store.NewRedis(cfg.RedisAddr)
		}
		return rt.Redis
	}

	var backend sharedstore.Backend
	switch cfg.StoreBackend {
	case "memory":
		backend = sharedstore.NewMemoryBackend()
	case "redis":
		backend = sharedstore.NewRedisBackend(redisClient().Client, "")
	case "postgres", "sqlite":
		var (
			db      *store.DB
			err     error
			dialect = sharedstore.Postgres
		)
		if cfg.StoreBackend == "sqlite" {
			dialect = sharedstore.SQLite
			db, err = store.NewSQLite(ctx, cfg.SQLitePath)
		} else {
			db, err = store.NewDB(ctx, cfg.DatabaseURL)
		}
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.DB = db
		sqlBackend, err := sharedstore.NewSQLBackend(ctx, db.Client, dialect)
		if err != nil {
			rt.Close()
			return nil, err
		}
		backend = sqlBackend
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	var bus broadcast.Bus
	switch cfg.BroadcastBackend {
	case "memory":
		bus = broadcast.NewInMemory(64)
	case "redis":
		bus = broadcast.NewRedis(redisClient().Client, cfg.BroadcastChannel, logger)
	default:
		rt.Close()
		return nil, fmt.Errorf("unknown BROADCAST_BACKEND %q", cfg.BroadcastBackend)
	}

	rt.Store = sharedstore.New(backend, bus, sharedstore.WithLogger(logger))
	return rt, nil
}

// Health reports connectivity of every connection in use.
func (rt *Runtime) Health(ctx context.Context) map[string]bool {
	out := map[string]bool{"store": rt.Store != nil}
	if rt.DB != nil {
		out["db"] = rt.DB.Healthy(ctx)
	}
	if rt.Redis != nil {
		out["redis"] = rt.Redis.Healthy(ctx)
	}
	return out
}

// Close releases every connection.
func (rt *Runtime) Close() {
	if rt.Store != nil {
		_ = rt.Store.Close()
	}
	_ = rt.DB.Close()
	_ = rt.Redis.Close()
}
