package store

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis holds the client shared by the Redis store backend and the Redis change bus.
type Redis struct {
	Client *redis.Client
}

// NewRedis accepts either host:port or a redis:// URL. An unparsable URL is treated as an address.
func NewRedis(addr string) *Redis {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		if parsed, err := redis.ParseURL(addr); err == nil {
			opts = parsed
		}
	}
	// Version checks retry on conflict, so fail fast instead of queueing behind a slow server.
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &Redis{Client: redis.NewClient(opts)}
}

// Healthy pings the server.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the connection pool; nil-safe.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
