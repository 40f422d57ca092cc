package sharedstore

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	fieldValue   = "value"
	fieldVersion = "version"
)

// RedisBackend stores each key as a hash holding the JSON value and its version.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend namespaces every key under prefix (default "attendance:kv:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "attendance:kv:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) key(k string) string { return r.prefix + k }

func (r *RedisBackend) Load(ctx context.Context, key string) (Entry, error) {
	vals, err := r.client.HMGet(ctx, r.key(key), fieldValue, fieldVersion).Result()
	if err != nil {
		return Entry{}, errors.Wrapf(err, "load %s", key)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return Entry{}, nil
	}
	verStr, _ := vals[1].(string)
	version, err := strconv.ParseInt(verStr, 10, 64)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "parse version of %s", key)
	}
	return Entry{Value: []byte(raw), Version: version}, nil
}

// Swap uses WATCH/MULTI so a concurrent writer between the version check and the write aborts the transaction.
func (r *RedisBackend) Swap(ctx context.Context, key string, expected int64, value []byte) (int64, error) {
	k := r.key(key)
	var next int64
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, k, fieldVersion).Int64()
		if errors.Is(err, redis.Nil) {
			current = 0
		} else if err != nil {
			return err
		}
		if current != expected {
			return ErrVersionConflict
		}
		next = current + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, fieldValue, string(value), fieldVersion, next)
			return nil
		})
		return err
	}, k)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return 0, ErrVersionConflict
	default:
		return 0, errors.Wrapf(err, "swap %s", key)
	}
}

func (r *RedisBackend) Close() error { return nil }
