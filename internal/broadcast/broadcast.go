package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the channel name every observer of the shared store listens on.
const DefaultChannel = "attendance-system"

// Envelope is one change notification: a key, its new value and when it was written.
type Envelope struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
	// Origin identifies the writer so it can skip its own echoes.
	Origin string `json:"origin,omitempty"`
}

// Bus fans change notifications out to every subscriber.
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

// InMemory is a channel-backed fan-out bus for a single process.
// Publish never blocks: a subscriber whose buffer is full misses the envelope.
type InMemory struct {
	size int

	mu      sync.RWMutex
	subs    map[chan Envelope]struct{}
	dropped atomic.Int64
}

// NewInMemory creates a bus whose subscribers buffer up to size envelopes.
func NewInMemory(size int) *InMemory {
	if size <= 0 {
		size = 64
	}
	return &InMemory{size: size, subs: make(map[chan Envelope]struct{})}
}

// Publish delivers env to every current subscriber.
func (b *InMemory) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done; the channel is closed afterwards.
func (b *InMemory) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ch := make(chan Envelope, b.size)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *InMemory) Dropped() int64 {
	return b.dropped.Load()
}

// Redis implements the bus on Redis Pub/Sub so every process attached to the same server sees every write.
type Redis struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis builds a bus publishing on channel.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, channel: channel, logger: logger}
}

// Publish sends the JSON encoded envelope.
func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return errors.Wrapf(r.client.Publish(ctx, r.channel, data).Err(), "publish to %s", r.channel)
}

// Subscribe streams envelopes until ctx is done. Undecodable payloads are logged and skipped.
func (r *Redis) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, errors.Wrapf(err, "subscribe to %s", r.channel)
	}
	out := make(chan Envelope)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("dropping malformed envelope", "channel", r.channel, "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
