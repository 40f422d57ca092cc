package sharedstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"classattend/internal/broadcast"
	"classattend/internal/metrics"
)

const defaultMaxRetries = 8

// Listener receives every change: the key and its new JSON value.
type Listener func(key string, value json.RawMessage)

// Store is the system of record: keyed JSON blobs persisted in a Backend, with every write
// announced to local listeners and to the other observers attached to the same bus.
type Store struct {
	backend    Backend
	bus        broadcast.Bus
	origin     string
	now        func() time.Time
	logger     *slog.Logger
	maxRetries int

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the timestamp source for envelopes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxRetries bounds how often Update retries after a version conflict.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New builds a store. bus may be nil for a store nobody else observes.
func New(backend Backend, bus broadcast.Bus, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		bus:        bus,
		origin:     uuid.NewString(),
		now:        time.Now,
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		listeners:  make(map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Origin identifies this store on the bus.
func (s *Store) Origin() string { return s.origin }

// Start relays changes written by other observers to local listeners until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}
	ch, err := s.bus.Subscribe(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe to change bus")
	}
	go func() {
		for env := range ch {
			if env.Origin == s.origin {
				continue
			}
			s.notify(env.Key, env.Value)
		}
	}()
	return nil
}

// Subscribe registers fn for every change and returns the function that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// GetRaw returns the stored JSON for key and whether it exists.
func (s *Store) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry.Version == 0 {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// UpdateRaw applies fn to the current value of key (nil when absent) and stores the result
// only if nobody wrote key in between; otherwise it reloads and retries.
// fn may run several times and must not have side effects.
func (s *Store) UpdateRaw(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) ([]byte, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		entry, err := s.backend.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		var current []byte
		if entry.Version > 0 {
			current = entry.Value
		}
		next, err := fn(current)
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		if err != nil {
			return nil, err
		}
		if _, err := s.backend.Swap(ctx, key, entry.Version, next); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				metrics.StoreConflicts.WithLabelValues(key).Inc()
				s.logger.Debug("update conflict, retrying", "key", key, "attempt", attempt+1)
				continue
			}
			return nil, err
		}
		metrics.StoreWrites.WithLabelValues(key).Inc()
		s.publish(ctx, key, next)
		return next, nil
	}
	return nil, ErrTooManyConflicts
}

func (s *Store) publish(ctx context.Context, key string, value []byte) {
	s.notify(key, value)
	if s.bus == nil {
		return
	}
	env := broadcast.Envelope{
		Key:       key,
		Value:     json.RawMessage(value),
		Timestamp: s.now().UnixMilli(),
		Origin:    s.origin,
	}
	// The write already succeeded; observers that miss it will see the state on their next read.
	if err := s.bus.Publish(ctx, env); err != nil {
		metrics.BroadcastFailures.Inc()
		s.logger.Warn("broadcast failed", "key", key, "error", err)
	}
}

func (s *Store) notify(key string, value json.RawMessage) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(key, value)
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Get decodes key into a T. An absent key yields the zero T.
func Get[T any](ctx context.Context, s *Store, key string) (T, error) {
	var out T
	raw, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrapf(err, "decode %s", key)
	}
	return out, nil
}

// Set overwrites key with v and broadcasts it.
func Set[T any](ctx context.Context, s *Store, key string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	_, err = s.UpdateRaw(ctx, key, func([]byte) ([]byte, error) { return data, nil })
	return err
}

// Update runs a typed read-modify-write on key. See UpdateRaw.
func Update[T any](ctx context.Context, s *Store, key string, fn func(current T) (T, error)) (T, error) {
	var result T
	_, err := s.UpdateRaw(ctx, key, func(raw []byte) ([]byte, error) {
		var current T
		if raw != nil {
			if err := json.Unmarshal(raw, &current); err != nil {
				return nil, errors.Wrapf(err, "decode %s", key)
			}
		}
		next, err := fn(current)
		if err != nil {
			result = current
			return nil, err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", key)
		}
		result = next
		return data, nil
	})
	return result, err
}
