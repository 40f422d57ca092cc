package sharedstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrVersionConflict is returned by Backend.Swap when the stored version moved on.
	ErrVersionConflict = errors.New("sharedstore: version conflict")
	// ErrTooManyConflicts is returned by Update when every retry lost the race.
	ErrTooManyConflicts = errors.New("sharedstore: too many conflicting writers")
	// ErrNoChange may be returned by an update function to skip the write and the broadcast.
	ErrNoChange = errors.New("sharedstore: no change")
)

// Entry is a stored blob with its version. Version 0 means the key is absent.
type Entry struct {
	Value   []byte
	Version int64
}

// Backend is the persistence port behind the Store.
type Backend interface {
	// Load returns the entry for key, or a zero Entry when absent.
	Load(ctx context.Context, key string) (Entry, error)
	// Swap writes value if the stored version still equals expected and returns the new version.
	Swap(ctx context.Context, key string, expected int64, value []byte) (int64, error)
	Close() error
}

// MemoryBackend keeps entries in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Load(_ context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, nil
	}
	return Entry{Value: append([]byte(nil), e.Value...), Version: e.Version}, nil
}

func (m *MemoryBackend) Swap(_ context.Context, key string, expected int64, value []byte) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[key].Version != expected {
		return 0, ErrVersionConflict
	}
	next := expected + 1
	m.entries[key] = Entry{Value: append([]byte(nil), value...), Version: next}
	return next, nil
}

func (m *MemoryBackend) Close() error { return nil }
