package attendance

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classattend/internal/sharedstore"
)

// testClock is a controllable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx   context.Context
	clock *testClock
	store *sharedstore.Store
	repo  *Repository
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := newTestClock()
	st := sharedstore.New(sharedstore.NewMemoryBackend(), nil, sharedstore.WithMaxRetries(100))
	repo := NewRepository(st, clock.Now)
	_, err := repo.Seed(ctx)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{ctx: ctx, clock: clock, store: st, repo: repo, svc: NewService(repo, logger)}
}

func labFields() SessionFields {
	return SessionFields{
		Title:      "Lab",
		CourseCode: "SE301",
		Date:       "2024-01-10",
		StartTime:  "09:00",
		EndTime:    "10:30",
	}
}

func (f *fixture) createSession(t *testing.T, professorID int64, fields SessionFields) Session {
	t.Helper()
	s, err := f.repo.CreateSession(f.ctx, professorID, fields)
	require.NoError(t, err)
	return s
}

func (f *fixture) generate(t *testing.T, sessionID int64, minutes int) *CodeBundle {
	t.Helper()
	bundle, err := f.svc.Codes().Generate(f.ctx, sessionID, minutes)
	require.NoError(t, err)
	return bundle
}
