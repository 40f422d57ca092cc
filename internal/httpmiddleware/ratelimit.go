package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request draws from.
type KeyFunc func(c *gin.Context) string

// ClientIP keys buckets by client address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// TokenBucket is an in-memory per-key rate limiter refilled at rate tokens per minute.
// Redemption retries from one client are what it mostly guards against.
type TokenBucket struct {
	capacity int
	rate     int
	key      KeyFunc
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int, key KeyFunc) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	if key == nil {
		key = ClientIP
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     perMinute,
		key:      key,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware returns gin handler enforcing the limit.
func (l *TokenBucket) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(l.key(c)) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "message": "Too many requests, slow down"})
			return
		}
		c.Next()
	}
}

// Allow takes one token from key's bucket.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return l.capacity > 0
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.rate))
	if refill > 0 {
		b.tokens = min(b.tokens+refill, l.capacity)
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Prune forgets buckets idle for longer than age; they would be full again anyway.
func (l *TokenBucket) Prune(age time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-age)
	n := 0
	for k, b := range l.state {
		if b.last.Before(cutoff) {
			delete(l.state, k)
			n++
		}
	}
	return n
}
