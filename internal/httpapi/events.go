package httpapi

import (
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const keepAliveInterval = 25 * time.Second

type change struct {
	key   string
	value json.RawMessage
}

// events streams every shared store change as a server-sent event named after the key.
// Clients that fall behind lose events and should re-read the collections.
// The stream ends when the client leaves or CloseStreams is called.
func (s *Server) events(c *gin.Context) {
	changes := make(chan change, 32)
	unsubscribe := s.svc.Subscribe(func(key string, value json.RawMessage) {
		select {
		case changes <- change{key: key, value: value}:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	ready := false
	c.Stream(func(w io.Writer) bool {
		if !ready {
			ready = true
			c.SSEvent("ready", gin.H{"timestamp": time.Now().UnixMilli()})
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.closing:
			return false
		case ch := <-changes:
			c.SSEvent(ch.key, gin.H{"key": ch.key, "value": ch.value, "timestamp": time.Now().UnixMilli()})
			return true
		case t := <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": t.UnixMilli()})
			return true
		}
	})
}
