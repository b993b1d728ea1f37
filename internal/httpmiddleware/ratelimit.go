package httpmiddleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"geoattend/internal/logging"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// sweepAbove is the number of tracked keys past which idle buckets are dropped.
const sweepAbove = 4096

// SimpleTokenBucket is an in-memory per-key token bucket.
type SimpleTokenBucket struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Allow implements Limiter.
func (l *SimpleTokenBucket) Allow(_ context.Context, key string) (bool, error) {
	return l.allow(key), nil
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.state[key]
	now := l.now()
	if !ok {
		if len(l.state) >= sweepAbove {
			l.sweep(now)
		}
		b = &bucket{tokens: l.capacity - 1, last: now}
		l.state[key] = b
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have been idle long enough to be full again.
func (l *SimpleTokenBucket) sweep(now time.Time) {
	idle := time.Minute
	if l.rate > 0 {
		idle = time.Duration(float64(l.capacity)/float64(l.rate)*float64(time.Minute)) + time.Minute
	}
	for k, b := range l.state {
		if now.Sub(b.last) > idle {
			delete(l.state, k)
		}
	}
}

// RateLimit rejects callers over the limit with 429. Limiter errors let the
// request through so a limiter outage never blocks attendance.
func RateLimit(l Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		key = c.FullPath() + "|" + key
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logging.FromContext(c.Request.Context(), logger).Warn("rate limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":  false,
				"message":  "Too many requests. Please wait a moment and try again.",
				"category": "warning",
			})
			return
		}
		c.Next()
	}
}
