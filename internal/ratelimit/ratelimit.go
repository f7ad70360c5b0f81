// Package ratelimit implements fixed-window request limits on top of kv.Store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter allows at most Max hits per key within each Window.
type Limiter struct {
	store  kv.Store
	name   string
	window time.Duration
	max    int
	now    func() time.Time
}

// New builds a limiter. A max of zero disables limiting.
func New(store kv.Store, name string, window time.Duration, max int) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, name: name, window: window, max: max, now: time.Now}
}

// Allow records one hit for key and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	if l == nil || l.store == nil || l.max <= 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.now()
	windowStart := now.Truncate(l.window)
	bucket := fmt.Sprintf("ratelimit:%s:%s:%d", l.name, key, windowStart.Unix())

	count, err := l.store.Incr(ctx, bucket, l.window)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	remaining := l.max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.max),
		Limit:     l.max,
		Remaining: remaining,
	}
	if !d.Allowed {
		d.RetryAfter = windowStart.Add(l.window).Sub(now)
	}
	return d, nil
}

// KeyFunc derives the limiter key for a request. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys requests by client address.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// Middleware rejects requests over the limit with 429. Store failures let the request through.
func Middleware(l *Limiter, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.max <= 0 {
			c.Next()
			return
		}
		key := keyFn(c)
		if key == "" {
			c.Next()
			return
		}
		d, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.WithError(err).Warn("rate limiter: store unavailable")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			seconds := int(d.RetryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
