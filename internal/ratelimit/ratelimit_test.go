package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fimai/fimai-chat/internal/kv"
	"github.com/gin-gonic/gin"
)

func TestLimiterFixedWindow(t *testing.T) {
	l := New(kv.NewMemoryStore(), "test", time.Minute, 2)
	base := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		d, err := l.Allow(context.Background(), "ip")
		if err != nil || !d.Allowed {
			t.Fatalf("hit %d: expected allowed, got %+v %v", i, d, err)
		}
	}
	d, _ := l.Allow(context.Background(), "ip")
	if d.Allowed {
		t.Fatalf("expected third hit to be rejected")
	}
	if d.RetryAfter != 55*time.Second {
		t.Fatalf("expected retry after 55s, got %s", d.RetryAfter)
	}

	l.now = func() time.Time { return base.Add(time.Minute) }
	if d, _ := l.Allow(context.Background(), "ip"); !d.Allowed {
		t.Fatalf("expected new window to allow")
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(New(kv.NewMemoryStore(), "auth", time.Minute, 1), ByClientIP))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/x", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/x", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestZeroMaxDisablesLimiting(t *testing.T) {
	l := New(kv.NewMemoryStore(), "off", time.Minute, 0)
	for i := 0; i < 10; i++ {
		if d, _ := l.Allow(context.Background(), "k"); !d.Allowed {
			t.Fatalf("expected disabled limiter to allow")
		}
	}
}
