package kv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := s.Set(ctx, "a", "1", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := s.Get(ctx, "a"); err != nil || v != "1" {
		t.Fatalf("get: %q %v", v, err)
	}

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}

	advance(2 * time.Minute)
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expired key, got %v", err)
	}
	if n, _ := s.Incr(ctx, "counter", time.Minute); n != 1 {
		t.Fatalf("expected counter to restart after expiry, got %d", n)
	}

	if err := SetJSON(ctx, s, "doc", map[string]int{"x": 7}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var doc map[string]int
	if err := GetJSON(ctx, s, "doc", &doc); err != nil || doc["x"] != 7 {
		t.Fatalf("get json: %v %v", doc, err)
	}
	if v, err := Take(ctx, s, "doc"); err != nil || v == "" {
		t.Fatalf("take: %q %v", v, err)
	}
	if _, err := s.Get(ctx, "doc"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected take to delete, got %v", err)
	}
}

// exerciseTakeOnce redeems one key from many goroutines at once.
func exerciseTakeOnce(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	if err := s.Set(ctx, "pwreset:tok", "42", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		redeems atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := Take(ctx, s, "pwreset:tok")
			if err == nil && v == "42" {
				redeems.Add(1)
				return
			}
			if !errors.Is(err, ErrMiss) {
				t.Errorf("take: %q %v", v, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := redeems.Load(); got != 1 {
		t.Fatalf("token redeemed %d times, want 1", got)
	}
	if _, err := s.Get(ctx, "pwreset:tok"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected token gone, got %v", err)
	}
}

func TestMemoryStoreGetDelSkipsExpired(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v", time.Second)
	now = now.Add(2 * time.Second)
	if _, err := s.GetDel(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss for expired key, got %v", err)
	}
}

func TestMemoryStoreTakeOnce(t *testing.T) {
	exerciseTakeOnce(t, NewMemoryStore())
}

func TestRedisStoreTakeOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	defer s.Close()
	exerciseTakeOnce(t, s)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	exerciseStore(t, s, func(d time.Duration) { now = now.Add(d) })
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "test:")
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	defer s.Close()

	exerciseStore(t, s, mr.FastForward)

	if err := s.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("test:k") {
		t.Fatalf("expected prefixed key in redis")
	}
}
