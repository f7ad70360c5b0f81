// Package kv is the small key/value store behind rate limits, caches and
// short-lived tokens. The memory backend is process-local; the Redis backend
// is shared between instances.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("kv: miss")

// Store is a string key/value store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	// GetDel returns the value at key and removes it in one step.
	GetDel(ctx context.Context, key string) (string, error)
	// Set stores value; ttl <= 0 keeps it until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr increments the integer at key, starting the ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// GetJSON decodes the JSON value at key into dest.
func GetJSON(ctx context.Context, s Store, key string, dest any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if errUnmarshal := json.Unmarshal([]byte(raw), dest); errUnmarshal != nil {
		return fmt.Errorf("kv: decode %s: %w", key, errUnmarshal)
	}
	return nil
}

// SetJSON stores value at key as JSON.
func SetJSON(ctx context.Context, s Store, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data), ttl)
}

// Take redeems a one-time value: at most one caller gets it.
func Take(ctx context.Context, s Store, key string) (string, error) {
	return s.GetDel(ctx, key)
}
