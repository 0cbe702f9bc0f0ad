package kv

import (
	"context"
	"time"
)

// Store is the fast key-value store used for challenge nonces, the
// first-submission cache, monthly submission counters and plugin
// failure counters. Increments are atomic: a single round trip, not
// read-modify-write, so concurrent workers never lose counts.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	ExpireAt(ctx context.Context, key string, at time.Time) error
}
