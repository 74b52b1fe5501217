package repository

import (
	"context"
	"time"
)

// Store is the key-value surface shared by the rate limiter, response cache,
// conversation memory and the auto-poster. List ranges follow Redis LRANGE /
// LTRIM semantics: indices are inclusive and negative values count from the
// tail.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	ListPush(ctx context.Context, key string, values ...string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	HashSet(ctx context.Context, key string, fields map[string]string) error
	Ping(ctx context.Context) error
}

// normalizeRange resolves Redis-style inclusive indices against a list of
// length n. ok is false when the range selects nothing.
func normalizeRange(start, stop, n int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
