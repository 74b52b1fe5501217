// Package ratelimit gates inbound messages per identity using state kept in
// the shared key-value store.
//
// Check-then-record is not atomic across requests: two near-simultaneous
// requests from one identity may both be admitted.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy names a rate limiting strategy.
type Policy string

const (
	// PolicyCooldown enforces a minimum spacing between requests.
	PolicyCooldown Policy = "cooldown"
	// PolicySlidingWindow admits at most N requests in any window.
	PolicySlidingWindow Policy = "window"
)

const (
	cooldownPrefix = "lastReq:"
	windowPrefix   = "rateLimit:"
)

// Checker is implemented by both policies.
type Checker interface {
	CheckAndRecord(ctx context.Context, identity string, window time.Duration, maxRequests int) (bool, error)
}

type cooldownStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type windowStore interface {
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListPush(ctx context.Context, key string, values ...string) error
	ListTrim(ctx context.Context, key string, start, stop int64) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

func validate(identity string, window time.Duration, maxRequests int) error {
	if strings.TrimSpace(identity) == "" {
		return errors.New("ratelimit: identity must not be empty")
	}
	if window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	if maxRequests < 1 {
		return errors.New("ratelimit: max requests must be at least 1")
	}
	return nil
}

// Cooldown rejects a request when the previous admitted request of the same
// identity happened less than window ago.
type Cooldown struct {
	store cooldownStore
	now   func() time.Time
}

func NewCooldown(s cooldownStore) (*Cooldown, error) {
	if s == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	return &Cooldown{store: s, now: time.Now}, nil
}

// CheckAndRecord ignores maxRequests beyond validating it; a cooldown admits
// one request per window.
func (c *Cooldown) CheckAndRecord(ctx context.Context, identity string, window time.Duration, maxRequests int) (bool, error) {
	if err := validate(identity, window, maxRequests); err != nil {
		return false, err
	}
	key := cooldownPrefix + identity
	now := c.now().UnixMilli()

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ratelimit: read last request: %w", err)
	}
	if ok {
		last, perr := strconv.ParseInt(raw, 10, 64)
		if perr == nil && now-last < window.Milliseconds() {
			return false, nil
		}
	}
	if err := c.store.Set(ctx, key, strconv.FormatInt(now, 10), window); err != nil {
		return false, fmt.Errorf("ratelimit: record request: %w", err)
	}
	return true, nil
}

// SlidingWindow admits at most maxRequests per identity in any window.
// Expired timestamps are pruned lazily on each check.
type SlidingWindow struct {
	store windowStore
	now   func() time.Time
}

func NewSlidingWindow(s windowStore) (*SlidingWindow, error) {
	if s == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	return &SlidingWindow{store: s, now: time.Now}, nil
}

func (w *SlidingWindow) CheckAndRecord(ctx context.Context, identity string, window time.Duration, maxRequests int) (bool, error) {
	if err := validate(identity, window, maxRequests); err != nil {
		return false, err
	}
	key := windowPrefix + identity
	now := w.now().UnixMilli()

	raw, err := w.store.ListRange(ctx, key, 0, -1)
	if err != nil {
		return false, fmt.Errorf("ratelimit: read window: %w", err)
	}
	recent := 0
	for _, r := range raw {
		ts, perr := strconv.ParseInt(r, 10, 64)
		if perr != nil {
			continue
		}
		if now-ts < window.Milliseconds() {
			recent++
		}
	}
	if recent >= maxRequests {
		return false, nil
	}

	if err := w.store.ListPush(ctx, key, strconv.FormatInt(now, 10)); err != nil {
		return false, fmt.Errorf("ratelimit: record request: %w", err)
	}
	if err := w.store.ListTrim(ctx, key, int64(-maxRequests), -1); err != nil {
		return false, fmt.Errorf("ratelimit: trim window: %w", err)
	}
	if err := w.store.Expire(ctx, key, window); err != nil {
		return false, fmt.Errorf("ratelimit: refresh window ttl: %w", err)
	}
	return true, nil
}

// Store is the union of the operations both policies need.
type Store interface {
	cooldownStore
	windowStore
}

// Config selects a policy and its limits.
type Config struct {
	Policy      Policy
	Window      time.Duration
	MaxRequests int
}

// Limiter binds a policy to fixed limits.
type Limiter struct {
	checker     Checker
	window      time.Duration
	maxRequests int
}

// New builds a Limiter for cfg.Policy. An empty policy means cooldown.
func New(s Store, cfg Config) (*Limiter, error) {
	if s == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	if cfg.MaxRequests < 1 {
		cfg.MaxRequests = 1
	}

	var checker Checker
	switch cfg.Policy {
	case PolicyCooldown, "":
		checker = &Cooldown{store: s, now: time.Now}
	case PolicySlidingWindow:
		checker = &SlidingWindow{store: s, now: time.Now}
	default:
		return nil, fmt.Errorf("ratelimit: unknown policy %q", cfg.Policy)
	}
	return &Limiter{checker: checker, window: cfg.Window, maxRequests: cfg.MaxRequests}, nil
}

// Allow reports whether identity may proceed, recording the request if so.
func (l *Limiter) Allow(ctx context.Context, identity string) (bool, error) {
	return l.checker.CheckAndRecord(ctx, identity, l.window, l.maxRequests)
}
