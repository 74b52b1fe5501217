// Package respcache memoizes expensive per-identity answers (detected
// language, generated replies, translations) in the key-value store.
package respcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ai-nwanne/internal/metrics"
)

// Namespace separates cache categories that share the identity/text key space.
type Namespace string

const (
	NamespaceLanguage Namespace = "lang"
	NamespaceAnswer   Namespace = "aiResp"
)

// TranslationNamespace returns the namespace for translations into target.
func TranslationNamespace(target string) Namespace {
	return Namespace("tr-" + target)
}

// ComputeFunc produces the value on a cache miss.
type ComputeFunc func(ctx context.Context) (string, error)

type store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Cache is a read-through cache scoped per identity.
type Cache struct {
	store   store
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Cache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(s store, opts ...Option) (*Cache, error) {
	if s == nil {
		return nil, errors.New("respcache: store must not be nil")
	}
	c := &Cache{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Key builds the store key for (ns, identity, input).
func Key(ns Namespace, identity, input string) string {
	return string(ns) + ":" + identity + ":" + NormalizeText(input)
}

// GetOrCompute returns the cached value for (ns, identity, input) or computes,
// stores and returns it. A failed compute stores nothing. Empty results are
// returned but not stored, so they are recomputed next time.
func (c *Cache) GetOrCompute(ctx context.Context, ns Namespace, identity, input string, ttl time.Duration, compute ComputeFunc) (string, error) {
	if compute == nil {
		return "", errors.New("respcache: compute func must not be nil")
	}
	key := Key(ns, identity, input)

	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("respcache: lookup %s: %w", ns, err)
	}
	c.metrics.ObserveCacheLookup(string(ns), ok)
	if ok {
		return v, nil
	}

	v, err = compute(ctx)
	if err != nil {
		return "", err
	}
	if v == "" {
		return v, nil
	}
	if err := c.store.Set(ctx, key, v, ttl); err != nil {
		c.metrics.ObserveCacheWriteError(string(ns))
		c.logger.WarnContext(ctx, "failed to cache value", "namespace", string(ns), "identity", identity, "err", err)
		return v, nil
	}
	c.logger.DebugContext(ctx, "cached value", "namespace", string(ns), "identity", identity)
	return v, nil
}

// NormalizeText trims s and percent-escapes every byte outside
// A-Z a-z 0-9 - _ ~ ! * ' ( ), so user text cannot inject key separators.
func NormalizeText(s string) string {
	s = strings.TrimSpace(s)
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if keepByte(ch) {
			b.WriteByte(ch)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[ch>>4])
		b.WriteByte(hex[ch&0x0f])
	}
	return b.String()
}

func keepByte(ch byte) bool {
	switch {
	case 'a' <= ch && ch <= 'z', 'A' <= ch && ch <= 'Z', '0' <= ch && ch <= '9':
		return true
	}
	switch ch {
	case '-', '_', '~', '!', '*', '\'', '(', ')':
		return true
	}
	return false
}
