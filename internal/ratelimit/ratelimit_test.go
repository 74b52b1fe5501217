package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ai-nwanne/internal/repository"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newStore(t *testing.T) (*repository.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s, err := repository.NewRedisStore(rdb)
	require.NoError(t, err)
	return s, mr
}

// failingStore fails every operation.
type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingStore) Set(context.Context, string, string, time.Duration) error {
	return f.err
}
func (f failingStore) ListRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, f.err
}
func (f failingStore) ListPush(context.Context, string, ...string) error { return f.err }
func (f failingStore) ListTrim(context.Context, string, int64, int64) error { return f.err }
func (f failingStore) Expire(context.Context, string, time.Duration) error { return f.err }

func TestCooldown_RejectsWithinWindow(t *testing.T) {
	s, mr := newStore(t)
	c, err := NewCooldown(s)
	require.NoError(t, err)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	c.now = clock.now
	ctx := context.Background()

	ok, err := c.CheckAndRecord(ctx, "u1", 3*time.Second, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3*time.Second, mr.TTL("lastReq:u1"))

	clock.advance(2999 * time.Millisecond)
	ok, err = c.CheckAndRecord(ctx, "u1", 3*time.Second, 1)
	require.NoError(t, err)
	require.False(t, ok)

	clock.advance(time.Millisecond)
	ok, err = c.CheckAndRecord(ctx, "u1", 3*time.Second, 1)
	require.NoError(t, err)
	require.True(t, ok, "a request exactly one window later is allowed")
}

func TestCooldown_RejectLeavesStateUnchanged(t *testing.T) {
	s, mr := newStore(t)
	c, err := NewCooldown(s)
	require.NoError(t, err)
	clock := &fakeClock{t: time.UnixMilli(1_000)}
	c.now = clock.now
	ctx := context.Background()

	_, err = c.CheckAndRecord(ctx, "u1", time.Second, 1)
	require.NoError(t, err)
	before, _ := mr.Get("lastReq:u1")

	clock.advance(500 * time.Millisecond)
	ok, err := c.CheckAndRecord(ctx, "u1", time.Second, 1)
	require.NoError(t, err)
	require.False(t, ok)
	after, _ := mr.Get("lastReq:u1")
	require.Equal(t, before, after)
}

func TestCooldown_IdentitiesAreIndependent(t *testing.T) {
	s, _ := newStore(t)
	c, err := NewCooldown(s)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := c.CheckAndRecord(ctx, "u1", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.CheckAndRecord(ctx, "u2", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSlidingWindow_AdmitsAtMostMax(t *testing.T) {
	s, _ := newStore(t)
	w, err := NewSlidingWindow(s)
	require.NoError(t, err)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	w.now = clock.now
	ctx := context.Background()

	var allowed []bool
	for i := 0; i < 5; i++ {
		ok, err := w.CheckAndRecord(ctx, "u1", 10*time.Second, 3)
		require.NoError(t, err)
		allowed = append(allowed, ok)
		clock.advance(100 * time.Millisecond)
	}
	require.Equal(t, []bool{true, true, true, false, false}, allowed)

	recorded, err := s.ListRange(ctx, "rateLimit:u1", 0, -1)
	require.NoError(t, err)
	require.Len(t, recorded, 3)
}

func TestSlidingWindow_OldEntriesArePruned(t *testing.T) {
	s, _ := newStore(t)
	w, err := NewSlidingWindow(s)
	require.NoError(t, err)
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	w.now = clock.now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := w.CheckAndRecord(ctx, "u1", time.Second, 2)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := w.CheckAndRecord(ctx, "u1", time.Second, 2)
	require.NoError(t, err)
	require.False(t, ok)

	clock.advance(time.Second)
	ok, err = w.CheckAndRecord(ctx, "u1", time.Second, 2)
	require.NoError(t, err)
	require.True(t, ok)

	recorded, err := s.ListRange(ctx, "rateLimit:u1", 0, -1)
	require.NoError(t, err)
	require.Len(t, recorded, 2, "list is trimmed to the newest max entries")
}

func TestValidation(t *testing.T) {
	s, _ := newStore(t)
	c, err := NewCooldown(s)
	require.NoError(t, err)
	w, err := NewSlidingWindow(s)
	require.NoError(t, err)
	ctx := context.Background()

	for _, chk := range []Checker{c, w} {
		_, err = chk.CheckAndRecord(ctx, " ", time.Second, 1)
		require.Error(t, err)
		_, err = chk.CheckAndRecord(ctx, "u1", 0, 1)
		require.Error(t, err)
		_, err = chk.CheckAndRecord(ctx, "u1", time.Second, 0)
		require.Error(t, err)
	}
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("store unavailable")
	c, err := NewCooldown(failingStore{err: boom})
	require.NoError(t, err)
	ok, err := c.CheckAndRecord(context.Background(), "u1", time.Second, 1)
	require.ErrorIs(t, err, boom)
	require.False(t, ok)

	w, err := NewSlidingWindow(failingStore{err: boom})
	require.NoError(t, err)
	ok, err = w.CheckAndRecord(context.Background(), "u1", time.Second, 1)
	require.ErrorIs(t, err, boom)
	require.False(t, ok)
}

func TestNew_SelectsPolicy(t *testing.T) {
	s, mr := newStore(t)

	_, err := New(nil, Config{Window: time.Second})
	require.Error(t, err)
	_, err = New(s, Config{Policy: PolicyCooldown})
	require.Error(t, err)
	_, err = New(s, Config{Policy: "bogus", Window: time.Second})
	require.Error(t, err)

	l, err := New(s, Config{Policy: PolicySlidingWindow, Window: time.Minute, MaxRequests: 2})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, mr.Exists("rateLimit:u1"))

	l, err = New(s, Config{Window: time.Minute})
	require.NoError(t, err)
	ok, err = l.Allow(ctx, "u9")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("lastReq:u9"))
}
