package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...Option) (*Scheduler, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return New(logger, opts...), &buf
}

func runFirst(s *Scheduler) {
	s.cron.Entries()[0].WrappedJob.Run()
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("0 0 8 * * *"))
	require.NoError(t, Validate("@every 1h"))
	require.Error(t, Validate("0 8 * * *"))
	require.Error(t, Validate("not a schedule"))
}

func TestAdd_Validation(t *testing.T) {
	s, _ := newTestScheduler(t)
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Add("", "0 0 8 * * *", noop))
	require.Error(t, s.Add("autopost", "0 0 8 * * *", nil))
	require.Error(t, s.Add("autopost", "bogus", noop))
	require.NoError(t, s.Add("autopost", "0 0 8 * * *", noop))
	require.Equal(t, 1, s.Entries())
}

func TestRun_LogsOutcome(t *testing.T) {
	s, buf := newTestScheduler(t)
	calls := 0
	require.NoError(t, s.Add("autopost", "0 0 8 * * *", func(ctx context.Context) error {
		calls++
		if calls == 2 {
			return errors.New("llm down")
		}
		return nil
	}))

	runFirst(s)
	require.Contains(t, buf.String(), `"msg":"job finished"`)
	runFirst(s)
	require.Equal(t, 2, calls)
	require.Contains(t, buf.String(), `"msg":"job failed"`)
	require.Contains(t, buf.String(), "llm down")
}

func TestRun_RecoversPanics(t *testing.T) {
	s, buf := newTestScheduler(t)
	require.NoError(t, s.Add("boom", "@every 1h", func(context.Context) error {
		panic("kaboom")
	}))

	require.NotPanics(t, func() { runFirst(s) })
	require.Contains(t, buf.String(), "panic")
}

func TestRun_AppliesTimeout(t *testing.T) {
	s, _ := newTestScheduler(t, WithJobTimeout(20*time.Millisecond))
	var deadline bool
	require.NoError(t, s.Add("slow", "@every 1h", func(ctx context.Context) error {
		_, deadline = ctx.Deadline()
		return nil
	}))

	runFirst(s)
	require.True(t, deadline)
}

func TestStop_CancelsJobContext(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.ErrorIs(t, s.ctx.Err(), context.Canceled)
}
