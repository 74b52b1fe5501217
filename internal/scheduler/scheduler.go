// Package scheduler runs named periodic jobs in-process on six-field cron
// expressions (seconds first).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec parses as a six-field cron expression.
func Validate(spec string) error {
	if _, err := parser.Parse(strings.TrimSpace(spec)); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron runner. Jobs receive a context that is cancelled by
// Stop.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

type Option func(*options)

type options struct {
	location *time.Location
	timeout  time.Duration
}

func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithJobTimeout bounds every run.
func WithJobTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{location: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	cl := cronLogger{l: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(o.location),
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.Recover(cl),
				cron.SkipIfStillRunning(cl),
			),
		),
		logger:  logger,
		timeout: o.timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	return s
}

// Add registers job under name on spec.
func (s *Scheduler) Add(name, spec string, job JobFunc) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("scheduler: job name must not be empty")
	}
	if job == nil {
		return errors.New("scheduler: job must not be nil")
	}
	if err := Validate(spec); err != nil {
		return err
	}
	_, err := s.cron.AddFunc(strings.TrimSpace(spec), func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *Scheduler) run(name string, job JobFunc) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed", "job", name, "duration", time.Since(start), "err", err)
		return
	}
	s.logger.InfoContext(ctx, "job finished", "job", name, "duration", time.Since(start))
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running jobs and waits for them until ctx
// is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
