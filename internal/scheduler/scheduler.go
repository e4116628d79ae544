// Package scheduler runs dispatch jobs in-process, either on a fixed interval
// or at cron times in the congregation's timezone.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Option func(*options)

type options struct {
	logger      *slog.Logger
	tickTimeout time.Duration
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTickTimeout bounds a single tick. Zero means no bound beyond Stop.
func WithTickTimeout(d time.Duration) Option {
	return func(o *options) { o.tickTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Scheduler calls tickFn immediately on Start and then every interval.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)
	opts     options

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context), opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		opts:     buildOptions(opts),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.opts.logger.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.opts.logger.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the running tick and waits for it to return.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.opts.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	runGuarded(ctx, s.opts, "scheduler tick", s.tickFn)
}

func runGuarded(ctx context.Context, o options, what string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(what+" panic recovered", "panic", r)
		}
	}()

	if o.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.tickTimeout)
		defer cancel()
	}

	start := time.Now()
	fn(ctx)
	o.logger.Info(what+" completed", "duration_ms", time.Since(start).Milliseconds())
}
