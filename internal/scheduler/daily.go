package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Daily runs fn at the times described by a standard five-field cron spec,
// evaluated in loc. A run still in progress when the next one is due is
// skipped.
type Daily struct {
	spec     string
	loc      *time.Location
	schedule cron.Schedule
	fn       func(context.Context)
	opts     options

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDaily(spec string, loc *time.Location, fn func(context.Context), opts ...Option) (*Daily, error) {
	if fn == nil {
		return nil, errors.New("fn must not be nil")
	}
	if loc == nil {
		loc = time.Local
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return &Daily{
		spec:     spec,
		loc:      loc,
		schedule: schedule,
		fn:       fn,
		opts:     buildOptions(opts),
	}, nil
}

// Next returns the first activation strictly after t.
func (d *Daily) Next(t time.Time) time.Time {
	return d.schedule.Next(t.In(d.loc))
}

func (d *Daily) Start() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron != nil {
		return false
	}

	logger := cronLogger{l: d.opts.logger}
	c := cron.New(
		cron.WithLocation(d.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger)),
	)

	d.ctx, d.cancel = context.WithCancel(context.Background())
	ctx := d.ctx
	c.Schedule(d.schedule, cron.FuncJob(func() {
		runGuarded(ctx, d.opts, "daily job", d.fn)
	}))
	c.Start()
	d.cron = c

	d.opts.logger.Info("daily scheduler started", "spec", d.spec, "timezone", d.loc.String(),
		"next", d.Next(time.Now()).Format(time.RFC3339))
	return true
}

// Stop cancels a run in progress and waits for it to return.
func (d *Daily) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cron == nil {
		return false
	}

	d.cancel()
	<-d.cron.Stop().Done()
	d.cron = nil

	d.opts.logger.Info("daily scheduler stopped")
	return true
}

func (d *Daily) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cron != nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
