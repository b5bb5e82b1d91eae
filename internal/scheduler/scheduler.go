// Package scheduler runs the periodic background refresh.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calview/internal/log"
	"calview/internal/view"
)

// Target is what a tick refreshes.
type Target interface {
	Refresh(ctx context.Context, force bool) (view.Snapshot, error)
	Rollover(ctx context.Context, lastTick time.Time) bool
}

// Pruner drops persisted snapshots older than cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	Location  *time.Location
	Now       func() time.Time
	Timeout   time.Duration
	Pruner    Pruner
	Retention time.Duration
}

// Scheduler refreshes Target on a cron schedule. Ticks go through the
// regular cache path, so a tick inside the cache duration costs nothing.
type Scheduler struct {
	cron   *cron.Cron
	target Target
	opts   Options

	mu       sync.Mutex
	lastTick time.Time
	running  bool
}

// cronLogger routes cron's own logging through the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}

// New parses spec (standard five-field cron) and binds it to target.
func New(spec string, target Target, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	s := &Scheduler{target: target, opts: opts, lastTick: opts.Now()}
	s.cron = cron.New(
		cron.WithLocation(opts.Location),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(context.Background()) }); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	appLog.Info("scheduler started", "next", s.cron.Entries()[0].Next)
}

// Stop halts the schedule and waits for a running tick, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out")
	}
}

// Tick runs one background refresh. Failures are logged only.
func (s *Scheduler) Tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	s.mu.Lock()
	last := s.lastTick
	s.lastTick = s.opts.Now()
	s.mu.Unlock()

	// A day rollover refreshes through the controller's observers.
	if !s.target.Rollover(ctx, last) {
		if _, err := s.target.Refresh(ctx, false); err != nil {
			appLog.Warn("background refresh failed", "err", err.Error())
		}
	}

	if s.opts.Pruner != nil && s.opts.Retention > 0 {
		cutoff := s.opts.Now().Add(-s.opts.Retention)
		n, err := s.opts.Pruner.Prune(ctx, cutoff)
		if err != nil {
			appLog.Error("fallback prune failed", err)
		} else if n > 0 {
			appLog.Info("fallback pruned", "rows", n)
		}
	}
}
