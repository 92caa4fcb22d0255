package task

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
)

// Default delays between cycles.
const (
	DefaultSkipDelay     = 5 * time.Millisecond
	DefaultInferenceIdle = time.Second
	DefaultStreamIdle    = 10 * time.Millisecond
)

// Config holds Activity timing.
type Config struct {
	// LockTimeout bounds each acquisition attempt.
	LockTimeout time.Duration

	// IdleDelay follows every cycle that held the lock.
	IdleDelay time.Duration

	// SkipDelay follows every cycle that did not get a frame.
	SkipDelay time.Duration
}

// Option configures an Activity.
type Option func(*Config)

// WithLockTimeout sets the bounded lock wait.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) { c.LockTimeout = d }
}

// WithIdleDelay sets the pause after a held cycle.
func WithIdleDelay(d time.Duration) Option {
	return func(c *Config) { c.IdleDelay = d }
}

// WithSkipDelay sets the pause after a skipped cycle.
func WithSkipDelay(d time.Duration) Option {
	return func(c *Config) { c.SkipDelay = d }
}

// Stats counts cycle outcomes.
type Stats struct {
	Cycles        int64 `json:"cycles"`
	Processed     int64 `json:"processed"`
	Skipped       int64 `json:"skipped"`
	CaptureFailed int64 `json:"capture_failed"`
	ProcessFailed int64 `json:"process_failed"`
}

// Activity loops cycles until its context ends or process calls Stop.
type Activity struct {
	name    string
	cycle   Cycle
	process ProcessFunc
	cfg     Config
	logger  *slog.Logger

	cycles        atomic.Int64
	processed     atomic.Int64
	skipped       atomic.Int64
	captureFailed atomic.Int64
	processFailed atomic.Int64
}

// NewActivity creates an activity named name. Defaults are the inference
// loop timings (50ms lock wait, 1s idle, 5ms skip).
func NewActivity(name string, lock capture.Locker, dev capture.Device, process ProcessFunc, logger *slog.Logger, opts ...Option) *Activity {
	cfg := Config{
		LockTimeout: capture.DefaultLockTimeout,
		IdleDelay:   DefaultInferenceIdle,
		SkipDelay:   DefaultSkipDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Activity{
		name:    name,
		cycle:   Cycle{Lock: lock, Device: dev, Timeout: cfg.LockTimeout},
		process: process,
		cfg:     cfg,
		logger:  logger.With("activity", name),
	}
}

// Name returns the activity name.
func (a *Activity) Name() string {
	return a.name
}

// Step runs a single cycle and updates counters. stop is set when process
// called Stop, in which case err is the error passed to Stop.
func (a *Activity) Step(ctx context.Context) (outcome Outcome, stop bool, err error) {
	outcome, err = a.cycle.Run(ctx, a.process)
	a.cycles.Add(1)

	switch outcome {
	case Processed:
		a.processed.Add(1)
	case Skipped:
		a.skipped.Add(1)
		if errors.Is(err, capture.ErrLockTimeout) {
			a.logger.Debug("cycle skipped: device busy")
		} else if ctx.Err() == nil {
			a.logger.Warn("cycle skipped", "error", err)
		}
	case CaptureFailed:
		a.captureFailed.Add(1)
		a.logger.Warn("capture failed", "error", err)
	case ProcessFailed:
		if IsStop(err) {
			return outcome, true, stopCause(err)
		}
		a.processFailed.Add(1)
		a.logger.Warn("process failed", "error", err)
	}
	return outcome, false, err
}

// Run loops until ctx ends, returning nil, or until process calls Stop,
// returning the error passed to Stop.
func (a *Activity) Run(ctx context.Context) error {
	a.logger.Info("activity started",
		"lock_timeout", a.cfg.LockTimeout,
		"idle", a.cfg.IdleDelay,
		"skip", a.cfg.SkipDelay,
	)
	defer a.logger.Info("activity stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		outcome, stop, err := a.Step(ctx)
		if stop {
			return err
		}

		delay := a.cfg.IdleDelay
		if outcome == Skipped || outcome == CaptureFailed {
			delay = a.cfg.SkipDelay
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// Stats returns the outcome counters.
func (a *Activity) Stats() Stats {
	return Stats{
		Cycles:        a.cycles.Load(),
		Processed:     a.processed.Load(),
		Skipped:       a.skipped.Load(),
		CaptureFailed: a.captureFailed.Load(),
		ProcessFailed: a.processFailed.Load(),
	}
}

// sleep waits d or until ctx ends. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
