// Package task runs the acquire, capture, process, release cycle that both
// the inference loop and the network stream use to time-share the capture
// device.
package task

import (
	"context"
	"errors"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
)

// Outcome is the result of one cycle.
type Outcome int

const (
	// Processed means the frame was captured and process returned nil.
	Processed Outcome = iota
	// Skipped means the lock was not obtained in time.
	Skipped
	// CaptureFailed means the lock was held but the device produced no frame.
	CaptureFailed
	// ProcessFailed means process returned an error.
	ProcessFailed
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Skipped:
		return "skipped"
	case CaptureFailed:
		return "capture_failed"
	case ProcessFailed:
		return "process_failed"
	default:
		return "unknown"
	}
}

// ProcessFunc consumes a frame while the lock is held. The frame must not
// be retained after it returns.
type ProcessFunc func(ctx context.Context, f *capture.Frame) error

// stopError ends an Activity from inside a ProcessFunc.
type stopError struct {
	err error
}

func (e *stopError) Error() string {
	if e.err == nil {
		return "task: stopped"
	}
	return "task: stopped: " + e.err.Error()
}

func (e *stopError) Unwrap() error {
	return e.err
}

// Stop wraps err so that the running Activity returns it after the
// current cycle has released the frame and the lock.
func Stop(err error) error {
	return &stopError{err: err}
}

// IsStop reports whether err was produced by Stop.
func IsStop(err error) bool {
	var s *stopError
	return errors.As(err, &s)
}

func stopCause(err error) error {
	var s *stopError
	if errors.As(err, &s) {
		return s.err
	}
	return err
}

// Cycle performs one TRY_ACQUIRE, then HELD, CAPTURE, PROCESS and RELEASE,
// or SKIP.
type Cycle struct {
	Lock    capture.Locker
	Device  capture.Device
	Timeout time.Duration
}

// Run executes one cycle. The frame and the lock are returned on every
// path once obtained, including when process panics.
func (c *Cycle) Run(ctx context.Context, process ProcessFunc) (Outcome, error) {
	if err := c.Lock.Acquire(ctx, c.Timeout); err != nil {
		return Skipped, err
	}
	defer c.Lock.Release()

	f, err := c.Device.AcquireFrame(ctx)
	if err != nil {
		return CaptureFailed, err
	}
	defer c.Device.ReleaseFrame(f)

	if err := process(ctx, f); err != nil {
		return ProcessFailed, err
	}
	return Processed, nil
}
