package task

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-edgecam/pkg/capture"
)

// flakyLock refuses every nth acquisition and counts holders.
type flakyLock struct {
	inner    *capture.Lock
	failEach int
	attempts atomic.Int64
	held     atomic.Int64
	maxHeld  atomic.Int64
}

func (l *flakyLock) Acquire(ctx context.Context, timeout time.Duration) error {
	n := l.attempts.Add(1)
	if l.failEach > 0 && n%int64(l.failEach) == 0 {
		return capture.ErrLockTimeout
	}
	if err := l.inner.Acquire(ctx, timeout); err != nil {
		return err
	}
	if h := l.held.Add(1); h > l.maxHeld.Load() {
		l.maxHeld.Store(h)
	}
	return nil
}

func (l *flakyLock) Release() {
	l.held.Add(-1)
	l.inner.Release()
}

func newMock(t *testing.T, opts ...capture.MockOption) *capture.MockDevice {
	t.Helper()
	cfg := capture.DefaultConfig()
	cfg.Width, cfg.Height = 8, 8
	dev, err := capture.NewMockDevice(cfg, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestCycle_BalanceOverManyCycles(t *testing.T) {
	lock := &flakyLock{inner: capture.NewLock(), failEach: 7}
	dev := newMock(t, capture.WithFailEvery(3))
	c := &Cycle{Lock: lock, Device: dev, Timeout: capture.DefaultLockTimeout}

	errProcess := errors.New("decode failed")
	var calls int
	process := func(ctx context.Context, f *capture.Frame) error {
		calls++
		switch {
		case calls%13 == 0:
			panic("kernel fault")
		case calls%11 == 0:
			return errProcess
		}
		return nil
	}

	counts := map[Outcome]int{}
	panics := 0
	ctx := context.Background()
	for i := 0; i < 10000; i++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					panics++
				}
			}()
			outcome, _ := c.Run(ctx, process)
			counts[outcome]++
		}()
	}

	stats := lock.inner.Stats()
	if stats.Acquired != stats.Released {
		t.Errorf("lock acquired %d, released %d", stats.Acquired, stats.Released)
	}
	if stats.Held {
		t.Error("lock still held")
	}
	if got := dev.Outstanding(); got != 0 {
		t.Errorf("%d frames outstanding", got)
	}
	ds := dev.Stats()
	if ds.Acquired != ds.Released || ds.DoubleReleases != 0 {
		t.Errorf("device stats unbalanced: %+v", ds)
	}
	if lock.maxHeld.Load() != 1 {
		t.Errorf("max concurrent holders %d", lock.maxHeld.Load())
	}
	if counts[Skipped] == 0 || counts[CaptureFailed] == 0 || counts[ProcessFailed] == 0 || panics == 0 {
		t.Errorf("expected every path exercised: %v panics=%d", counts, panics)
	}
	total := counts[Processed] + counts[Skipped] + counts[CaptureFailed] + counts[ProcessFailed] + panics
	if total != 10000 {
		t.Errorf("accounted for %d cycles", total)
	}
}

func TestCycle_SkipDoesNotTouchDevice(t *testing.T) {
	lock := capture.NewLock()
	if err := lock.Acquire(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	dev := newMock(t)
	c := &Cycle{Lock: lock, Device: dev, Timeout: 5 * time.Millisecond}
	called := false
	outcome, err := c.Run(context.Background(), func(context.Context, *capture.Frame) error {
		called = true
		return nil
	})
	if outcome != Skipped || !errors.Is(err, capture.ErrLockTimeout) {
		t.Errorf("got %v, %v; want skipped with ErrLockTimeout", outcome, err)
	}
	if called {
		t.Error("process ran without the lock")
	}
	if dev.Stats().Acquired != 0 {
		t.Error("device used without the lock")
	}
}

func TestActivity_StopEndsLoop(t *testing.T) {
	lock := capture.NewLock()
	dev := newMock(t)
	errGone := errors.New("client gone")

	n := 0
	a := NewActivity("stream", lock, dev, func(ctx context.Context, f *capture.Frame) error {
		n++
		if n == 3 {
			return Stop(errGone)
		}
		return nil
	}, nil, WithIdleDelay(0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Run(ctx); !errors.Is(err, errGone) {
		t.Fatalf("expected stop cause, got %v", err)
	}
	if n != 3 {
		t.Errorf("process ran %d times", n)
	}
	if lock.Stats().Held || dev.Outstanding() != 0 {
		t.Error("resources not returned after stop")
	}
	if s := a.Stats(); s.Processed != 2 || s.ProcessFailed != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestActivity_StopNil(t *testing.T) {
	a := NewActivity("stream", capture.NewLock(), newMock(t), func(context.Context, *capture.Frame) error {
		return Stop(nil)
	}, nil)
	if err := a.Run(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestActivity_ContextCancel(t *testing.T) {
	a := NewActivity("inference", capture.NewLock(), newMock(t), func(context.Context, *capture.Frame) error {
		return nil
	}, nil, WithIdleDelay(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("activity did not stop")
	}
	if a.Stats().Processed == 0 {
		t.Error("expected at least one processed cycle")
	}
}

func TestActivity_LogsSkipWhenBusy(t *testing.T) {
	lock := capture.NewLock()
	if err := lock.Acquire(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	var buf bytes.Buffer
	a := NewActivity("inference", lock, newMock(t), func(context.Context, *capture.Frame) error {
		return nil
	}, bufferLogger(&buf), WithLockTimeout(time.Millisecond))

	outcome, stop, err := a.Step(context.Background())
	if outcome != Skipped || stop || !errors.Is(err, capture.ErrLockTimeout) {
		t.Fatalf("Step = %v, %v, %v", outcome, stop, err)
	}
	if got := strings.Count(buf.String(), "cycle skipped"); got != 1 {
		t.Errorf("expected one skip log line, got %d:\n%s", got, buf.String())
	}
	if a.Stats().Skipped != 1 {
		t.Errorf("skipped counter %d", a.Stats().Skipped)
	}
}

func TestActivity_CaptureFailureIsSkipped(t *testing.T) {
	var buf bytes.Buffer
	dev := newMock(t, capture.WithFailEvery(1))
	a := NewActivity("inference", capture.NewLock(), dev, func(context.Context, *capture.Frame) error {
		t.Error("process called without a frame")
		return nil
	}, bufferLogger(&buf))

	outcome, stop, _ := a.Step(context.Background())
	if outcome != CaptureFailed || stop {
		t.Errorf("Step = %v, stop=%v", outcome, stop)
	}
	if !strings.Contains(buf.String(), "capture failed") {
		t.Errorf("missing capture failure log:\n%s", buf.String())
	}
}

func TestOutcome_String(t *testing.T) {
	if Processed.String() != "processed" || Outcome(42).String() != "unknown" {
		t.Error("unexpected Outcome strings")
	}
}
