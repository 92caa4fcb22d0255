package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLock_AcquireRelease(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	if err := l.Acquire(ctx, DefaultLockTimeout); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !l.Stats().Held {
		t.Error("expected lock to be held")
	}
	l.Release()

	// Reacquire after release
	if err := l.Acquire(ctx, DefaultLockTimeout); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	l.Release()

	stats := l.Stats()
	if stats.Acquired != 2 || stats.Released != 2 || stats.Timeouts != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Held {
		t.Error("expected lock to be free")
	}
}

func TestLock_Timeout(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	if err := l.Acquire(ctx, DefaultLockTimeout); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	start := time.Now()
	err := l.Acquire(ctx, 20*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if elapsed < 15*time.Millisecond {
		t.Errorf("returned too early: %v", elapsed)
	}
	if got := l.Stats().Timeouts; got != 1 {
		t.Errorf("expected 1 timeout, got %d", got)
	}
}

func TestLock_ZeroTimeoutDoesNotWait(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	if err := l.Acquire(ctx, 0); err != nil {
		t.Fatalf("Acquire on free lock failed: %v", err)
	}
	defer l.Release()

	if err := l.Acquire(ctx, 0); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	l := NewLock()
	if err := l.Acquire(context.Background(), DefaultLockTimeout); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Acquire(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := l.Stats().Timeouts; got != 0 {
		t.Errorf("cancellation should not count as a timeout, got %d", got)
	}
}

func TestLock_WaiterGetsLockOnRelease(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	if err := l.Acquire(ctx, DefaultLockTimeout); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(ctx, time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	l.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter failed: %v", err)
		}
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
}

func TestLock_MutualExclusion(t *testing.T) {
	l := NewLock()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := l.Acquire(ctx, DefaultLockTimeout); err != nil {
					continue
				}
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(50 * time.Microsecond)

				mu.Lock()
				holders--
				mu.Unlock()
				l.Release()
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected at most one holder, saw %d", maxSeen)
	}
	stats := l.Stats()
	if stats.Acquired != stats.Released {
		t.Errorf("acquired %d != released %d", stats.Acquired, stats.Released)
	}
}
