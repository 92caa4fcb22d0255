package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout is the bounded wait used by both activities.
const DefaultLockTimeout = 50 * time.Millisecond

// Locker guards exclusive use of the capture device.
type Locker interface {
	// Acquire waits at most timeout for the device. A nil error means the
	// caller holds the lock and must call Release exactly once.
	Acquire(ctx context.Context, timeout time.Duration) error

	// Release gives the device back.
	Release()
}

// LockStats is a snapshot of lock counters.
type LockStats struct {
	Acquired int64 `json:"acquired"`
	Timeouts int64 `json:"timeouts"`
	Released int64 `json:"released"`
	Held     bool  `json:"held"`
}

// Lock is a binary token with bounded wait. It gives no ordering guarantee
// beyond the semaphore's own wake order.
type Lock struct {
	sem *semaphore.Weighted

	acquired atomic.Int64
	timeouts atomic.Int64
	released atomic.Int64
	held     atomic.Bool
}

// NewLock creates an unheld lock.
func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Acquire implements Locker. It returns ErrLockTimeout when the wait
// expires, or the parent context error when ctx ends first.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.sem.TryAcquire(1) {
		l.markAcquired()
		return nil
	}
	if timeout <= 0 {
		l.timeouts.Add(1)
		return ErrLockTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			l.timeouts.Add(1)
			return ErrLockTimeout
		}
		return err
	}
	l.markAcquired()
	return nil
}

func (l *Lock) markAcquired() {
	l.acquired.Add(1)
	l.held.Store(true)
}

// Release implements Locker. Releasing an unheld lock panics, like
// sync.Mutex.
func (l *Lock) Release() {
	l.held.Store(false)
	l.released.Add(1)
	l.sem.Release(1)
}

// Stats returns the current counters.
func (l *Lock) Stats() LockStats {
	return LockStats{
		Acquired: l.acquired.Load(),
		Timeouts: l.timeouts.Load(),
		Released: l.released.Load(),
		Held:     l.held.Load(),
	}
}

// Verify Lock implements Locker at compile time.
var _ Locker = (*Lock)(nil)
