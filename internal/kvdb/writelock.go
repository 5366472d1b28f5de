package kvdb

import (
	"context"
	"time"
)

// WriteLock is a binary semaphore serialising write transactions in one pool.
//
// It does not record who holds it. Any caller may Release a held lock;
// releasing an unheld lock returns ErrWriteLockNotHeld and leaves the
// capacity at one.
type WriteLock struct {
	slot chan struct{}
}

// NewWriteLock returns an unheld write lock.
func NewWriteLock() *WriteLock {
	return &WriteLock{slot: make(chan struct{}, 1)}
}

// Acquire waits up to timeout for the lock.
// A timeout of zero or less makes a single attempt.
//
// Returns:
//   - nil: Lock acquired
//   - ErrWriteLockTimeout: Timeout elapsed first
//   - ctx.Err(): Context cancelled first
func (l *WriteLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.TryAcquire() {
		return nil
	}
	if timeout <= 0 {
		return ErrWriteLockTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.slot <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrWriteLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcquireBlocking waits for the lock until ctx is done.
func (l *WriteLock) AcquireBlocking(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes the lock if it is free.
func (l *WriteLock) TryAcquire() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the lock.
func (l *WriteLock) Release() error {
	select {
	case <-l.slot:
		return nil
	default:
		return ErrWriteLockNotHeld
	}
}

// Held reports whether the lock is currently taken.
func (l *WriteLock) Held() bool {
	return len(l.slot) == 1
}
