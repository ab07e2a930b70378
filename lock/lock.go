package lock

import (
	"context"
	"fmt"
)

// Locker provides mutual exclusion with context support.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	TryLock(ctx context.Context) (bool, error)
}

// WithLock acquires l, runs fn, and releases l regardless of fn's outcome.
func WithLock(ctx context.Context, l Locker, fn func() error) error {
	if err := l.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.Unlock(ctx); err != nil {
			_ = err // best-effort release; caller already has fn's error
		}
	}()
	return fn()
}

// WithTryLock attempts a non-blocking acquisition of l and runs fn only if
// acquired. Returns (false, nil) without running fn if the lock is busy.
func WithTryLock(ctx context.Context, l Locker, fn func() error) (bool, error) {
	ok, err := l.TryLock(ctx)
	if err != nil {
		return false, fmt.Errorf("try-lock: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer func() {
		_ = l.Unlock(ctx)
	}()
	return true, fn()
}

