package storage

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"prodvault/types"
)

// Retry defaults for transient backend faults.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 100 * time.Millisecond
	DefaultRetryCap      = 2 * time.Second
)

// Retry runs op up to attempts times, sleeping with exponential backoff and
// jitter between tries. Only errors wrapping types.ErrStorage are retried;
// anything else returns immediately. The last error is returned when the
// budget is exhausted.
func Retry(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if base <= 0 {
		base = DefaultRetryBase
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrStorage) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if serr := sleepBackoff(ctx, i, base, DefaultRetryCap); serr != nil {
			return err
		}
	}
	return err
}

// sleepBackoff waits for base*2^attempt capped at cap, with up to 50%
// additive jitter, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int, base, cap time.Duration) error {
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		d = cap
	}
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepBackoff exposes the backoff sleep for callers running their own
// conflict-retry loops.
func SleepBackoff(ctx context.Context, attempt int, base, cap time.Duration) error {
	return sleepBackoff(ctx, attempt, base, cap)
}
