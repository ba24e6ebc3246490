package scheduler

import (
	"context"
	"time"
)

// SleepFunc blocks for d or until ctx is done, whichever comes first
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits on a timer so that cancellation interrupts the wait immediately
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
