package linkval

import (
	"context"
	"time"
)

// Sleeper performs a cancellable wait, abstracting time.Sleep so tests
// can fake the passage of time without actually waiting.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

// RealSleeper returns a Sleeper backed by a real timer, interruptible
// by ctx cancellation.
func RealSleeper() Sleeper { return realSleeper{} }

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
