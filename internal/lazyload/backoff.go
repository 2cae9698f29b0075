package lazyload

import (
	"context"
	"time"
)

// retryDelay returns the wait after the given failed attempt (1 based):
// base, 2*base, 4*base ... capped at maxDelay.
func retryDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
