package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a bounded exponential delay with jitter.
type Backoff struct {
	Min    time.Duration // Min is the first delay
	Max    time.Duration // Max caps every delay
	Jitter float64       // Jitter adds up to this fraction of the delay at random
}

// Delay returns the wait before the given retry, counting from 0.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Min
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for i := 0; i < attempt && delay < b.Max; i++ {
		delay *= 2
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}

	if b.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.Jitter * rand.Float64())
	}

	return delay
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
