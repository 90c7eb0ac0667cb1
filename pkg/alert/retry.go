package alert

import (
	"context"
	"time"
)

// Backoff is a bounded exponential retry policy.
type Backoff struct {
	MaxAttempts int           // total attempts, at least 1
	Base        time.Duration // delay after the first failure
	Max         time.Duration // cap for any single delay
	// Jitter, when set, is added to each delay before capping.
	Jitter func(time.Duration) time.Duration
}

// Delay returns the pause after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Jitter != nil {
		d += b.Jitter(d)
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// retry runs fn until it succeeds, attempts run out or ctx is done.
// It returns the number of attempts made and the last error.
func retry(ctx context.Context, b Backoff, fn func(attempt int) error) (int, error) {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if attempt >= attempts {
			return attempt, err
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		}
	}
}
