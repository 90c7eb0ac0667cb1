package alert

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle bounds how fast one sink is called.
type Throttle struct {
	underlyingLimiter *rate.Limiter
}

// NewThrottle creates a throttle allowing perSecond deliveries with a burst of burst.
func NewThrottle(perSecond float64, burst int) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		underlyingLimiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Wait blocks until a delivery may proceed or ctx is done.
// rate.Limiter is safe for concurrent use, so no extra locking is needed.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.underlyingLimiter.Wait(ctx)
}
