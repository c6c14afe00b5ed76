package refresh

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultThrottleInterval is the minimum spacing between two history fetches.
const DefaultThrottleInterval = time.Second

// Throttle spaces out upstream requests.
type Throttle interface {
	Wait(ctx context.Context) error
}

// NewThrottle returns a token bucket of one token refilled every interval. The first
// Wait returns immediately. A non-positive interval disables throttling.
func NewThrottle(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
