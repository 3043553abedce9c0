package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter adapts golang.org/x/time/rate to the RateLimiter interface.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a token-bucket limiter allowing rps requests per
// second with the given burst. A zero or negative rps disables limiting
// and returns nil.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request is allowed or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
