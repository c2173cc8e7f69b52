package transport

import (
	"context"

	"golang.org/x/time/rate"
)

// emitLimiter throttles outbound frames. A non-positive rate disables it.
type emitLimiter struct {
	limiter *rate.Limiter
}

func newEmitLimiter(perSecond float64, burst int) *emitLimiter {
	if perSecond <= 0 {
		return &emitLimiter{}
	}
	if burst <= 0 {
		burst = 1
	}
	return &emitLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *emitLimiter) wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
