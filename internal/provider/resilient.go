package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Resilient decorates a Provider with a coarse request-rate ceiling and a
// circuit breaker. The Gate already serializes calls and spaces them by the
// minimum interval; the limiter here is a per-provider requests-per-minute
// ceiling, and the breaker stops hammering a provider that is hard down.
type Resilient struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
}

// NewResilient wraps inner. requestsPerMinute <= 0 disables the limiter.
func NewResilient(inner Provider, requestsPerMinute int) *Resilient {
	r := &Resilient{inner: inner}
	if requestsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	r.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("provider breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// Only retriable infrastructure failures count against the
			// breaker; a bad model name should surface instantly, not trip it.
			return err == nil || !IsRetriable(err)
		},
	})
	return r
}

func (r *Resilient) Name() string { return r.inner.Name() }

func (r *Resilient) Transform(ctx context.Context, req Request) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return r.breaker.Execute(func() (string, error) {
		return r.inner.Transform(ctx, req)
	})
}
