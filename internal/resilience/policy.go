// Package resilience retries provider calls that fail transiently.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy is an exponential backoff retry policy. Each delay doubles from
// Base up to Cap.
type Policy struct {
	// Attempts is the total number of tries including the first.
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	// Jitter spreads each delay by up to ±Jitter of its length.
	Jitter float64

	// Retryable decides whether an error is worth another try. Nil uses
	// Retryable from this package.
	Retryable func(error) bool
	// OnRetry runs before each backoff sleep with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// ProviderPolicy is the enrichment provider policy: three attempts, waiting
// 1s then 2s, never more than 4s.
func ProviderPolicy() Policy {
	return Policy{Attempts: 3, Base: time.Second, Cap: 4 * time.Second}
}

// FromConfig overlays configured values on ProviderPolicy. Non-positive
// values keep the default.
func FromConfig(attempts, baseMs, capMs int) Policy {
	p := ProviderPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if baseMs > 0 {
		p.Base = time.Duration(baseMs) * time.Millisecond
	}
	if capMs > 0 {
		p.Cap = time.Duration(capMs) * time.Millisecond
	}
	return p
}

func (p Policy) normalized() Policy {
	def := ProviderPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap < p.Base {
		p.Cap = max(def.Cap, p.Base)
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = Retryable
	}
	return p
}

// Delay is the wait before the given 1-based retry.
func (p Policy) Delay(retry int) time.Duration {
	p = p.normalized()
	d := p.Base
	for i := 1; i < retry && d < p.Cap; i++ {
		d *= 2
	}
	d = min(d, p.Cap)

	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return max(d, 0)
}

// Run calls fn until it succeeds, returns an error the policy will not
// retry, or runs out of attempts. The last error is returned. Cancelling ctx
// stops the loop without another try.
func Run[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}

// LogRetries returns an OnRetry hook that logs through zap.
func LogRetries(provider, operation string) func(int, error) {
	return func(retry int, err error) {
		zap.L().Warn("retrying provider call",
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.Int("retry", retry),
			zap.Error(err),
		)
	}
}
