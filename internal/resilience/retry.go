package resilience

import (
	"context"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
)

// RetryPolicy is an exponential backoff policy: base 10s doubling for
// generic failures, base 120s doubling for RateLimited responses, up to
// MaxRetries retries after the first attempt. Retries never happen against
// an Open breaker;
// callers rely on Guard.Call below to enforce that.
type RetryPolicy struct {
	MaxRetries       int
	GenericBaseDelay time.Duration
	RateLimitedBase  time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		GenericBaseDelay: 10 * time.Second,
		RateLimitedBase:  120 * time.Second,
	}
}

func (p RetryPolicy) delayFor(attempt int, rateLimited bool) time.Duration {
	base := p.GenericBaseDelay
	if rateLimited {
		base = p.RateLimitedBase
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Guard bundles a RateBucket and Breaker for one endpoint: Call paces,
// breaker-checks, invokes, retries with backoff, and records the outcome.
type Guard struct {
	endpoint string
	bucket   *RateBucket
	breaker  *Breaker
	policy   RetryPolicy
	clock    clock.Clock
}

// NewGuard builds a Guard for a single endpoint name.
func NewGuard(endpoint string, bucket *RateBucket, breaker *Breaker, policy RetryPolicy, c clock.Clock) *Guard {
	if policy.MaxRetries <= 0 && policy.GenericBaseDelay <= 0 {
		policy = defaultRetryPolicy()
	}
	return &Guard{endpoint: endpoint, bucket: bucket, breaker: breaker, policy: policy, clock: c}
}

// Call invokes fn with rate pacing, breaker short-circuiting, and retry
// backoff on failure. fn should return an *apperr.Error so rate-limited
// responses can be distinguished for the longer backoff tier.
func (g *Guard) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= g.policy.MaxRetries; attempt++ {
		if !g.breaker.Allow() {
			return apperr.New(apperr.KindBreakerOpen, "circuit breaker open for "+g.endpoint)
		}

		g.bucket.Wait()
		err := fn(ctx)
		if err == nil {
			g.breaker.RecordSuccess()
			return nil
		}
		rateLimited := apperr.KindOf(err) == apperr.KindRateLimited
		if rateLimited {
			g.breaker.RecordRateLimited()
		} else {
			g.breaker.RecordFailure()
		}
		lastErr = err

		if attempt == g.policy.MaxRetries {
			break
		}
		delay := g.policy.delayFor(attempt, rateLimited)
		if sleepErr := g.clock.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return lastErr
}

// Endpoint returns the guarded endpoint's name.
func (g *Guard) Endpoint() string { return g.endpoint }

// BreakerState exposes the underlying breaker's state for status reporting.
func (g *Guard) BreakerState() State { return g.breaker.CurrentState() }
