package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
)

// S3: F_open=3. Three consecutive failures open the breaker; the fourth
// call fails fast with BreakerOpen without invoking the network. After
// T_open the breaker allows one probe (half-open).
func TestBreaker_OpensAfterThresholdAndRecoversAfterCooldown(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(BreakerConfig{
		FailureThreshold:  3,
		CooldownPeriod:    time.Minute,
		HalfOpenMaxTrials: 1,
		RequiredSuccesses: 1,
	}, fc)

	calls := 0
	fail := func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	}

	for i := 0; i < 3; i++ {
		require.True(t, b.Allow())
		err := fail(context.Background())
		require.Error(t, err)
		b.RecordFailure()
	}
	assert.Equal(t, State(Open), b.CurrentState())

	// Fourth call: denied without touching the network.
	before := calls
	assert.False(t, b.Allow())
	assert.Equal(t, before, calls)

	fc.Advance(2 * time.Minute)
	assert.True(t, b.Allow(), "half-open probe should be admitted after cooldown")
	assert.Equal(t, HalfOpen, b.CurrentState())

	b.RecordSuccess()
	assert.Equal(t, Closed, b.CurrentState())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, CooldownPeriod: time.Second, HalfOpenMaxTrials: 1, RequiredSuccesses: 1}, fc)

	require.True(t, b.Allow())
	b.RecordFailure()
	require.Equal(t, Open, b.CurrentState())

	fc.Advance(2 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, HalfOpen, b.CurrentState())

	b.RecordFailure()
	assert.Equal(t, Open, b.CurrentState())
}

func TestGuard_RetriesWithBackoffThenSucceeds(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	g := NewGuard("spot", NewRateBucket(0, fc), NewBreaker(BreakerConfig{FailureThreshold: 10}, fc),
		RetryPolicy{MaxRetries: 3, GenericBaseDelay: 10 * time.Second, RateLimitedBase: 120 * time.Second}, fc)

	attempts := 0
	err := g.Call(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apperr.New(apperr.KindUpstreamUnavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestGuard_FailsFastWhenBreakerOpen(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 1, CooldownPeriod: time.Hour}, fc)
	g := NewGuard("spot", NewRateBucket(0, fc), breaker, RetryPolicy{MaxRetries: 2, GenericBaseDelay: time.Second, RateLimitedBase: time.Second}, fc)

	_ = g.Call(context.Background(), func(ctx context.Context) error {
		return apperr.New(apperr.KindUpstreamUnavailable, "down")
	})
	require.Equal(t, Open, breaker.CurrentState())

	calls := 0
	err := g.Call(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, apperr.KindBreakerOpen, apperr.KindOf(err))
	assert.Equal(t, 0, calls)
}

func TestBreaker_RateLimitedForcesOpenWithExtendedCooldown(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewBreaker(BreakerConfig{FailureThreshold: 5, CooldownPeriod: time.Minute, HalfOpenMaxTrials: 1, RequiredSuccesses: 1}, fc)

	require.True(t, b.Allow())
	b.RecordRateLimited()
	require.Equal(t, Open, b.CurrentState(), "a single 429 should force Open, not wait for the failure threshold")

	fc.Advance(time.Minute + time.Second)
	assert.False(t, b.Allow(), "the doubled cooldown should not have elapsed yet")

	fc.Advance(2 * time.Minute)
	assert.True(t, b.Allow(), "the doubled cooldown should have elapsed by now")
}

func TestGuard_RateLimitedResponseOpensBreakerImmediately(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	breaker := NewBreaker(BreakerConfig{FailureThreshold: 10, CooldownPeriod: time.Minute}, fc)
	g := NewGuard("spot", NewRateBucket(0, fc), breaker,
		RetryPolicy{MaxRetries: 0, GenericBaseDelay: time.Second, RateLimitedBase: time.Second}, fc)

	err := g.Call(context.Background(), func(ctx context.Context) error {
		return apperr.New(apperr.KindRateLimited, "too many requests")
	})
	require.Error(t, err)
	assert.Equal(t, Open, breaker.CurrentState())
}

func TestRateBucket_PacesCalls(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rb := NewRateBucket(time.Second, fc)

	first := rb.Wait()
	assert.Equal(t, time.Duration(0), first)

	second := rb.Wait()
	assert.True(t, second > 0, "second call within the interval should wait")
}
