package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/resilience"
)

type fakeSpot struct {
	q   SpotQuote
	err error
}

func (f fakeSpot) FetchSpot(ctx context.Context) (SpotQuote, error) { return f.q, f.err }

type fakeAggregate struct {
	q   AggregateQuote
	err error
}

func (f fakeAggregate) FetchAggregate(ctx context.Context) (AggregateQuote, error) { return f.q, f.err }

type fakeSentiment struct {
	v   int
	err error
}

func (f fakeSentiment) FetchSentiment(ctx context.Context) (int, error) { return f.v, f.err }

type fakeIndicator struct {
	v   float64
	err error
}

func (f fakeIndicator) FetchIndicator(ctx context.Context) (float64, error) { return f.v, f.err }

func newTestAggregator(t *testing.T, spot SpotFetcher, agg AggregateFetcher, sentiment SentimentFetcher, indicator IndicatorFetcher) *Aggregator {
	t.Helper()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mgr := resilience.NewManager(fc)
	mgr.Register("spot", resilience.EndpointConfig{MinInterval: 0, Breaker: resilience.BreakerConfig{FailureThreshold: 100}, Retry: resilience.RetryPolicy{MaxRetries: 0, GenericBaseDelay: time.Millisecond, RateLimitedBase: time.Millisecond}})
	mgr.Register("aggregate", resilience.EndpointConfig{MinInterval: 0, Breaker: resilience.BreakerConfig{FailureThreshold: 100}, Retry: resilience.RetryPolicy{MaxRetries: 0, GenericBaseDelay: time.Millisecond, RateLimitedBase: time.Millisecond}})
	mgr.Register("sentiment", resilience.EndpointConfig{MinInterval: 0, Breaker: resilience.BreakerConfig{FailureThreshold: 100}, Retry: resilience.RetryPolicy{MaxRetries: 0, GenericBaseDelay: time.Millisecond, RateLimitedBase: time.Millisecond}})
	mgr.Register("indicator", resilience.EndpointConfig{MinInterval: 0, Breaker: resilience.BreakerConfig{FailureThreshold: 100}, Retry: resilience.RetryPolicy{MaxRetries: 0, GenericBaseDelay: time.Millisecond, RateLimitedBase: time.Millisecond}})

	return NewAggregator(
		AggregatorConfig{OverallDeadline: time.Second, ForceDeadline: 2 * time.Second, StaleBound: 15 * time.Minute},
		FallbackSpotFetcher{Primary: spot},
		FallbackAggregateFetcher{Primary: agg},
		sentiment, indicator, mgr, nil, fc, zap.NewNop(),
	)
}

// S4: sentiment fetcher times out, all others succeed. Expected
// partial_failure=true, fng_value=50, data_sources.fng="timeout", all
// other fields populated.
func TestFetchSummary_PartialFailureOnSentimentTimeout(t *testing.T) {
	agg := newTestAggregator(t,
		fakeSpot{q: SpotQuote{PriceUSD: 65000, Change24h: 1.5}},
		fakeAggregate{q: AggregateQuote{MarketCapUSD: 2e12, Volume24hUSD: 9e10, BTCDominancePercent: 52, ETHDominancePercent: 17}},
		fakeSentiment{err: apperr.New(apperr.KindTimeout, "sentiment timed out")},
		fakeIndicator{v: 55},
	)

	snap, err := agg.FetchSummary(context.Background(), false)
	require.NoError(t, err)

	assert.True(t, snap.PartialFailure)
	assert.Equal(t, float64(50), snap.FNGValue)
	assert.Equal(t, "timeout", snap.DataSources["fng"])
	assert.Equal(t, 65000.0, snap.BTCPriceUSD)
	assert.Equal(t, 55.0, snap.RSI14)
}

// Invariant 7: partial_failure = false implies btc_price_usd > 0 and all
// required scalars present.
func TestFetchSummary_FullSuccess_NotPartial(t *testing.T) {
	agg := newTestAggregator(t,
		fakeSpot{q: SpotQuote{PriceUSD: 65000, Change24h: 1.5}},
		fakeAggregate{q: AggregateQuote{MarketCapUSD: 2e12, Volume24hUSD: 9e10, BTCDominancePercent: 52, ETHDominancePercent: 17}},
		fakeSentiment{v: 60},
		fakeIndicator{v: 55},
	)

	snap, err := agg.FetchSummary(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, snap.PartialFailure)
	assert.Greater(t, snap.BTCPriceUSD, 0.0)
}

func TestFetchSummary_NoUsablePriceReturnsError(t *testing.T) {
	agg := newTestAggregator(t,
		fakeSpot{err: apperr.New(apperr.KindUpstreamUnavailable, "down")},
		fakeAggregate{q: AggregateQuote{}},
		fakeSentiment{v: 50},
		fakeIndicator{v: 50},
	)

	_, err := agg.FetchSummary(context.Background(), false)
	assert.Error(t, err)
}
