package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/resilience"
)

// StaleSnapshotSource supplies the last accepted snapshot, used only when
// the aggregator must fall back to a stale BTC price rather than serve no
// price at all.
type StaleSnapshotSource interface {
	LatestSnapshot(ctx context.Context) (Snapshot, bool)
}

// AggregatorConfig bounds the fan-out.
type AggregatorConfig struct {
	OverallDeadline time.Duration // default 10s, 15s on forced refresh
	ForceDeadline   time.Duration
	StaleBound      time.Duration // default 15m
}

// Aggregator fans out the spot/aggregate/sentiment/indicator fetches and
// composes their results into a single Snapshot.
type Aggregator struct {
	cfg AggregatorConfig

	spot       FallbackSpotFetcher
	aggregate  FallbackAggregateFetcher
	sentiment  SentimentFetcher
	indicator  IndicatorFetcher

	guards *resilience.Manager
	stale  StaleSnapshotSource
	clock  clock.Clock
	logger *zap.Logger
}

// SetStaleSource wires the stale-snapshot fallback after construction,
// since the Adapter that typically supplies it is itself built from this
// Aggregator.
func (a *Aggregator) SetStaleSource(s StaleSnapshotSource) {
	a.stale = s
}

// NewAggregator builds an Aggregator. stale may be nil to disable the
// stale-price fallback (e.g. in unit tests).
func NewAggregator(cfg AggregatorConfig, spot FallbackSpotFetcher, aggregate FallbackAggregateFetcher,
	sentiment SentimentFetcher, indicator IndicatorFetcher, guards *resilience.Manager, stale StaleSnapshotSource,
	c clock.Clock, logger *zap.Logger) *Aggregator {
	if cfg.OverallDeadline <= 0 {
		cfg.OverallDeadline = 10 * time.Second
	}
	if cfg.ForceDeadline <= 0 {
		cfg.ForceDeadline = 15 * time.Second
	}
	if cfg.StaleBound <= 0 {
		cfg.StaleBound = 15 * time.Minute
	}
	return &Aggregator{
		cfg: cfg, spot: spot, aggregate: aggregate, sentiment: sentiment, indicator: indicator,
		guards: guards, stale: stale, clock: c, logger: logger,
	}
}

type subResult struct {
	spot      SpotQuote
	spotSrc   string
	spotErr   error
	aggregate AggregateQuote
	aggSrc    string
	aggErr    error
	fng       int
	fngErr    error
	rsi       float64
	rsiErr    error
}

func (a *Aggregator) guardedCall(endpoint string, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		g, ok := a.guards.Guard(endpoint)
		if !ok {
			return fn(ctx)
		}
		return g.Call(ctx, fn)
	}
}

// FetchSummary dispatches the four sub-fetches in parallel and composes a
// Snapshot. forced selects the shorter/longer overall deadline variant.
func (a *Aggregator) FetchSummary(ctx context.Context, forced bool) (Snapshot, error) {
	start := a.clock.Now()

	deadline := a.cfg.OverallDeadline
	if forced {
		deadline = a.cfg.ForceDeadline
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	res := subResult{}
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		err := a.guardedCall("spot", func(ctx context.Context) error {
			q, src, err := a.spot.FetchSpot(ctx)
			res.spot, res.spotSrc = q, src
			return err
		})(ctx)
		res.spotErr = err
	}()
	go func() {
		defer wg.Done()
		err := a.guardedCall("aggregate", func(ctx context.Context) error {
			q, src, err := a.aggregate.FetchAggregate(ctx)
			res.aggregate, res.aggSrc = q, src
			return err
		})(ctx)
		res.aggErr = err
	}()
	go func() {
		defer wg.Done()
		err := a.guardedCall("sentiment", func(ctx context.Context) error {
			v, err := a.sentiment.FetchSentiment(ctx)
			res.fng = v
			return err
		})(ctx)
		res.fngErr = err
	}()
	go func() {
		defer wg.Done()
		err := a.guardedCall("indicator", func(ctx context.Context) error {
			v, err := a.indicator.FetchIndicator(ctx)
			res.rsi = v
			return err
		})(ctx)
		res.rsiErr = err
	}()
	wg.Wait()

	snap := Snapshot{
		DataSources: make(map[string]string, 4),
		FetchedAt:   a.clock.Now(),
	}
	partial := false

	if res.spotErr == nil {
		snap.BTCPriceUSD = res.spot.PriceUSD
		snap.BTCChange24h = res.spot.Change24h
		snap.DataSources["btc_price"] = statusString(res.spotSrc, nil)
	} else {
		partial = true
		snap.DataSources["btc_price"] = statusString(res.spotSrc, res.spotErr)
		if a.stale != nil {
			if prior, ok := a.stale.LatestSnapshot(ctx); ok && a.clock.Now().Sub(prior.FetchedAt) <= a.cfg.StaleBound {
				snap.BTCPriceUSD = prior.BTCPriceUSD
				snap.BTCChange24h = prior.BTCChange24h
				snap.DataSources["btc_price"] = "stale"
			}
		}
	}

	if res.aggErr == nil {
		snap.MarketCapUSD = res.aggregate.MarketCapUSD
		snap.Volume24hUSD = res.aggregate.Volume24hUSD
		snap.MarketCapChangePercentage24hUSD = res.aggregate.MarketCapChangePercent24h
		snap.BTCMarketCapPercentage = res.aggregate.BTCDominancePercent
		snap.ETHMarketCapPercentage = res.aggregate.ETHDominancePercent
		snap.DataSources["aggregate"] = statusString(res.aggSrc, nil)
	} else {
		partial = true
		snap.DataSources["aggregate"] = statusString(res.aggSrc, res.aggErr)
	}

	if res.fngErr == nil {
		snap.FNGValue = float64(res.fng)
		snap.DataSources["fng"] = "ok"
	} else {
		partial = true
		snap.FNGValue = 50
		snap.DataSources["fng"] = statusString("fng", res.fngErr)
	}

	if res.rsiErr == nil {
		snap.RSI14 = res.rsi
		snap.DataSources["rsi"] = "ok"
	} else {
		partial = true
		snap.RSI14 = 50
		snap.DataSources["rsi"] = statusString("rsi", res.rsiErr)
	}

	snap.PartialFailure = partial
	snap.FetchDurationMs = a.clock.Now().Sub(start).Milliseconds()

	if snap.BTCPriceUSD <= 0 {
		return snap, apperr.New(apperr.KindUpstreamUnavailable, "no usable btc price available")
	}
	return snap, nil
}
