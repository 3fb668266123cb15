package market

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/cache"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
	"github.com/thichuong/Web-server-Report-sub002/internal/streaming"
)

// Broadcaster is the narrow slice of the broadcast hub's API the adapter
// needs: publish a refreshed snapshot to subscribers.
type Broadcaster interface {
	Publish(message interface{})
}

// NATSMirror is the narrow slice of internal/natsbridge's API the adapter
// needs: mirror an accepted snapshot for other instances. Optional; a nil
// mirror simply disables cross-instance fan-out.
type NATSMirror interface {
	PublishSnapshot(snap Snapshot)
}

const (
	latestKey = "market:latest"
	btcKey    = "market:btc"
	fngKey    = "market:fng"
	rsiKey    = "market:rsi"

	streamName = "market_data_stream"
)

// Update is the payload the adapter hands to the broadcast hub.
type Update struct {
	Type      string   `json:"type"`
	Data      Snapshot `json:"data"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

// AdapterConfig tunes scheduling and backoff.
type AdapterConfig struct {
	RefreshInterval        time.Duration // default 5-10m
	MaxConsecutiveFailures int           // after this many, apply backoff
	MaxBackoff             time.Duration // capped at 30m
	StreamMaxLen           int64
	StartupRetries         int           // default 3
	StartupRetryInterval   time.Duration // default 5s
}

// Adapter orchestrates aggregator → cache → stream → broadcast on a
// schedule or on demand.
type Adapter struct {
	cfg AdapterConfig

	aggregator *Aggregator
	cache      *cache.Cache
	stream     *streaming.Publisher
	broadcast  Broadcaster
	nats       NATSMirror
	metrics    *metrics.Registry
	clock      clock.Clock
	logger     *zap.Logger

	mu                sync.Mutex
	consecutiveFails  int
	backoffUntil      time.Time
	refreshInFlight   int32
	stopCh            chan struct{}
	stopped           sync.Once
}

// NewAdapter builds an Adapter.
func NewAdapter(cfg AdapterConfig, aggregator *Aggregator, c *cache.Cache, stream *streaming.Publisher,
	broadcast Broadcaster, reg *metrics.Registry, clk clock.Clock, logger *zap.Logger) *Adapter {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Minute
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 1000
	}
	if cfg.StartupRetries <= 0 {
		cfg.StartupRetries = 3
	}
	if cfg.StartupRetryInterval <= 0 {
		cfg.StartupRetryInterval = 5 * time.Second
	}
	return &Adapter{
		cfg: cfg, aggregator: aggregator, cache: c, stream: stream, broadcast: broadcast,
		metrics: reg, clock: clk, logger: logger, stopCh: make(chan struct{}),
	}
}

// SetNATSMirror wires an optional cross-instance mirror. Called after
// construction so main.go can decide at startup whether NATS is
// configured, without making the adapter depend on internal/natsbridge.
func (a *Adapter) SetNATSMirror(m NATSMirror) {
	a.nats = m
}

// LatestSnapshot implements StaleSnapshotSource by reading market:latest
// from the cache, letting the Aggregator prefer a stale price over none.
func (a *Adapter) LatestSnapshot(ctx context.Context) (Snapshot, bool) {
	snap, ok, err := cache.GetJSON[Snapshot](ctx, a.cache, latestKey)
	if err != nil || !ok {
		return Snapshot{}, false
	}
	return snap, true
}

// Run starts the initial refresh and the periodic schedule. It blocks
// until ctx is cancelled or Stop is called.
func (a *Adapter) Run(ctx context.Context) {
	a.startupRefresh(ctx)

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.tick(ctx, "scheduled")
		}
	}
}

// Stop halts the schedule loop.
func (a *Adapter) Stop() {
	a.stopped.Do(func() { close(a.stopCh) })
}

func (a *Adapter) startupRefresh(ctx context.Context) {
	for i := 0; i < a.cfg.StartupRetries; i++ {
		if _, err := a.refresh(ctx, false, "scheduled"); err == nil {
			return
		}
		if i < a.cfg.StartupRetries-1 {
			_ = a.clock.Sleep(ctx, a.cfg.StartupRetryInterval)
		}
	}
}

func (a *Adapter) tick(ctx context.Context, source string) {
	a.mu.Lock()
	if a.clock.Now().Before(a.backoffUntil) {
		a.mu.Unlock()
		a.logger.Debug("market refresh skipped: backing off")
		return
	}
	a.mu.Unlock()

	_, _ = a.refresh(ctx, false, source)
}

// ForceRefresh triggers an immediate refresh. While a forced refresh is
// already in flight it returns an error without starting another.
func (a *Adapter) ForceRefresh(ctx context.Context) (Snapshot, error) {
	if !atomic.CompareAndSwapInt32(&a.refreshInFlight, 0, 1) {
		return Snapshot{}, errRefreshInFlight
	}
	defer atomic.StoreInt32(&a.refreshInFlight, 0)
	return a.refresh(ctx, true, "forced")
}

func (a *Adapter) refresh(ctx context.Context, forced bool, source string) (Snapshot, error) {
	a.metrics.RefreshTotal.Inc()

	snap, err := a.aggregator.FetchSummary(ctx, forced)
	if err != nil {
		a.metrics.RefreshFailures.Inc()
		a.recordFailure()
		a.logger.Warn("market refresh failed", zap.Error(err))
		return Snapshot{}, err
	}
	a.recordSuccess()
	if snap.PartialFailure {
		a.metrics.PartialFailures.Inc()
	}

	a.store(ctx, snap)
	a.publishStream(ctx, snap)
	a.broadcast.Publish(Update{
		Type:      "dashboard_update",
		Data:      snap,
		Timestamp: a.clock.Now().UTC().Format(time.RFC3339),
		Source:    source,
	})
	if a.nats != nil {
		a.nats.PublishSnapshot(snap)
	}

	return snap, nil
}

func (a *Adapter) store(ctx context.Context, snap Snapshot) {
	if err := cache.SetJSON(ctx, a.cache, latestKey, snap, cache.RealTime); err != nil {
		a.logger.Warn("cache set market:latest failed", zap.Error(err))
	}
	if err := cache.SetJSON(ctx, a.cache, btcKey, snap.BTCPriceUSD, cache.ShortTerm); err != nil {
		a.logger.Warn("cache set market:btc failed", zap.Error(err))
	}
	if err := cache.SetJSON(ctx, a.cache, fngKey, snap.FNGValue, cache.RealTime); err != nil {
		a.logger.Warn("cache set market:fng failed", zap.Error(err))
	}
	if err := cache.SetJSON(ctx, a.cache, rsiKey, snap.RSI14, cache.LongTerm); err != nil {
		a.logger.Warn("cache set market:rsi failed", zap.Error(err))
	}
}

func (a *Adapter) publishStream(ctx context.Context, snap Snapshot) {
	if a.stream == nil {
		return
	}
	if _, err := a.stream.Publish(ctx, streamName, Flatten(snap), a.cfg.StreamMaxLen); err != nil {
		a.metrics.StreamErrors.Inc()
		a.logger.Warn("stream publish failed", zap.Error(err))
		return
	}
	a.metrics.StreamAppends.Inc()
}

func (a *Adapter) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveFails++
	if a.consecutiveFails > a.cfg.MaxConsecutiveFailures {
		backoff := time.Duration(a.consecutiveFails-a.cfg.MaxConsecutiveFailures) * time.Minute
		if backoff > a.cfg.MaxBackoff {
			backoff = a.cfg.MaxBackoff
		}
		a.backoffUntil = a.clock.Now().Add(backoff)
	}
}

func (a *Adapter) recordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consecutiveFails = 0
	a.backoffUntil = time.Time{}
}

var errRefreshInFlight = refreshInFlightError{}

type refreshInFlightError struct{}

func (refreshInFlightError) Error() string { return "market refresh already in flight" }
