// Command odinserver wires cache, streaming, resilience, market
// aggregation, broadcast, and the report store into a running HTTP +
// WebSocket market-report server, following the config-then-delegate-to-
// server shape of go-server/cmd/main.go and
// go-server/internal/server/server.go's Start/Shutdown lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thichuong/Web-server-Report-sub002/internal/broadcast"
	"github.com/thichuong/Web-server-Report-sub002/internal/cache"
	"github.com/thichuong/Web-server-Report-sub002/internal/clock"
	"github.com/thichuong/Web-server-Report-sub002/internal/config"
	"github.com/thichuong/Web-server-Report-sub002/internal/httpapi"
	"github.com/thichuong/Web-server-Report-sub002/internal/logging"
	"github.com/thichuong/Web-server-Report-sub002/internal/market"
	"github.com/thichuong/Web-server-Report-sub002/internal/metrics"
	"github.com/thichuong/Web-server-Report-sub002/internal/natsbridge"
	"github.com/thichuong/Web-server-Report-sub002/internal/reports"
	"github.com/thichuong/Web-server-Report-sub002/internal/resilience"
	"github.com/thichuong/Web-server-Report-sub002/internal/streaming"
	"github.com/thichuong/Web-server-Report-sub002/internal/wsapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	reg := metrics.NewRegistry()
	clk := clock.Real{}

	redisClient, err := cache.NewRedisClient(cfg.Redis.URL, cfg.Redis.DialTimeout)
	if err != nil {
		logger.Warn("redis unavailable at startup, degrading to L1-only cache", zap.Error(err))
	}

	var l2 cache.L2
	if redisClient != nil {
		l2 = cache.NewRedisStore(redisClient)
	}

	c := cache.New(cache.Config{
		L1Capacity: cfg.Cache.L1Capacity,
		L1Shards:   cfg.Cache.L1Shards,
	}, l2, reg, clk, logger)

	var streamPublisher *streaming.Publisher
	if redisClient != nil {
		streamPublisher = streaming.New(redisClient)
	}

	hub := broadcast.New(cfg.WebSocket.BroadcastBufferSize, reg)

	guards := resilience.NewManager(clk)
	guards.Register("spot", resilience.EndpointConfig{})
	guards.Register("aggregate", resilience.EndpointConfig{})
	guards.Register("sentiment", resilience.EndpointConfig{})
	guards.Register("indicator", resilience.EndpointConfig{})

	httpClient := &http.Client{Timeout: 10 * time.Second}

	spotPrimary := buildSpotFetcher(httpClient, cfg.Market.SpotPrimaryURL, unconfiguredFetcher{what: "spot"})
	spotFallback := buildSpotFetcherOrNil(httpClient, cfg.Market.SpotFallbackURL)
	aggPrimary := buildAggregateFetcher(httpClient, cfg.Market.AggregatePrimaryURL, unconfiguredFetcher{what: "aggregate"})
	aggFallback := buildAggregateFetcherOrNil(httpClient, cfg.Market.AggregateFallbackURL)
	sentiment := buildSentimentFetcher(httpClient, cfg.Market.SentimentURL)
	indicator := buildIndicatorFetcher(httpClient, cfg.Market.IndicatorURL)

	aggregator := market.NewAggregator(
		market.AggregatorConfig{
			OverallDeadline: cfg.Market.OverallDeadline,
			ForceDeadline:   cfg.Market.ForceDeadline,
			StaleBound:      cfg.Market.StaleBound,
		},
		market.FallbackSpotFetcher{Primary: spotPrimary, Fallback: spotFallback},
		market.FallbackAggregateFetcher{Primary: aggPrimary, Fallback: aggFallback},
		sentiment, indicator, guards, nil, clk, logger,
	)

	adapter := market.NewAdapter(
		market.AdapterConfig{
			RefreshInterval:        cfg.Market.RefreshInterval,
			MaxConsecutiveFailures: cfg.Market.MaxConsecutiveFailures,
			MaxBackoff:             cfg.Market.MaxBackoff,
			StreamMaxLen:           cfg.Market.StreamMaxLen,
		},
		aggregator, c, streamPublisher, hub, reg, clk, logger,
	)
	aggregator.SetStaleSource(adapter)

	if cfg.NATS.Enabled {
		bridge, err := natsbridge.Connect(cfg.NATS.URL, reg, logger)
		if err != nil {
			logger.Warn("nats bridge disabled: connect failed", zap.Error(err))
		} else {
			if err := bridge.SubscribeInto(hub); err != nil {
				logger.Warn("nats bridge disabled: subscribe failed", zap.Error(err))
			} else {
				adapter.SetNATSMirror(bridge)
			}
			defer bridge.Close()
		}
	}

	var reportStore reports.Store
	if cfg.Report.DSN != "" {
		store, err := reports.NewMySQLStore(cfg.Report.DSN)
		if err != nil {
			return err
		}
		reportStore = store
	} else {
		logger.Warn("no report DSN configured; report endpoints will 404")
		reportStore = emptyReportStore{}
	}
	readPath := reports.NewReadPath(c, reportStore)

	wsCfg := wsapi.Config{
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WebSocket.HeartbeatTimeout,
	}

	server := httpapi.New(c, hub, guards, adapter, readPath, passthroughRenderer, wsCfg, clk, reg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Mux(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go adapter.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	adapter.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}

	return nil
}

func buildSpotFetcher(client *http.Client, url string, fallback market.SpotFetcher) market.SpotFetcher {
	if url == "" {
		return fallback
	}
	return market.HTTPSpotFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeSpot}
}

func buildSpotFetcherOrNil(client *http.Client, url string) market.SpotFetcher {
	if url == "" {
		return nil
	}
	return market.HTTPSpotFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeSpot}
}

func buildAggregateFetcher(client *http.Client, url string, fallback market.AggregateFetcher) market.AggregateFetcher {
	if url == "" {
		return fallback
	}
	return market.HTTPAggregateFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeAggregate}
}

func buildAggregateFetcherOrNil(client *http.Client, url string) market.AggregateFetcher {
	if url == "" {
		return nil
	}
	return market.HTTPAggregateFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeAggregate}
}

func buildSentimentFetcher(client *http.Client, url string) market.SentimentFetcher {
	if url == "" {
		return unconfiguredFetcher{what: "sentiment"}
	}
	return market.HTTPSentimentFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeSentiment}
}

func buildIndicatorFetcher(client *http.Client, url string) market.IndicatorFetcher {
	if url == "" {
		return unconfiguredFetcher{what: "indicator"}
	}
	return market.HTTPIndicatorFetcher{Client: client, URL: url, Timeout: 8 * time.Second, Decode: decodeIndicator}
}

func passthroughRenderer(w http.ResponseWriter, report reports.Report) error {
	_, err := w.Write(report.OpaquePayload)
	return err
}

type emptyReportStore struct{}

func (emptyReportStore) LoadByID(ctx context.Context, id uint64) (reports.Report, error) {
	return reports.Report{}, reports.ErrNoStoreConfigured
}

func (emptyReportStore) LoadLatest(ctx context.Context) (reports.Report, error) {
	return reports.Report{}, reports.ErrNoStoreConfigured
}
