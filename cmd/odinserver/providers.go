package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
	"github.com/thichuong/Web-server-Report-sub002/internal/market"
)

// unconfiguredFetcher implements every market fetcher interface, always
// failing UpstreamUnavailable. It stands in for a primary provider that
// has no URL configured, so the aggregator's fan-out always has a
// non-nil collaborator to call rather than needing nil checks of its own.
type unconfiguredFetcher struct{ what string }

func (f unconfiguredFetcher) FetchSpot(ctx context.Context) (market.SpotQuote, error) {
	return market.SpotQuote{}, f.err()
}

func (f unconfiguredFetcher) FetchAggregate(ctx context.Context) (market.AggregateQuote, error) {
	return market.AggregateQuote{}, f.err()
}

func (f unconfiguredFetcher) FetchSentiment(ctx context.Context) (int, error) {
	return 0, f.err()
}

func (f unconfiguredFetcher) FetchIndicator(ctx context.Context) (float64, error) {
	return 0, f.err()
}

func (f unconfiguredFetcher) err() error {
	return apperr.New(apperr.KindUpstreamUnavailable, f.what+" provider not configured")
}

// The market fetchers treat providers as pluggable: the core only needs a
// byte-in, typed-quote-out decode function. These decoders assume a
// normalized wire contract a provider-facing sidecar or reverse proxy is
// expected to emit; swapping providers means swapping these functions,
// not the aggregator.

type spotPayload struct {
	PriceUSD  float64 `json:"price_usd"`
	Change24h float64 `json:"change_24h_percent"`
}

func decodeSpot(body []byte) (market.SpotQuote, error) {
	var p spotPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return market.SpotQuote{}, fmt.Errorf("decode spot payload: %w", err)
	}
	return market.SpotQuote{PriceUSD: p.PriceUSD, Change24h: p.Change24h}, nil
}

type aggregatePayload struct {
	MarketCapUSD              float64 `json:"market_cap_usd"`
	Volume24hUSD              float64 `json:"volume_24h_usd"`
	MarketCapChangePercent24h float64 `json:"market_cap_change_percentage_24h_usd"`
	BTCDominancePercent       float64 `json:"btc_market_cap_percentage"`
	ETHDominancePercent       float64 `json:"eth_market_cap_percentage"`
}

func decodeAggregate(body []byte) (market.AggregateQuote, error) {
	var p aggregatePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return market.AggregateQuote{}, fmt.Errorf("decode aggregate payload: %w", err)
	}
	return market.AggregateQuote{
		MarketCapUSD:              p.MarketCapUSD,
		Volume24hUSD:              p.Volume24hUSD,
		MarketCapChangePercent24h: p.MarketCapChangePercent24h,
		BTCDominancePercent:       p.BTCDominancePercent,
		ETHDominancePercent:       p.ETHDominancePercent,
	}, nil
}

type scorePayload struct {
	Value float64 `json:"value"`
}

func decodeSentiment(body []byte) (int, error) {
	var p scorePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("decode sentiment payload: %w", err)
	}
	return int(p.Value), nil
}

func decodeIndicator(body []byte) (float64, error) {
	var p scorePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return 0, fmt.Errorf("decode indicator payload: %w", err)
	}
	return p.Value, nil
}
