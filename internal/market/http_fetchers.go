package market

import (
	"context"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
)

const defaultMaxResponseBytes = 1 << 20 // 1 MiB

// HTTPSpotFetcher fetches raw bytes from URL and hands them to Decode,
// which knows the concrete provider's response shape. Keeping the wire
// format behind an injected function lets the core stay provider-agnostic:
// it specifies semantics, never a provider name.
type HTTPSpotFetcher struct {
	Client  HTTPClient
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Decode  func(body []byte) (SpotQuote, error)
}

func (f HTTPSpotFetcher) FetchSpot(ctx context.Context) (SpotQuote, error) {
	body, err := fetchBytes(ctx, f.Client, f.URL, f.Headers, f.Timeout, defaultMaxResponseBytes)
	if err != nil {
		return SpotQuote{}, err
	}
	q, err := f.Decode(body)
	if err != nil {
		return SpotQuote{}, apperr.Wrap(apperr.KindParseError, "decode spot response", err)
	}
	if err := validateSpot(q); err != nil {
		return SpotQuote{}, err
	}
	return q, nil
}

// HTTPAggregateFetcher is the aggregate-figures analogue of
// HTTPSpotFetcher.
type HTTPAggregateFetcher struct {
	Client  HTTPClient
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Decode  func(body []byte) (AggregateQuote, error)
}

func (f HTTPAggregateFetcher) FetchAggregate(ctx context.Context) (AggregateQuote, error) {
	body, err := fetchBytes(ctx, f.Client, f.URL, f.Headers, f.Timeout, defaultMaxResponseBytes)
	if err != nil {
		return AggregateQuote{}, err
	}
	q, err := f.Decode(body)
	if err != nil {
		return AggregateQuote{}, apperr.Wrap(apperr.KindParseError, "decode aggregate response", err)
	}
	if err := validateAggregate(q); err != nil {
		return AggregateQuote{}, err
	}
	return q, nil
}

// HTTPSentimentFetcher decodes a fear/greed index value.
type HTTPSentimentFetcher struct {
	Client  HTTPClient
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Decode  func(body []byte) (int, error)
}

func (f HTTPSentimentFetcher) FetchSentiment(ctx context.Context) (int, error) {
	body, err := fetchBytes(ctx, f.Client, f.URL, f.Headers, f.Timeout, defaultMaxResponseBytes)
	if err != nil {
		return 0, err
	}
	v, err := f.Decode(body)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindParseError, "decode sentiment response", err)
	}
	if v < 0 || v > 100 {
		return 0, apperr.New(apperr.KindValidation, "fear/greed value out of [0,100]")
	}
	return v, nil
}

// HTTPIndicatorFetcher decodes a technical indicator, e.g. RSI-14.
type HTTPIndicatorFetcher struct {
	Client  HTTPClient
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Decode  func(body []byte) (float64, error)
}

func (f HTTPIndicatorFetcher) FetchIndicator(ctx context.Context) (float64, error) {
	body, err := fetchBytes(ctx, f.Client, f.URL, f.Headers, f.Timeout, defaultMaxResponseBytes)
	if err != nil {
		return 0, err
	}
	v, err := f.Decode(body)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindParseError, "decode indicator response", err)
	}
	if v < 0 || v > 100 {
		return 0, apperr.New(apperr.KindValidation, "indicator value out of [0,100]")
	}
	return v, nil
}

func validateSpot(q SpotQuote) error {
	if q.PriceUSD <= 0 {
		return apperr.New(apperr.KindValidation, "non-positive spot price")
	}
	return nil
}

func validateAggregate(q AggregateQuote) error {
	if q.MarketCapUSD < 0 || q.Volume24hUSD < 0 || q.BTCDominancePercent < 0 || q.ETHDominancePercent < 0 {
		return apperr.New(apperr.KindValidation, "negative aggregate figure")
	}
	return nil
}
