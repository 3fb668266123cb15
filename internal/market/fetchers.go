package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
)

// HTTPClient is the outbound HTTP client port: get(url, headers, timeout).
// The standard library's net/http.Client satisfies it directly — no
// ecosystem HTTP client library for outbound REST calls appears anywhere
// in the corpus (see DESIGN.md), so this is a deliberate stdlib binding
// rather than an oversight.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SpotQuote is the primary spot fetcher's result.
type SpotQuote struct {
	PriceUSD    float64
	Change24h   float64
}

// AggregateQuote is the aggregate fetcher's result.
type AggregateQuote struct {
	MarketCapUSD             float64
	Volume24hUSD             float64
	MarketCapChangePercent24h float64
	BTCDominancePercent      float64
	ETHDominancePercent      float64
}

// SpotFetcher fetches the current BTC spot price and 24h change.
type SpotFetcher interface {
	FetchSpot(ctx context.Context) (SpotQuote, error)
}

// AggregateFetcher fetches market-wide aggregate figures.
type AggregateFetcher interface {
	FetchAggregate(ctx context.Context) (AggregateQuote, error)
}

// SentimentFetcher fetches the fear/greed index value, 0-100.
type SentimentFetcher interface {
	FetchSentiment(ctx context.Context) (int, error)
}

// IndicatorFetcher fetches a technical indicator, e.g. RSI-14, 0-100.
type IndicatorFetcher interface {
	FetchIndicator(ctx context.Context) (float64, error)
}

// classifyHTTPError maps a transport-level failure or a non-2xx response
// into an apperr.Kind so callers can branch on retryability.
func classifyHTTPError(resp *http.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindTimeout, "request timed out", err)
		}
		return apperr.Wrap(apperr.KindUpstreamUnavailable, "network error", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimited, "provider rate limited")
	case resp.StatusCode >= 500:
		return apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("provider returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return apperr.New(apperr.KindParseError, fmt.Sprintf("provider returned %d", resp.StatusCode))
	}
	return nil
}

// fetchBytes performs a GET and returns the raw response body, classifying
// failures via classifyHTTPError. maxBytes bounds the response body so an
// oversized response is truncated rather than exhausting memory. Callers
// decode the body into their own provider-specific shape.
func fetchBytes(ctx context.Context, client HTTPClient, url string, headers map[string]string, timeout time.Duration, maxBytes int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if cerr := classifyHTTPError(resp, err); cerr != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, cerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "read body", err)
	}
	return body, nil
}
