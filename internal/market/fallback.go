package market

import (
	"context"

	"github.com/thichuong/Web-server-Report-sub002/internal/apperr"
)

// FallbackSpotFetcher consults primary, falling back to secondary as soon
// as primary returns any error. Primary is not retried before the
// fallback is tried; the Aggregator's guard retries the primary-then-
// fallback pair as a whole.
type FallbackSpotFetcher struct {
	Primary  SpotFetcher
	Fallback SpotFetcher // nil disables fallback
}

func (f FallbackSpotFetcher) FetchSpot(ctx context.Context) (SpotQuote, string, error) {
	if f.Primary == nil {
		return SpotQuote{}, "primary", apperr.New(apperr.KindUpstreamUnavailable, "no spot provider configured")
	}
	q, err := f.Primary.FetchSpot(ctx)
	if err == nil {
		return q, "primary", nil
	}
	if f.Fallback == nil {
		return SpotQuote{}, "primary", err
	}
	q, ferr := f.Fallback.FetchSpot(ctx)
	if ferr != nil {
		return SpotQuote{}, "fallback", ferr
	}
	return q, "fallback", nil
}

// FallbackAggregateFetcher is the aggregate-figures analogue.
type FallbackAggregateFetcher struct {
	Primary  AggregateFetcher
	Fallback AggregateFetcher
}

func (f FallbackAggregateFetcher) FetchAggregate(ctx context.Context) (AggregateQuote, string, error) {
	if f.Primary == nil {
		return AggregateQuote{}, "primary", apperr.New(apperr.KindUpstreamUnavailable, "no aggregate provider configured")
	}
	q, err := f.Primary.FetchAggregate(ctx)
	if err == nil {
		return q, "primary", nil
	}
	if f.Fallback == nil {
		return AggregateQuote{}, "primary", err
	}
	q, ferr := f.Fallback.FetchAggregate(ctx)
	if ferr != nil {
		return AggregateQuote{}, "fallback", ferr
	}
	return q, "fallback", nil
}

// statusString renders a sub-fetch's outcome for Snapshot.DataSources:
// source itself (e.g. "primary", "fallback") on success, otherwise
// "timeout", "rate_limited", "parse_error", "validation_failed" or
// "unavailable".
func statusString(source string, err error) string {
	if err == nil {
		return source
	}
	switch apperr.KindOf(err) {
	case apperr.KindTimeout:
		return "timeout"
	case apperr.KindRateLimited:
		return "rate_limited"
	case apperr.KindParseError:
		return "parse_error"
	case apperr.KindValidation:
		return "validation_failed"
	default:
		return "unavailable"
	}
}
