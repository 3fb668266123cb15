// Package market implements external price/market fetchers, the
// aggregator that fans out across them, and the scheduling adapter that
// drives periodic and on-demand refreshes.
package market

import (
	"fmt"
	"strconv"
	"time"
)

// Snapshot is the composed market summary served to clients.
type Snapshot struct {
	BTCPriceUSD                      float64           `json:"btc_price_usd"`
	BTCChange24h                     float64           `json:"btc_change_24h"`
	MarketCapUSD                     float64           `json:"market_cap_usd"`
	Volume24hUSD                     float64           `json:"volume_24h_usd"`
	MarketCapChangePercentage24hUSD  float64           `json:"market_cap_change_percentage_24h_usd"`
	BTCMarketCapPercentage           float64           `json:"btc_market_cap_percentage"`
	ETHMarketCapPercentage           float64           `json:"eth_market_cap_percentage"`
	FNGValue                         float64           `json:"fng_value"`
	RSI14                            float64           `json:"rsi_14"`
	DataSources                      map[string]string `json:"data_sources"`
	FetchDurationMs                  int64             `json:"fetch_duration_ms"`
	PartialFailure                   bool              `json:"partial_failure"`
	FetchedAt                        time.Time         `json:"fetched_at"`
}

// scalarFieldOrder lists the scalar Snapshot fields carried on the stream,
// the same keys Flatten writes and Unflatten reads; neither function
// iterates this list.
var scalarFieldOrder = []string{
	"btc_price_usd",
	"btc_change_24h",
	"market_cap_usd",
	"volume_24h_usd",
	"market_cap_change_percentage_24h_usd",
	"btc_market_cap_percentage",
	"eth_market_cap_percentage",
	"fng_value",
	"rsi_14",
	"fetch_duration_ms",
	"partial_failure",
	"fetched_at",
}

// Flatten turns every scalar field into a (key, stringified value) pair.
// data_sources, being a map, is carried as one JSON-encoded field instead
// of being expanded.
func Flatten(s Snapshot) map[string]string {
	out := map[string]string{
		"btc_price_usd":                         strconv.FormatFloat(s.BTCPriceUSD, 'f', -1, 64),
		"btc_change_24h":                         strconv.FormatFloat(s.BTCChange24h, 'f', -1, 64),
		"market_cap_usd":                         strconv.FormatFloat(s.MarketCapUSD, 'f', -1, 64),
		"volume_24h_usd":                         strconv.FormatFloat(s.Volume24hUSD, 'f', -1, 64),
		"market_cap_change_percentage_24h_usd":   strconv.FormatFloat(s.MarketCapChangePercentage24hUSD, 'f', -1, 64),
		"btc_market_cap_percentage":              strconv.FormatFloat(s.BTCMarketCapPercentage, 'f', -1, 64),
		"eth_market_cap_percentage":              strconv.FormatFloat(s.ETHMarketCapPercentage, 'f', -1, 64),
		"fng_value":                              strconv.FormatFloat(s.FNGValue, 'f', -1, 64),
		"rsi_14":                                 strconv.FormatFloat(s.RSI14, 'f', -1, 64),
		"fetch_duration_ms":                      strconv.FormatInt(s.FetchDurationMs, 10),
		"partial_failure":                        strconv.FormatBool(s.PartialFailure),
		"fetched_at":                             s.FetchedAt.Format(time.RFC3339Nano),
	}
	if len(s.DataSources) > 0 {
		out["data_sources"] = encodeDataSources(s.DataSources)
	}
	return out
}

// Unflatten is Flatten's inverse. Malformed numeric fields are reported,
// not silently zeroed, since a corrupted stream entry must not masquerade
// as a valid zero reading.
func Unflatten(fields map[string]string) (Snapshot, error) {
	var s Snapshot
	var err error

	if s.BTCPriceUSD, err = parseFloat(fields, "btc_price_usd"); err != nil {
		return s, err
	}
	if s.BTCChange24h, err = parseFloat(fields, "btc_change_24h"); err != nil {
		return s, err
	}
	if s.MarketCapUSD, err = parseFloat(fields, "market_cap_usd"); err != nil {
		return s, err
	}
	if s.Volume24hUSD, err = parseFloat(fields, "volume_24h_usd"); err != nil {
		return s, err
	}
	if s.MarketCapChangePercentage24hUSD, err = parseFloat(fields, "market_cap_change_percentage_24h_usd"); err != nil {
		return s, err
	}
	if s.BTCMarketCapPercentage, err = parseFloat(fields, "btc_market_cap_percentage"); err != nil {
		return s, err
	}
	if s.ETHMarketCapPercentage, err = parseFloat(fields, "eth_market_cap_percentage"); err != nil {
		return s, err
	}
	if s.FNGValue, err = parseFloat(fields, "fng_value"); err != nil {
		return s, err
	}
	if s.RSI14, err = parseFloat(fields, "rsi_14"); err != nil {
		return s, err
	}
	if raw, ok := fields["fetch_duration_ms"]; ok {
		if s.FetchDurationMs, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return s, fmt.Errorf("unflatten fetch_duration_ms: %w", err)
		}
	}
	if raw, ok := fields["partial_failure"]; ok {
		if s.PartialFailure, err = strconv.ParseBool(raw); err != nil {
			return s, fmt.Errorf("unflatten partial_failure: %w", err)
		}
	}
	if raw, ok := fields["fetched_at"]; ok {
		if s.FetchedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return s, fmt.Errorf("unflatten fetched_at: %w", err)
		}
	}
	if raw, ok := fields["data_sources"]; ok {
		if s.DataSources, err = decodeDataSources(raw); err != nil {
			return s, fmt.Errorf("unflatten data_sources: %w", err)
		}
	}
	return s, nil
}

func parseFloat(fields map[string]string, key string) (float64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("unflatten %s: %w", key, err)
	}
	return v, nil
}
