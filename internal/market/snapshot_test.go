package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Invariant 10: flatten/unflatten preserves all scalar fields verbatim.
func TestFlattenUnflatten_RoundTrip(t *testing.T) {
	s := Snapshot{
		BTCPriceUSD:                     65123.45,
		BTCChange24h:                    -1.23,
		MarketCapUSD:                    2_500_000_000_000,
		Volume24hUSD:                    98_000_000_000,
		MarketCapChangePercentage24hUSD: 0.87,
		BTCMarketCapPercentage:          52.1,
		ETHMarketCapPercentage:          17.4,
		FNGValue:                        62,
		RSI14:                           55.5,
		DataSources:                     map[string]string{"btc_price": "primary", "fng": "ok"},
		FetchDurationMs:                 842,
		PartialFailure:                  false,
		FetchedAt:                       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	fields := Flatten(s)
	got, err := Unflatten(fields)
	require.NoError(t, err)

	assert.Equal(t, s.BTCPriceUSD, got.BTCPriceUSD)
	assert.Equal(t, s.BTCChange24h, got.BTCChange24h)
	assert.Equal(t, s.MarketCapUSD, got.MarketCapUSD)
	assert.Equal(t, s.Volume24hUSD, got.Volume24hUSD)
	assert.Equal(t, s.MarketCapChangePercentage24hUSD, got.MarketCapChangePercentage24hUSD)
	assert.Equal(t, s.BTCMarketCapPercentage, got.BTCMarketCapPercentage)
	assert.Equal(t, s.ETHMarketCapPercentage, got.ETHMarketCapPercentage)
	assert.Equal(t, s.FNGValue, got.FNGValue)
	assert.Equal(t, s.RSI14, got.RSI14)
	assert.Equal(t, s.FetchDurationMs, got.FetchDurationMs)
	assert.Equal(t, s.PartialFailure, got.PartialFailure)
	assert.True(t, s.FetchedAt.Equal(got.FetchedAt))
	assert.Equal(t, s.DataSources, got.DataSources)
}

func TestUnflatten_RejectsCorruptNumericField(t *testing.T) {
	fields := Flatten(Snapshot{FetchedAt: time.Now()})
	fields["btc_price_usd"] = "not-a-number"
	_, err := Unflatten(fields)
	assert.Error(t, err)
}
