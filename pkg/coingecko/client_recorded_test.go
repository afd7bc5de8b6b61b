package coingecko

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/dnaeon/go-vcr/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Replays a captured market_chart response for bitcoin.
func TestFetchChartRecorded(t *testing.T) {
	r, err := recorder.NewAsMode(filepath.Join("testdata", "cassettes", "bitcoin_market_chart"), recorder.ModeReplaying, nil)
	require.NoError(t, err)
	defer func() { _ = r.Stop() }()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	client := NewClient("", quietLogger(),
		WithHTTPClient(&http.Client{Transport: r}),
		WithClock(func() time.Time { return now }),
		WithRetryPolicy(fastRetry),
	)

	series, err := client.FetchChart(context.Background(), "bitcoin", 1, Hourly)
	require.NoError(t, err)

	cutoff := now.Add(-24 * time.Hour).UnixMilli()
	require.Len(t, series.Prices, 4)
	assert.Equal(t, cutoff, series.Prices[0].TimestampMillis)
	assert.Len(t, series.MarketCaps, 2)
	assert.Len(t, series.Volumes, 2)
	for _, p := range series.Volumes {
		assert.GreaterOrEqual(t, p.TimestampMillis, cutoff)
	}
	assert.Equal(t, "69410.5", series.Prices[3].Value.Decimal.String())
}
