package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity is the sampling interval requested from the chart endpoint.
type Granularity string

const (
	Hourly Granularity = "hourly"
	Daily  Granularity = "daily"
)

// SeriesPoint is one [timestampMillis, value] pair. Value is invalid when the
// provider sent null.
type SeriesPoint struct {
	TimestampMillis int64
	Value           decimal.NullDecimal
}

func (p *SeriesPoint) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("series point: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("series point: want 2 elements, got %d", len(pair))
	}

	var ts decimal.Decimal
	if err := ts.UnmarshalJSON(pair[0]); err != nil {
		return fmt.Errorf("series point timestamp: %w", err)
	}
	p.TimestampMillis = ts.Floor().IntPart()

	var value decimal.NullDecimal
	if err := value.UnmarshalJSON(pair[1]); err != nil {
		return fmt.Errorf("series point value: %w", err)
	}
	p.Value = value
	return nil
}

func (p SeriesPoint) MarshalJSON() ([]byte, error) {
	value := "null"
	if p.Value.Valid {
		value = p.Value.Decimal.String()
	}
	return []byte(fmt.Sprintf("[%d,%s]", p.TimestampMillis, value)), nil
}

// RawSeries is the market_chart payload. The three series are independently
// lengthed and not guaranteed to share timestamps.
type RawSeries struct {
	Prices     []SeriesPoint `json:"prices"`
	MarketCaps []SeriesPoint `json:"market_caps"`
	Volumes    []SeriesPoint `json:"total_volumes"`
}

// TrimBefore drops every sample older than cutoffMillis from all series.
func (s *RawSeries) TrimBefore(cutoffMillis int64) {
	s.Prices = trimSeries(s.Prices, cutoffMillis)
	s.MarketCaps = trimSeries(s.MarketCaps, cutoffMillis)
	s.Volumes = trimSeries(s.Volumes, cutoffMillis)
}

// Append concatenates other onto s.
func (s *RawSeries) Append(other *RawSeries) {
	if other == nil {
		return
	}
	s.Prices = append(s.Prices, other.Prices...)
	s.MarketCaps = append(s.MarketCaps, other.MarketCaps...)
	s.Volumes = append(s.Volumes, other.Volumes...)
}

func trimSeries(points []SeriesPoint, cutoffMillis int64) []SeriesPoint {
	kept := points[:0]
	for _, p := range points {
		if p.TimestampMillis >= cutoffMillis {
			kept = append(kept, p)
		}
	}
	return kept
}

// FetchChart returns the last days of price, market cap and volume samples
// for id. Hourly windows shorter than the provider minimum are over-fetched
// and trimmed locally to now - days.
func (c *Client) FetchChart(ctx context.Context, id string, days int, granularity Granularity) (*RawSeries, error) {
	if days <= 0 {
		return nil, &APIError{Kind: KindFatal, Message: fmt.Sprintf("invalid window of %d days for %s", days, id)}
	}

	query := url.Values{}
	query.Set("vs_currency", c.vsCurrency)

	fetchDays := days
	switch granularity {
	case Hourly:
		// The provider picks hourly samples on its own inside this range and
		// rejects an explicit interval on the public plans.
		if fetchDays < c.minHourlyDays {
			fetchDays = c.minHourlyDays
		}
		if fetchDays > c.maxHourlyDays {
			c.logger.Warnf("Window of %d days for %s exceeds the hourly limit of %d days, provider will answer daily", fetchDays, id, c.maxHourlyDays)
		}
	case "":
	default:
		query.Set("interval", string(granularity))
	}
	query.Set("days", strconv.Itoa(fetchDays))

	c.logger.Debugf("Fetching %s chart of %s for %d days", granularityName(granularity), id, days)

	var series RawSeries
	what := fmt.Sprintf("chart of %s", id)
	if err := c.get(ctx, what, fmt.Sprintf(chartEndpoint, url.PathEscape(id)), query, &series); err != nil {
		return nil, err
	}

	if fetchDays > days {
		cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
		series.TrimBefore(cutoff.UnixMilli())
	}
	return &series, nil
}

// FetchChartRange returns the samples of id between from and to. Ranges of
// up to MaxHourlyDays are answered hourly.
func (c *Client) FetchChartRange(ctx context.Context, id string, from, to time.Time) (*RawSeries, error) {
	if !from.Before(to) {
		return nil, &APIError{Kind: KindFatal, Message: fmt.Sprintf("invalid range [%s, %s] for %s", from, to, id)}
	}

	query := url.Values{}
	query.Set("vs_currency", c.vsCurrency)
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	c.logger.Debugf("Fetching chart of %s for range [%s, %s]", id, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))

	var series RawSeries
	what := fmt.Sprintf("chart range of %s", id)
	if err := c.get(ctx, what, fmt.Sprintf(rangeEndpoint, url.PathEscape(id)), query, &series); err != nil {
		return nil, err
	}
	return &series, nil
}

func granularityName(g Granularity) string {
	if g == "" {
		return "auto"
	}
	return string(g)
}
