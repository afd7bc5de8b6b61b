package normalize

import (
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"crypto_tracker/pkg/coingecko"
	"crypto_tracker/pkg/models"
)

// DayLayout formats the keys of Series.Days.
const DayLayout = "2006-01-02"

// Series is the normalized form of one asset's raw chart.
type Series struct {
	AssetID string
	Prices  []models.PricePoint
	Days    map[string]models.DailyMetric
}

// SortedDays returns the day buckets in calendar order.
func (s *Series) SortedDays() []models.DailyMetric {
	keys := make([]string, 0, len(s.Days))
	for k := range s.Days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	days := make([]models.DailyMetric, 0, len(keys))
	for _, k := range keys {
		days = append(days, s.Days[k])
	}
	return days
}

// Normalizer turns raw provider series into rows, bucketing days in a fixed
// reference timezone.
type Normalizer struct {
	loc *time.Location
}

func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// NewForZone loads the IANA zone name and returns a Normalizer for it.
func NewForZone(name string) (*Normalizer, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load reference timezone %q: %w", name, err)
	}
	return New(loc), nil
}

func (n *Normalizer) Location() *time.Location {
	return n.loc
}

type priceSample struct {
	millis int64
	price  decimal.Decimal
}

// Normalize emits one PricePoint per distinct second of raw.Prices, in time
// order, with the market cap and volume sampled at the same millisecond when
// present, and derives the day buckets from those points.
func (n *Normalizer) Normalize(assetID string, raw *coingecko.RawSeries) *Series {
	series := &Series{
		AssetID: assetID,
		Days:    make(map[string]models.DailyMetric),
	}
	if raw == nil || len(raw.Prices) == 0 {
		return series
	}

	caps := valuesByMillis(raw.MarketCaps)
	volumes := valuesByMillis(raw.Volumes)

	bySecond := make(map[int64]priceSample, len(raw.Prices))
	for _, p := range raw.Prices {
		if !p.Value.Valid {
			continue
		}
		bySecond[floorDiv(p.TimestampMillis, 1000)] = priceSample{millis: p.TimestampMillis, price: p.Value.Decimal}
	}

	seconds := make([]int64, 0, len(bySecond))
	for sec := range bySecond {
		seconds = append(seconds, sec)
	}
	sort.Slice(seconds, func(i, j int) bool { return seconds[i] < seconds[j] })

	series.Prices = make([]models.PricePoint, 0, len(seconds))
	for _, sec := range seconds {
		sample := bySecond[sec]
		series.Prices = append(series.Prices, models.PricePoint{
			AssetID:   assetID,
			Timestamp: time.Unix(sec, 0).UTC(),
			Price:     sample.price,
			MarketCap: caps[sample.millis],
			Volume:    volumes[sample.millis],
		})
	}

	n.aggregateDays(series, caps, volumes)
	return series
}

func (n *Normalizer) aggregateDays(series *Series, caps, volumes map[int64]decimal.NullDecimal) {
	// Prices are sorted, so the first point of a day is its open and the
	// last one its close.
	for _, p := range series.Prices {
		key := n.dayKey(p.Timestamp)
		day, ok := series.Days[key]
		if !ok {
			day = models.DailyMetric{
				AssetID: series.AssetID,
				Date:    n.dayDate(p.Timestamp),
				Open:    p.Price,
				High:    p.Price,
				Low:     p.Price,
			}
		}
		if p.Price.GreaterThan(day.High) {
			day.High = p.Price
		}
		if p.Price.LessThan(day.Low) {
			day.Low = p.Price
		}
		day.Close = p.Price
		series.Days[key] = day
	}

	for key, value := range n.lastKnownByDay(caps, series.Days) {
		day := series.Days[key]
		day.MarketCap = value
		series.Days[key] = day
	}
	for key, value := range n.lastKnownByDay(volumes, series.Days) {
		day := series.Days[key]
		day.Volume = value
		series.Days[key] = day
	}
}

// lastKnownByDay picks, for every existing day, the non-null value with the
// latest timestamp inside that day.
func (n *Normalizer) lastKnownByDay(values map[int64]decimal.NullDecimal, days map[string]models.DailyMetric) map[string]decimal.NullDecimal {
	latest := make(map[string]int64)
	picked := make(map[string]decimal.NullDecimal)
	for ms, v := range values {
		if !v.Valid {
			continue
		}
		key := n.dayKey(time.Unix(floorDiv(ms, 1000), 0))
		if _, ok := days[key]; !ok {
			continue
		}
		if best, ok := latest[key]; ok && best >= ms {
			continue
		}
		latest[key] = ms
		picked[key] = v
	}
	return picked
}

// DropDaysBefore removes the day buckets that start before windowStart in
// the reference timezone and returns how many were dropped. Those days are
// only partially covered by the fetched window.
func (n *Normalizer) DropDaysBefore(series *Series, windowStart time.Time) int {
	dropped := 0
	for key, day := range series.Days {
		midnight := time.Date(day.Date.Year(), day.Date.Month(), day.Date.Day(), 0, 0, 0, 0, n.loc)
		if midnight.Before(windowStart) {
			delete(series.Days, key)
			dropped++
		}
	}
	return dropped
}

// StartOfDay returns midnight, in the reference timezone, of the day that
// contains ts.
func (n *Normalizer) StartOfDay(ts time.Time) time.Time {
	local := ts.In(n.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, n.loc)
}

func (n *Normalizer) dayKey(ts time.Time) string {
	return ts.In(n.loc).Format(DayLayout)
}

func (n *Normalizer) dayDate(ts time.Time) time.Time {
	local := ts.In(n.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// valuesByMillis indexes a series by timestamp; later duplicates win.
func valuesByMillis(points []coingecko.SeriesPoint) map[int64]decimal.NullDecimal {
	values := make(map[int64]decimal.NullDecimal, len(points))
	for _, p := range points {
		values[p.TimestampMillis] = p.Value
	}
	return values
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
