package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"crypto_tracker/pkg/coingecko"
	"crypto_tracker/pkg/models"
	"crypto_tracker/pkg/normalize"
)

const (
	DefaultIncrementalDays = 1
	DefaultBackfillDays    = 90
	DefaultPacingDelay     = time.Second
)

// ErrUnknownAsset marks a registered id the provider returned no summary for.
var ErrUnknownAsset = errors.New("asset unknown to provider")

// Source fetches raw market data. *coingecko.Client implements it.
type Source interface {
	FetchMarkets(ctx context.Context, ids []string) ([]coingecko.AssetSummary, error)
	FetchChart(ctx context.Context, id string, days int, granularity coingecko.Granularity) (*coingecko.RawSeries, error)
	FetchChartRange(ctx context.Context, id string, from, to time.Time) (*coingecko.RawSeries, error)
	MaxHourlyDays() int
}

// Store persists normalized rows. *db.DB implements it.
type Store interface {
	UpsertAssets(ctx context.Context, assets []models.Asset) error
	UpsertPrices(ctx context.Context, prices []models.PricePoint) error
	UpsertDaily(ctx context.Context, days []models.DailyMetric) error
}

// Registry lists the tracked asset ids.
type Registry interface {
	IDs() ([]string, error)
}

// Report summarizes a finished run.
type Report struct {
	RunID  string
	Mode   string
	Assets int
	Prices int
	Days   int
	Failed []string
}

// AssetError ties a fetch failure to the asset it happened on.
type AssetError struct {
	AssetID string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.AssetID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

// PartialError is returned when a run committed the healthy assets but
// skipped the ones listed in Failed.
type PartialError struct {
	Failed []string
	Total  int
	Err    error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d assets failed (%s): %v", len(e.Failed), e.Total, strings.Join(e.Failed, ", "), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

type Runner struct {
	source     Source
	store      Store
	registry   Registry
	normalizer *normalize.Normalizer
	logger     logrus.FieldLogger

	incrementalDays int
	backfillDays    int
	pacingDelay     time.Duration
	partialSuccess  bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Runner.
type Option func(*Runner)

func WithIncrementalDays(days int) Option {
	return func(r *Runner) {
		if days > 0 {
			r.incrementalDays = days
		}
	}
}

func WithBackfillDays(days int) Option {
	return func(r *Runner) {
		if days > 0 {
			r.backfillDays = days
		}
	}
}

// WithPacingDelay sets the pause between assets during a backfill.
func WithPacingDelay(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.pacingDelay = d
		}
	}
}

// WithPartialSuccess lets a run skip failing assets and commit the rest
// instead of aborting on the first failure.
func WithPartialSuccess(enabled bool) Option {
	return func(r *Runner) {
		r.partialSuccess = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

func NewRunner(source Source, store Store, registry Registry, normalizer *normalize.Normalizer, logger logrus.FieldLogger, opts ...Option) *Runner {
	r := &Runner{
		source:          source,
		store:           store,
		registry:        registry,
		normalizer:      normalizer,
		logger:          logger,
		incrementalDays: DefaultIncrementalDays,
		backfillDays:    DefaultBackfillDays,
		pacingDelay:     DefaultPacingDelay,
		now:             time.Now,
		sleep:           sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunIncremental refreshes asset summaries and the most recent window of
// hourly data for every registered asset, then writes everything in one
// upsert per table. The fetched window is widened to the start of the
// reference day it begins in, so that day is aggregated from full data.
func (r *Runner) RunIncremental(ctx context.Context) (*Report, error) {
	report, log := r.newReport("incremental")

	ids, err := r.registry.IDs()
	if err != nil {
		return report, fmt.Errorf("load asset registry: %w", err)
	}

	log.Infof("Fetching market data of %d assets", len(ids))
	summaries, err := r.source.FetchMarkets(ctx, ids)
	if err != nil {
		return report, fmt.Errorf("fetch markets: %w", err)
	}
	assets := make([]models.Asset, 0, len(summaries))
	known := make(map[string]struct{}, len(summaries))
	for _, s := range summaries {
		assets = append(assets, models.Asset{AssetID: s.ID, Symbol: s.Symbol, Name: s.Name})
		known[s.ID] = struct{}{}
	}

	// Ids without a summary would leave price rows with no asset row.
	tracked := make([]string, 0, len(ids))
	unknown := &collected{}
	for _, id := range ids {
		if _, ok := known[id]; ok {
			tracked = append(tracked, id)
			continue
		}
		assetErr := &AssetError{AssetID: id, Err: ErrUnknownAsset}
		if !r.partialSuccess {
			log.Errorf("No market summary for %s", id)
			return report, assetErr
		}
		log.Warnf("Skipping %s: %v", id, ErrUnknownAsset)
		unknown.failedIDs = append(unknown.failedIDs, id)
		unknown.errs = append(unknown.errs, assetErr)
	}

	now := r.now()
	days := r.fetchDays(now, r.incrementalDays)
	fetchStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	rows, err := r.collect(ctx, log, tracked, fetchStart, 0, func(id string) (*coingecko.RawSeries, error) {
		log.Infof("Fetching %s data of %s for %d day(s)", coingecko.Hourly, id, days)
		return r.source.FetchChart(ctx, id, days, coingecko.Hourly)
	})
	if err != nil {
		return report, err
	}
	rows.failedIDs = append(unknown.failedIDs, rows.failedIDs...)
	rows.errs = append(unknown.errs, rows.errs...)

	if err := r.store.UpsertAssets(ctx, assets); err != nil {
		return report, fmt.Errorf("upsert assets: %w", err)
	}
	report.Assets = len(assets)
	if err := r.write(ctx, rows, report); err != nil {
		return report, err
	}

	log.Infof("Saved %d assets, %d prices, %d daily metrics", report.Assets, report.Prices, report.Days)
	return report, rows.partialError(len(ids))
}

// fetchDays widens a window of days ending at now so that it starts at or
// before midnight of the reference day containing now - days.
func (r *Runner) fetchDays(now time.Time, days int) int {
	dayStart := r.normalizer.StartOfDay(now.Add(-time.Duration(days) * 24 * time.Hour))
	span := now.Sub(dayStart)
	widened := int(span / (24 * time.Hour))
	if span%(24*time.Hour) != 0 {
		widened++
	}
	return max(widened, days)
}

// RunBackfill loads days of history for every registered asset, pausing
// between assets. A non-positive days uses the configured default. Asset
// summaries are not refreshed.
func (r *Runner) RunBackfill(ctx context.Context, days int) (*Report, error) {
	if days <= 0 {
		days = r.backfillDays
	}
	report, log := r.newReport("backfill")

	ids, err := r.registry.IDs()
	if err != nil {
		return report, fmt.Errorf("load asset registry: %w", err)
	}

	now := r.now()
	windowStart := now.Add(-time.Duration(days) * 24 * time.Hour)
	log.Infof("Backfilling %d day(s) of %d assets", days, len(ids))

	rows, err := r.collect(ctx, log, ids, windowStart, r.pacingDelay, func(id string) (*coingecko.RawSeries, error) {
		return r.fetchHistory(ctx, log, id, days, windowStart, now)
	})
	if err != nil {
		return report, err
	}

	if err := r.write(ctx, rows, report); err != nil {
		return report, err
	}

	log.Infof("Saved %d prices, %d daily metrics", report.Prices, report.Days)
	return report, rows.partialError(len(ids))
}

// fetchHistory fetches windows up to the provider's hourly limit in one
// call and longer ones as consecutive range chunks.
func (r *Runner) fetchHistory(ctx context.Context, log logrus.FieldLogger, id string, days int, from, to time.Time) (*coingecko.RawSeries, error) {
	maxDays := r.source.MaxHourlyDays()
	if maxDays <= 0 || days <= maxDays {
		log.Infof("Fetching %s data of %s for %d day(s)", coingecko.Hourly, id, days)
		return r.source.FetchChart(ctx, id, days, coingecko.Hourly)
	}

	// Equal chunks keep every range call in the hourly band; a short tail
	// would come back at a finer granularity.
	chunks := (days + maxDays - 1) / maxDays
	chunk := to.Sub(from) / time.Duration(chunks)
	merged := &coingecko.RawSeries{}
	for i := 0; i < chunks; i++ {
		start := from.Add(time.Duration(i) * chunk)
		end := start.Add(chunk)
		if i == chunks-1 {
			end = to
		}
		log.Infof("Fetching range data of %s from %s to %s", id, start.Format(time.RFC3339), end.Format(time.RFC3339))
		part, err := r.source.FetchChartRange(ctx, id, start, end)
		if err != nil {
			return nil, err
		}
		merged.Append(part)
	}
	return merged, nil
}

type collected struct {
	prices    []models.PricePoint
	days      []models.DailyMetric
	failedIDs []string
	errs      []error
}

func (c *collected) partialError(total int) error {
	if len(c.failedIDs) == 0 {
		return nil
	}
	return &PartialError{Failed: c.failedIDs, Total: total, Err: errors.Join(c.errs...)}
}

// collect fetches and normalizes each asset in registry order. Day buckets
// starting before windowStart are dropped as partially covered.
func (r *Runner) collect(ctx context.Context, log logrus.FieldLogger, ids []string, windowStart time.Time, pacing time.Duration, fetch func(id string) (*coingecko.RawSeries, error)) (*collected, error) {
	rows := &collected{}
	for i, id := range ids {
		if i > 0 && pacing > 0 {
			if err := r.sleep(ctx, pacing); err != nil {
				return nil, err
			}
		}

		raw, err := fetch(id)
		if err != nil {
			assetErr := &AssetError{AssetID: id, Err: err}
			if !r.partialSuccess || ctx.Err() != nil {
				log.Errorf("Error fetching data of %s: %v", id, err)
				return nil, assetErr
			}
			log.Warnf("Skipping %s: %v", id, err)
			rows.failedIDs = append(rows.failedIDs, id)
			rows.errs = append(rows.errs, assetErr)
			continue
		}

		series := r.normalizer.Normalize(id, raw)
		dropped := r.normalizer.DropDaysBefore(series, windowStart)
		log.Debugf("Normalized %s: %d prices, %d days, %d partial days dropped", id, len(series.Prices), len(series.Days), dropped)

		rows.prices = append(rows.prices, series.Prices...)
		rows.days = append(rows.days, series.SortedDays()...)
	}
	return rows, nil
}

func (r *Runner) write(ctx context.Context, rows *collected, report *Report) error {
	if err := r.store.UpsertPrices(ctx, rows.prices); err != nil {
		return fmt.Errorf("upsert prices: %w", err)
	}
	report.Prices = len(rows.prices)
	if err := r.store.UpsertDaily(ctx, rows.days); err != nil {
		return fmt.Errorf("upsert daily metrics: %w", err)
	}
	report.Days = len(rows.days)
	report.Failed = rows.failedIDs
	return nil
}

func (r *Runner) newReport(mode string) (*Report, logrus.FieldLogger) {
	report := &Report{RunID: uuid.NewString(), Mode: mode}
	log := r.logger.WithFields(logrus.Fields{"run_id": report.RunID, "mode": mode})
	return report, log
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
