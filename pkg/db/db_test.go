package db

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"crypto_tracker/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := NewDB(sqlite.Open("file::memory:"), quietLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func TestUpsertAssetsOverwritesSymbolAndName(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertAssets(ctx, []models.Asset{
		{AssetID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
		{AssetID: "ethereum", Symbol: "eth", Name: "Ethereum"},
	}))
	require.NoError(t, db.UpsertAssets(ctx, []models.Asset{
		{AssetID: "bitcoin", Symbol: "xbt", Name: "Bitcoin (renamed)"},
	}))

	var assets []models.Asset
	require.NoError(t, db.Order("asset_id").Find(&assets).Error)
	require.Len(t, assets, 2)
	assert.Equal(t, models.Asset{AssetID: "bitcoin", Symbol: "xbt", Name: "Bitcoin (renamed)"}, assets[0])
	assert.Equal(t, "eth", assets[1].Symbol)
}

func TestUpsertPricesConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertPrices(ctx, []models.PricePoint{
		{AssetID: "bitcoin", Timestamp: ts, Price: dec("10")},
	}))
	require.NoError(t, db.UpsertPrices(ctx, []models.PricePoint{
		{AssetID: "bitcoin", Timestamp: ts, Price: dec("12"), Volume: nullDec("500"), Source: "replay"},
	}))

	var prices []models.PricePoint
	require.NoError(t, db.Find(&prices).Error)
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Price.Equal(dec("12")))
	require.True(t, prices[0].Volume.Valid)
	assert.True(t, prices[0].Volume.Decimal.Equal(dec("500")))
	assert.False(t, prices[0].MarketCap.Valid)
	assert.Equal(t, DefaultSource, prices[0].Source)
	assert.True(t, ts.Equal(prices[0].Timestamp))
}

func TestUpsertPricesDedupesAndTruncates(t *testing.T) {
	db := newTestDB(t, WithSource("test"))
	ctx := context.Background()
	ts := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)

	input := []models.PricePoint{
		{AssetID: "bitcoin", Timestamp: ts.Add(300 * time.Millisecond), Price: dec("1")},
		{AssetID: "bitcoin", Timestamp: ts, Price: dec("2")},
		{AssetID: "bitcoin", Timestamp: ts.Add(time.Hour), Price: dec("3")},
	}
	require.NoError(t, db.UpsertPrices(ctx, input))
	assert.Equal(t, ts.Add(300*time.Millisecond), input[0].Timestamp)

	var prices []models.PricePoint
	require.NoError(t, db.Order("ts").Find(&prices).Error)
	require.Len(t, prices, 2)
	assert.True(t, prices[0].Price.Equal(dec("2")))
	assert.Equal(t, "test", prices[0].Source)
}

func TestUpsertDailyOverwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, db.UpsertDaily(ctx, []models.DailyMetric{
		{AssetID: "bitcoin", Date: date, Open: dec("100"), High: dec("101"), Low: dec("99"), Close: dec("100")},
	}))
	require.NoError(t, db.UpsertDaily(ctx, []models.DailyMetric{
		{AssetID: "bitcoin", Date: date, Open: dec("100"), High: dec("105"), Low: dec("95"), Close: dec("102"), Volume: nullDec("7")},
	}))

	var days []models.DailyMetric
	require.NoError(t, db.Find(&days).Error)
	require.Len(t, days, 1)
	assert.True(t, days[0].High.Equal(dec("105")))
	assert.True(t, days[0].Low.Equal(dec("95")))
	assert.True(t, days[0].Close.Equal(dec("102")))
	assert.True(t, days[0].Volume.Valid)
	assert.Equal(t, "2024-03-10", days[0].Date.UTC().Format("2006-01-02"))
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.NoError(t, db.UpsertAssets(ctx, nil))
	assert.NoError(t, db.UpsertPrices(ctx, []models.PricePoint{}))
	assert.NoError(t, db.UpsertDaily(ctx, nil))
}

func TestUpsertIsAtomic(t *testing.T) {
	db := newTestDB(t, WithBatchSize(1))
	ctx := context.Background()
	require.NoError(t, db.Exec(`CREATE TRIGGER reject_bad BEFORE INSERT ON assets
WHEN NEW.asset_id = 'bad'
BEGIN SELECT RAISE(ABORT, 'rejected'); END`).Error)

	err := db.UpsertAssets(ctx, []models.Asset{
		{AssetID: "bitcoin", Symbol: "btc", Name: "Bitcoin"},
		{AssetID: "bad", Symbol: "bad", Name: "Bad"},
	})

	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, "upsert assets", storageErr.Op)

	var count int64
	require.NoError(t, db.Model(&models.Asset{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReadViews(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	// SQLite stand-ins for the PostgreSQL views.
	require.NoError(t, db.Exec(`CREATE VIEW v_latest_prices AS
SELECT p.asset_id, a.symbol, a.name, p.ts, p.price, p.market_cap, p.volume
FROM prices p LEFT JOIN assets a ON a.asset_id = p.asset_id
WHERE p.ts = (SELECT MAX(ts) FROM prices q WHERE q.asset_id = p.asset_id)`).Error)
	require.NoError(t, db.Exec(`CREATE VIEW v_daily_ohlc AS
SELECT asset_id, date, open, high, low, close, volume, market_cap FROM daily_metrics`).Error)

	ts := time.Date(2024, 3, 10, 6, 0, 0, 0, time.UTC)
	require.NoError(t, db.UpsertAssets(ctx, []models.Asset{{AssetID: "bitcoin", Symbol: "btc", Name: "Bitcoin"}}))
	require.NoError(t, db.UpsertPrices(ctx, []models.PricePoint{
		{AssetID: "bitcoin", Timestamp: ts, Price: dec("10")},
		{AssetID: "bitcoin", Timestamp: ts.Add(time.Hour), Price: dec("11")},
	}))
	require.NoError(t, db.UpsertDaily(ctx, []models.DailyMetric{
		{AssetID: "bitcoin", Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Open: dec("10"), High: dec("11"), Low: dec("10"), Close: dec("11")},
	}))

	latest, err := db.LatestPrices(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "btc", latest[0].Symbol)
	assert.True(t, latest[0].Price.Equal(dec("11")))

	ohlc, err := db.DailyOHLC(ctx, "bitcoin")
	require.NoError(t, err)
	require.Len(t, ohlc, 1)
	assert.True(t, ohlc[0].Close.Equal(dec("11")))

	_, err = db.PriceChanges24h(ctx)
	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr))
}
