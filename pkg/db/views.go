package db

import (
	"context"

	"crypto_tracker/pkg/models"
)

// viewStatements are run in order by Migrate; later views build on earlier ones.
var viewStatements = []string{
	`CREATE OR REPLACE VIEW v_latest_prices AS
SELECT DISTINCT ON (p.asset_id)
  p.asset_id, a.symbol, a.name, p.ts, p.price, p.market_cap, p.volume
FROM prices p
LEFT JOIN assets a ON a.asset_id = p.asset_id
ORDER BY p.asset_id, p.ts DESC`,

	`CREATE OR REPLACE VIEW v_price_change_24h AS
SELECT l.asset_id,
  l.price AS price_now,
  prev.price AS price_24h_ago,
  CASE WHEN prev.price IS NULL OR prev.price = 0 THEN NULL
       ELSE (l.price - prev.price) / prev.price * 100 END AS pct_change_24h
FROM v_latest_prices l
LEFT JOIN LATERAL (
  SELECT p.price FROM prices p
  WHERE p.asset_id = l.asset_id AND p.ts <= l.ts - INTERVAL '24 hours'
  ORDER BY p.ts DESC
  LIMIT 1
) prev ON TRUE`,

	`CREATE OR REPLACE VIEW v_sparkline_7d AS
SELECT asset_id, ts, price
FROM prices
WHERE ts >= now() - INTERVAL '7 days'`,

	`CREATE OR REPLACE VIEW v_daily_ohlc AS
SELECT asset_id, date, open, high, low, close, volume, market_cap
FROM daily_metrics`,
}

func (db *DB) LatestPrices(ctx context.Context) ([]models.LatestPrice, error) {
	var data []models.LatestPrice
	result := db.WithContext(ctx).Order("asset_id asc").Find(&data)
	if result.Error != nil {
		db.Logger.Errorf("Error getting latest prices: %v", result.Error)
		return nil, &StorageError{Op: "read latest prices", Err: result.Error}
	}
	return data, nil
}

func (db *DB) PriceChanges24h(ctx context.Context) ([]models.PriceChange, error) {
	var data []models.PriceChange
	result := db.WithContext(ctx).Order("asset_id asc").Find(&data)
	if result.Error != nil {
		db.Logger.Errorf("Error getting 24h price changes: %v", result.Error)
		return nil, &StorageError{Op: "read price changes", Err: result.Error}
	}
	return data, nil
}

func (db *DB) Sparkline7d(ctx context.Context, assetID string) ([]models.SparkPoint, error) {
	var data []models.SparkPoint
	result := db.WithContext(ctx).Where("asset_id = ?", assetID).
		Order("ts asc").
		Find(&data)
	if result.Error != nil {
		db.Logger.Errorf("Error getting sparkline of %s: %v", assetID, result.Error)
		return nil, &StorageError{Op: "read sparkline", Err: result.Error}
	}
	return data, nil
}

func (db *DB) DailyOHLC(ctx context.Context, assetID string) ([]models.DailyOHLC, error) {
	var data []models.DailyOHLC
	result := db.WithContext(ctx).Where("asset_id = ?", assetID).
		Order("date asc").
		Find(&data)
	if result.Error != nil {
		db.Logger.Errorf("Error getting daily OHLC of %s: %v", assetID, result.Error)
		return nil, &StorageError{Op: "read daily ohlc", Err: result.Error}
	}
	return data, nil
}
