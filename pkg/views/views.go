package views

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/collection"

	"crypto_tracker/pkg/models"
)

const (
	DefaultTTL     = 60 * time.Second
	DefaultOHLCTTL = 300 * time.Second

	cacheLimit = 1024
)

// Reader serves the dashboard read views. *db.DB implements it.
type Reader interface {
	LatestPrices(ctx context.Context) ([]models.LatestPrice, error)
	PriceChanges24h(ctx context.Context) ([]models.PriceChange, error)
	Sparkline7d(ctx context.Context, assetID string) ([]models.SparkPoint, error)
	DailyOHLC(ctx context.Context, assetID string) ([]models.DailyOHLC, error)
}

// Cached is a read-through Reader. Results are kept for a fixed TTL; errors
// are never cached. Safe for concurrent use.
type Cached struct {
	reader Reader
	recent *collection.Cache
	ohlc   *collection.Cache
}

func NewCached(reader Reader, ttl, ohlcTTL time.Duration) (*Cached, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ohlcTTL <= 0 {
		ohlcTTL = DefaultOHLCTTL
	}
	recent, err := collection.NewCache(ttl, collection.WithName("views"), collection.WithLimit(cacheLimit))
	if err != nil {
		return nil, fmt.Errorf("create views cache: %w", err)
	}
	ohlc, err := collection.NewCache(ohlcTTL, collection.WithName("views-ohlc"), collection.WithLimit(cacheLimit))
	if err != nil {
		return nil, fmt.Errorf("create ohlc cache: %w", err)
	}
	return &Cached{reader: reader, recent: recent, ohlc: ohlc}, nil
}

func (c *Cached) LatestPrices(ctx context.Context) ([]models.LatestPrice, error) {
	return take(c.recent, "latest", func() ([]models.LatestPrice, error) {
		return c.reader.LatestPrices(ctx)
	})
}

func (c *Cached) PriceChanges24h(ctx context.Context) ([]models.PriceChange, error) {
	return take(c.recent, "change24h", func() ([]models.PriceChange, error) {
		return c.reader.PriceChanges24h(ctx)
	})
}

func (c *Cached) Sparkline7d(ctx context.Context, assetID string) ([]models.SparkPoint, error) {
	return take(c.recent, "spark:"+assetID, func() ([]models.SparkPoint, error) {
		return c.reader.Sparkline7d(ctx, assetID)
	})
}

func (c *Cached) DailyOHLC(ctx context.Context, assetID string) ([]models.DailyOHLC, error) {
	return take(c.ohlc, "ohlc:"+assetID, func() ([]models.DailyOHLC, error) {
		return c.reader.DailyOHLC(ctx, assetID)
	})
}

func take[T any](cache *collection.Cache, key string, fetch func() (T, error)) (T, error) {
	value, err := cache.Take(key, func() (any, error) {
		return fetch()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}
