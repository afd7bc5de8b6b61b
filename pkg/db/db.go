package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"crypto_tracker/pkg/models"
)

const (
	DefaultSource    = "coingecko"
	defaultBatchSize = 500
)

// StorageError reports a failed store operation. The transaction it ran in
// has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

type DB struct {
	*gorm.DB
	Logger    logrus.FieldLogger
	source    string
	batchSize int
}

// Option configures a DB.
type Option func(*DB)

// WithSource sets the value stamped on newly inserted prices.
func WithSource(source string) Option {
	return func(db *DB) {
		if source != "" {
			db.source = source
		}
	}
}

func WithBatchSize(n int) Option {
	return func(db *DB) {
		if n > 0 {
			db.batchSize = n
		}
	}
}

// NewDB opens dialector with a single-connection pool.
func NewDB(dialector gorm.Dialector, logger logrus.FieldLogger, opts ...Option) (*DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		logger.Errorf("Error connecting to database: %v", err)
		return nil, &StorageError{Op: "connect", Err: err}
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, &StorageError{Op: "connect", Err: err}
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: gdb, Logger: logger, source: DefaultSource, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

func newGormLogger(logger logrus.FieldLogger) gormlogger.Interface {
	return gormlogger.New(logger, gormlogger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// Close releases the connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the tables and, on PostgreSQL, the read views.
func (db *DB) Migrate(ctx context.Context) error {
	tx := db.WithContext(ctx)
	if err := tx.AutoMigrate(&models.Asset{}, &models.PricePoint{}, &models.DailyMetric{}); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range viewStatements {
		if err := tx.Exec(stmt).Error; err != nil {
			return &StorageError{Op: "create views", Err: err}
		}
	}
	return nil
}

// UpsertAssets inserts assets, overwriting symbol and name of existing ids.
func (db *DB) UpsertAssets(ctx context.Context, assets []models.Asset) error {
	rows := dedupe(assets, func(a models.Asset) string { return a.AssetID })
	if len(rows) == 0 {
		return nil
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "name"}),
	}
	return db.upsert(ctx, "assets", rows, len(rows), conflict)
}

// UpsertPrices inserts price points keyed by (asset_id, ts). Existing rows
// get the new price, market cap and volume; source is only written on insert.
func (db *DB) UpsertPrices(ctx context.Context, prices []models.PricePoint) error {
	rows := dedupe(prices, func(p models.PricePoint) string {
		return fmt.Sprintf("%s|%d", p.AssetID, p.Timestamp.Truncate(time.Second).Unix())
	})
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].Timestamp = rows[i].Timestamp.UTC().Truncate(time.Second)
		if rows[i].Source == "" {
			rows[i].Source = db.source
		}
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}, {Name: "ts"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "market_cap", "volume"}),
	}
	return db.upsert(ctx, "prices", rows, len(rows), conflict)
}

// UpsertDaily inserts daily metrics keyed by (asset_id, date), overwriting
// every measure of existing days.
func (db *DB) UpsertDaily(ctx context.Context, days []models.DailyMetric) error {
	rows := dedupe(days, func(d models.DailyMetric) string {
		return d.AssetID + "|" + d.Date.Format("2006-01-02")
	})
	if len(rows) == 0 {
		return nil
	}
	conflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "market_cap"}),
	}
	return db.upsert(ctx, "daily metrics", rows, len(rows), conflict)
}

func (db *DB) upsert(ctx context.Context, what string, rows interface{}, count int, conflict clause.OnConflict) error {
	db.Logger.Debugf("Starting saving %d %s", count, what)
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(conflict).CreateInBatches(rows, db.batchSize).Error
	})
	if err != nil {
		db.Logger.Errorf("Error saving %s: %v", what, err)
		return &StorageError{Op: "upsert " + what, Err: err}
	}
	db.Logger.Debugf("Successfully saved %d %s", count, what)
	return nil
}

// dedupe keeps one row per key. The last occurrence wins and takes the
// position of the first.
func dedupe[T any](rows []T, key func(T) string) []T {
	out := make([]T, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		k := key(row)
		if i, ok := index[k]; ok {
			out[i] = row
			continue
		}
		index[k] = len(out)
		out = append(out, row)
	}
	return out
}
