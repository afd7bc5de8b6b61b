package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a tracked instrument keyed by the provider's stable id.
type Asset struct {
	AssetID string `gorm:"type:varchar(128);primaryKey"`
	Symbol  string `gorm:"type:varchar(32);not null"`
	Name    string `gorm:"type:varchar(256);not null"`
}

// PricePoint is one sub-daily observation. Timestamp is UTC with second
// precision.
type PricePoint struct {
	AssetID   string              `gorm:"type:varchar(128);primaryKey"`
	Timestamp time.Time           `gorm:"column:ts;primaryKey"`
	Price     decimal.Decimal     `gorm:"type:numeric;not null"`
	MarketCap decimal.NullDecimal `gorm:"type:numeric"`
	Volume    decimal.NullDecimal `gorm:"type:numeric"`
	Source    string              `gorm:"type:varchar(32);not null"`
}

// DailyMetric is the OHLC summary of one asset on one calendar day of the
// reference timezone. Date is stored as midnight UTC of that calendar day.
type DailyMetric struct {
	AssetID   string              `gorm:"type:varchar(128);primaryKey"`
	Date      time.Time           `gorm:"type:date;primaryKey"`
	Open      decimal.Decimal     `gorm:"type:numeric;not null"`
	High      decimal.Decimal     `gorm:"type:numeric;not null"`
	Low       decimal.Decimal     `gorm:"type:numeric;not null"`
	Close     decimal.Decimal     `gorm:"type:numeric;not null"`
	Volume    decimal.NullDecimal `gorm:"type:numeric"`
	MarketCap decimal.NullDecimal `gorm:"type:numeric"`
}

func (Asset) TableName() string {
	return "assets"
}

func (PricePoint) TableName() string {
	return "prices"
}

func (DailyMetric) TableName() string {
	return "daily_metrics"
}
