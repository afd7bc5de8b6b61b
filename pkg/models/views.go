package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LatestPrice is a row of v_latest_prices.
type LatestPrice struct {
	AssetID   string
	Symbol    string
	Name      string
	Timestamp time.Time `gorm:"column:ts"`
	Price     decimal.Decimal
	MarketCap decimal.NullDecimal
	Volume    decimal.NullDecimal
}

// PriceChange is a row of v_price_change_24h.
type PriceChange struct {
	AssetID      string
	PriceNow     decimal.Decimal
	Price24hAgo  decimal.NullDecimal `gorm:"column:price_24h_ago"`
	PctChange24h decimal.NullDecimal `gorm:"column:pct_change_24h"`
}

// SparkPoint is a row of v_sparkline_7d.
type SparkPoint struct {
	AssetID   string
	Timestamp time.Time `gorm:"column:ts"`
	Price     decimal.Decimal
}

// DailyOHLC is a row of v_daily_ohlc.
type DailyOHLC struct {
	AssetID   string
	Date      time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.NullDecimal
	MarketCap decimal.NullDecimal
}

func (LatestPrice) TableName() string {
	return "v_latest_prices"
}

func (PriceChange) TableName() string {
	return "v_price_change_24h"
}

func (SparkPoint) TableName() string {
	return "v_sparkline_7d"
}

func (DailyOHLC) TableName() string {
	return "v_daily_ohlc"
}
