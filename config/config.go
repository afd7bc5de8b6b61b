package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	defaultLogLevel          = "info"
	defaultSSLMode           = "require"
	defaultDBPort            = 5432
	defaultDBName            = "postgres"
	defaultConnectTimeout    = "10s"
	defaultBaseURL           = "https://api.coingecko.com/api/v3"
	defaultAPIKeyHeader      = "x-cg-demo-api-key"
	defaultVSCurrency        = "usd"
	defaultSource            = "coingecko"
	defaultMarketsPageSize   = 250
	defaultMinHourlyDays     = 2
	defaultMaxHourlyDays     = 90
	defaultHTTPTimeout       = "30s"
	defaultRetryInitial      = "1s"
	defaultRetryMax          = "30s"
	defaultRetryAttempts     = 6
	defaultAssetsFile        = "coins.yaml"
	defaultReferenceTimezone = "Asia/Kolkata"
	defaultIncrementalDays   = 1
	defaultBackfillDays      = 90
	defaultPacingDelay       = "1s"
	defaultViewsTTL          = "60s"
	defaultOHLCTTL           = "300s"
)

type Config struct {
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
	Database struct {
		URL               string        `toml:"url"`
		Host              string        `toml:"host"`
		Port              int           `toml:"port"`
		Username          string        `toml:"username"`
		Password          string        `toml:"password"`
		DBName            string        `toml:"dbname"`
		SSLMode           string        `toml:"sslmode"`
		ConnectTimeoutRaw string        `toml:"connect_timeout"`
		ConnectTimeout    time.Duration `toml:"-"`
		PreferIPv4        *bool         `toml:"prefer_ipv4"`
	} `toml:"database"`
	Coingecko struct {
		APIKey          string        `toml:"api_key"`
		APIKeyHeader    string        `toml:"api_key_header"`
		BaseURL         string        `toml:"base_url"`
		VSCurrency      string        `toml:"vs_currency"`
		Source          string        `toml:"source"`
		MarketsPageSize int           `toml:"markets_page_size"`
		MinHourlyDays   int           `toml:"min_hourly_days"`
		MaxHourlyDays   int           `toml:"max_hourly_days"`
		TimeoutRaw      string        `toml:"timeout"`
		Timeout         time.Duration `toml:"-"`
	} `toml:"coingecko"`
	Retry struct {
		InitialIntervalRaw string        `toml:"initial_interval"`
		InitialInterval    time.Duration `toml:"-"`
		MaxIntervalRaw     string        `toml:"max_interval"`
		MaxInterval        time.Duration `toml:"-"`
		MaxAttempts        int           `toml:"max_attempts"`
	} `toml:"retry"`
	Fetch struct {
		AssetsFile        string        `toml:"assets_file"`
		ReferenceTimezone string        `toml:"reference_timezone"`
		IncrementalDays   int           `toml:"incremental_days"`
		BackfillDays      int           `toml:"backfill_days"`
		PacingDelayRaw    string        `toml:"pacing_delay"`
		PacingDelay       time.Duration `toml:"-"`
		PartialSuccess    bool          `toml:"partial_success"`
	} `toml:"fetch"`
	Views struct {
		TTLRaw     string        `toml:"ttl"`
		TTL        time.Duration `toml:"-"`
		OHLCTTLRaw string        `toml:"ohlc_ttl"`
		OHLCTTL    time.Duration `toml:"-"`
	} `toml:"views"`
}

// ReadConfig loads filename (a missing file yields defaults), applies
// environment overrides from the process and an optional .env file, and
// validates the result.
func ReadConfig(filename string) (*Config, error) {
	var conf Config
	if filename != "" {
		if _, err := toml.DecodeFile(filename, &conf); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("decode config %s: %w", filename, err)
		}
	}

	_ = godotenv.Load()
	conf.applyEnv(os.Getenv)
	conf.applyDefaults()

	if err := conf.parseDurations(); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	// A single URL secret wins over discrete parameters.
	if url := firstNonEmpty(getenv("SUPABASE_DATABASE_URL"), getenv("DATABASE_URL")); url != "" {
		c.Database.URL = url
	}
	if v := getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}
	if v := getenv("DB_USER"); v != "" {
		c.Database.Username = v
	}
	if v := getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := getenv("COINGECKO_API_KEY"); v != "" {
		c.Coingecko.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	setString(&c.Log.Level, defaultLogLevel)

	setInt(&c.Database.Port, defaultDBPort)
	setString(&c.Database.DBName, defaultDBName)
	setString(&c.Database.SSLMode, defaultSSLMode)
	setString(&c.Database.ConnectTimeoutRaw, defaultConnectTimeout)
	if c.Database.PreferIPv4 == nil {
		prefer := true
		c.Database.PreferIPv4 = &prefer
	}

	setString(&c.Coingecko.APIKeyHeader, defaultAPIKeyHeader)
	setString(&c.Coingecko.BaseURL, defaultBaseURL)
	setString(&c.Coingecko.VSCurrency, defaultVSCurrency)
	setString(&c.Coingecko.Source, defaultSource)
	setInt(&c.Coingecko.MarketsPageSize, defaultMarketsPageSize)
	setInt(&c.Coingecko.MinHourlyDays, defaultMinHourlyDays)
	setInt(&c.Coingecko.MaxHourlyDays, defaultMaxHourlyDays)
	setString(&c.Coingecko.TimeoutRaw, defaultHTTPTimeout)

	setString(&c.Retry.InitialIntervalRaw, defaultRetryInitial)
	setString(&c.Retry.MaxIntervalRaw, defaultRetryMax)
	setInt(&c.Retry.MaxAttempts, defaultRetryAttempts)

	setString(&c.Fetch.AssetsFile, defaultAssetsFile)
	setString(&c.Fetch.ReferenceTimezone, defaultReferenceTimezone)
	setInt(&c.Fetch.IncrementalDays, defaultIncrementalDays)
	setInt(&c.Fetch.BackfillDays, defaultBackfillDays)
	setString(&c.Fetch.PacingDelayRaw, defaultPacingDelay)

	setString(&c.Views.TTLRaw, defaultViewsTTL)
	setString(&c.Views.OHLCTTLRaw, defaultOHLCTTL)
}

func (c *Config) parseDurations() error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"database.connect_timeout", c.Database.ConnectTimeoutRaw, &c.Database.ConnectTimeout},
		{"coingecko.timeout", c.Coingecko.TimeoutRaw, &c.Coingecko.Timeout},
		{"retry.initial_interval", c.Retry.InitialIntervalRaw, &c.Retry.InitialInterval},
		{"retry.max_interval", c.Retry.MaxIntervalRaw, &c.Retry.MaxInterval},
		{"fetch.pacing_delay", c.Fetch.PacingDelayRaw, &c.Fetch.PacingDelay},
		{"views.ttl", c.Views.TTLRaw, &c.Views.TTL},
		{"views.ohlc_ttl", c.Views.OHLCTTLRaw, &c.Views.OHLCTTL},
	}
	for _, f := range fields {
		d, err := time.ParseDuration(strings.TrimSpace(f.raw))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the values ReadConfig cannot default.
func (c *Config) Validate() error {
	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("invalid config: database url or host is required")
	}
	if c.Database.URL == "" && c.Database.Username == "" {
		return fmt.Errorf("invalid config: database username is required")
	}
	if c.Coingecko.MarketsPageSize <= 0 {
		return fmt.Errorf("invalid config: coingecko.markets_page_size must be > 0")
	}
	if c.Coingecko.MinHourlyDays <= 0 || c.Coingecko.MaxHourlyDays < c.Coingecko.MinHourlyDays {
		return fmt.Errorf("invalid config: coingecko hourly day limits must satisfy 0 < min <= max")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("invalid config: retry.max_attempts must be > 0")
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("invalid config: retry.max_interval must be >= retry.initial_interval")
	}
	if c.Fetch.IncrementalDays <= 0 || c.Fetch.BackfillDays <= 0 {
		return fmt.Errorf("invalid config: fetch window days must be > 0")
	}
	if c.Fetch.PacingDelay < 0 {
		return fmt.Errorf("invalid config: fetch.pacing_delay must be >= 0")
	}
	if _, err := time.LoadLocation(c.Fetch.ReferenceTimezone); err != nil {
		return fmt.Errorf("invalid config: fetch.reference_timezone: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
