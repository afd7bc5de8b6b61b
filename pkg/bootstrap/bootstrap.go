// Package bootstrap builds the run components from a loaded config.
package bootstrap

import (
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"crypto_tracker/config"
	"crypto_tracker/pkg/coingecko"
	"crypto_tracker/pkg/db"
	"crypto_tracker/pkg/normalize"
	"crypto_tracker/pkg/pipeline"
	"crypto_tracker/pkg/registry"
)

// NewLogger returns a stdout logger at the configured level, falling back
// to info for unknown levels.
func NewLogger(conf *config.Config) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	log.Level = logrus.InfoLevel
	if level, err := logrus.ParseLevel(conf.Log.Level); err == nil {
		log.Level = level
	} else {
		log.Warnf("Unknown log level %q, using info", conf.Log.Level)
	}
	return log
}

func NewClient(conf *config.Config, log logrus.FieldLogger) *coingecko.Client {
	return coingecko.NewClient(conf.Coingecko.APIKey, log,
		coingecko.WithBaseURL(conf.Coingecko.BaseURL),
		coingecko.WithAPIKeyHeader(conf.Coingecko.APIKeyHeader),
		coingecko.WithVSCurrency(conf.Coingecko.VSCurrency),
		coingecko.WithMarketsPageSize(conf.Coingecko.MarketsPageSize),
		coingecko.WithHourlyLimits(conf.Coingecko.MinHourlyDays, conf.Coingecko.MaxHourlyDays),
		coingecko.WithHTTPClient(&http.Client{Timeout: conf.Coingecko.Timeout}),
		coingecko.WithRetryPolicy(coingecko.RetryPolicy{
			InitialInterval: conf.Retry.InitialInterval,
			MaxInterval:     conf.Retry.MaxInterval,
			MaxAttempts:     conf.Retry.MaxAttempts,
		}),
	)
}

func ConnOptions(conf *config.Config) db.ConnOptions {
	return db.ConnOptions{
		URL:            conf.Database.URL,
		Host:           conf.Database.Host,
		Port:           conf.Database.Port,
		User:           conf.Database.Username,
		Password:       conf.Database.Password,
		Database:       conf.Database.DBName,
		SSLMode:        conf.Database.SSLMode,
		ConnectTimeout: conf.Database.ConnectTimeout,
		PreferIPv4:     conf.Database.PreferIPv4 == nil || *conf.Database.PreferIPv4,
	}
}

// OpenStore connects to PostgreSQL. The caller owns the returned DB and
// must Close it.
func OpenStore(conf *config.Config, log logrus.Ext1FieldLogger) (*db.DB, error) {
	log.Debug("Connecting to DB")
	store, err := db.OpenPostgres(ConnOptions(conf), log, db.WithSource(conf.Coingecko.Source))
	if err != nil {
		return nil, err
	}
	log.Debug("Successfully connected to DB")
	return store, nil
}

func NewRunner(conf *config.Config, source pipeline.Source, store pipeline.Store, log logrus.FieldLogger) (*pipeline.Runner, error) {
	normalizer, err := normalize.NewForZone(conf.Fetch.ReferenceTimezone)
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(source, store, registry.NewFile(conf.Fetch.AssetsFile), normalizer, log,
		pipeline.WithIncrementalDays(conf.Fetch.IncrementalDays),
		pipeline.WithBackfillDays(conf.Fetch.BackfillDays),
		pipeline.WithPacingDelay(conf.Fetch.PacingDelay),
		pipeline.WithPartialSuccess(conf.Fetch.PartialSuccess),
	), nil
}
