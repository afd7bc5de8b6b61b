package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"crypto_tracker/config"
	"crypto_tracker/pkg/bootstrap"
)

func main() {
	configFile := flag.String("config", "config.toml", "Path of the config file")
	days := flag.Int("days", 0, "Days of history to load (default fetch.backfill_days, 90)")
	migrate := flag.Bool("migrate", false, "Create tables and views before the run")
	flag.Parse()

	conf, err := config.ReadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("Error reading config: %v", err)
	}
	if *days < 0 {
		logrus.Fatalf("Invalid -days %d", *days)
	}

	log := bootstrap.NewLogger(conf)
	log.Debug("Config loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, log, *days, *migrate); err != nil {
		stop()
		log.Fatalf("Backfill failed: %v", err)
	}
}

func run(ctx context.Context, conf *config.Config, log *logrus.Logger, days int, migrate bool) error {
	store, err := bootstrap.OpenStore(conf, log)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer store.Close()

	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	client := bootstrap.NewClient(conf, log)
	runner, err := bootstrap.NewRunner(conf, client, store, log)
	if err != nil {
		return err
	}

	report, err := runner.RunBackfill(ctx, days)
	if report != nil {
		log.WithField("run_id", report.RunID).Infof("Backfill finished: %d prices, %d daily metrics, %d failed",
			report.Prices, report.Days, len(report.Failed))
	}
	return err
}
