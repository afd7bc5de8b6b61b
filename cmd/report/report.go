package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"crypto_tracker/config"
	"crypto_tracker/pkg/bootstrap"
	"crypto_tracker/pkg/views"
)

func main() {
	configFile := flag.String("config", "config.toml", "Path of the config file")
	asset := flag.String("asset", "", "Also print the daily OHLC of this asset id")
	flag.Parse()

	conf, err := config.ReadConfig(*configFile)
	if err != nil {
		logrus.Fatalf("Error reading config: %v", err)
	}

	log := bootstrap.NewLogger(conf)
	if err := run(context.Background(), conf, log, *asset, os.Stdout); err != nil {
		log.Fatalf("Report failed: %v", err)
	}
}

func run(ctx context.Context, conf *config.Config, log *logrus.Logger, asset string, out io.Writer) error {
	store, err := bootstrap.OpenStore(conf, log)
	if err != nil {
		return fmt.Errorf("connect to DB: %w", err)
	}
	defer store.Close()

	reader, err := views.NewCached(store, conf.Views.TTL, conf.Views.OHLCTTL)
	if err != nil {
		return err
	}
	return printReport(ctx, reader, asset, out)
}

func printReport(ctx context.Context, reader views.Reader, asset string, out io.Writer) error {
	latest, err := reader.LatestPrices(ctx)
	if err != nil {
		return err
	}
	changes, err := reader.PriceChanges24h(ctx)
	if err != nil {
		return err
	}
	changeByAsset := make(map[string]decimal.NullDecimal, len(changes))
	for _, c := range changes {
		changeByAsset[c.AssetID] = c.PctChange24h
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tSYMBOL\tPRICE\t24H %\tMARKET CAP\tVOLUME\tAS OF")
	for _, p := range latest {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.AssetID, p.Symbol, p.Price.StringFixed(2), orDash(changeByAsset[p.AssetID]),
			orDash(p.MarketCap), orDash(p.Volume), p.Timestamp.UTC().Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if asset == "" {
		return nil
	}
	days, err := reader.DailyOHLC(ctx, asset)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nDaily OHLC of %s\n", asset)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME")
	for _, d := range days {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Date.Format("2006-01-02"),
			d.Open.StringFixed(2), d.High.StringFixed(2), d.Low.StringFixed(2), d.Close.StringFixed(2), orDash(d.Volume))
	}
	return w.Flush()
}

func orDash(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(2)
}
