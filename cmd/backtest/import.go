package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratsim/internal/marketdata"
	"stratsim/internal/store/redis"
)

type importOpts struct {
	file   string
	ticker string
}

func newImportCmd(g *globalOpts) *cobra.Command {
	o := &importOpts{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CSV of daily bars into the SQLite store",
		Long: `Parses a Date,Open,High,Low,Close,Volume CSV with the same rules as the csv
data source and upserts it into the SQLite bar table. The ticker defaults to
the file name without extension. A configured Redis cache entry is dropped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runImport(cmd, g, o)
		},
	}
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "CSV file to import")
	cmd.Flags().StringVarP(&o.ticker, "ticker", "t", "", "ticker (default: file name)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func tickerFromFile(path string) string {
	base := filepath.Base(path)
	return marketdata.NormalizeTicker(strings.TrimSuffix(base, filepath.Ext(base)))
}

func runImport(cmd *cobra.Command, g *globalOpts, o *importOpts) error {
	ctx := cmd.Context()
	ticker := marketdata.NormalizeTicker(o.ticker)
	if ticker == "" {
		ticker = tickerFromFile(o.file)
	}

	f, err := os.Open(o.file)
	if err != nil {
		return errors.Wrap(err, "open csv")
	}
	defer f.Close()
	bars, skipped, err := marketdata.ParseCSV(f)
	if err != nil {
		return errors.Wrapf(err, "parse %s", o.file)
	}
	if len(bars) == 0 {
		return errors.Errorf("%s: no usable rows", o.file)
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	n, err := e.store.ImportBars(ctx, ticker, bars)
	if err != nil {
		return err
	}
	if e.rdb != nil {
		cache := redis.NewBarCache(e.rdb, e.store, redis.CacheOptions{TTL: e.cfg.Redis.TTL, Logger: e.log})
		if err := cache.Invalidate(ctx, ticker); err != nil {
			e.log.Warn("cache invalidate failed", zap.String("ticker", ticker), zap.Error(err))
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d bars for %s (%d rows skipped)\n", n, ticker, skipped)
	return nil
}
