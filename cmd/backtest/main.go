// cmd/backtest runs strategy files against historical bars from the command
// line and loads CSV history into the SQLite store.
//
// Usage:
//
//	go run ./cmd/backtest run --strategy=examples/sma_cross.json --ticker=AAPL
//	go run ./cmd/backtest run --strategy=examples/sma_cross.json --stream --speed=20
//	go run ./cmd/backtest import --file=data/AAPL.csv
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stratsim/config"
	"stratsim/internal/app"
	"stratsim/internal/logger"
	"stratsim/internal/store/redis"
	"stratsim/internal/store/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Offline strategy backtests and data import",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (yaml/json/toml); STRATSIM_* env vars override")
	root.AddCommand(newRunCmd(g), newImportCmd(g), newWatchCmd())
	return root
}

// env holds what every subcommand needs. close releases it.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	store *sqlite.Store
	rdb   *goredis.Client
}

func (g *globalOpts) open(ctx context.Context) (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.Init(app.ServiceName+"-cli", cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	store, err := sqlite.Open(sqlite.Config{Path: cfg.Data.SQLitePath}, log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, store: store}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.Dial(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		if err != nil {
			log.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			e.rdb = rdb
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.rdb != nil {
		e.rdb.Close()
	}
	e.store.Close()
	e.log.Sync()
}
