// Package app wires the simulation service together with go.uber.org/fx.
package app

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"stratsim/config"
	"stratsim/internal/auth"
	"stratsim/internal/gateway"
	"stratsim/internal/logger"
	"stratsim/internal/marketdata"
	"stratsim/internal/metrics"
	"stratsim/internal/notification"
	"stratsim/internal/predictor"
	"stratsim/internal/simulation"
	"stratsim/internal/store/redis"
	"stratsim/internal/store/sqlite"
)

// ServiceName is the service field on every log line.
const ServiceName = "stratsim"

// Module assembles the full server from the config file at path.
func Module(path string) fx.Option {
	return fx.Options(
		ConfigModule(path),
		ObservabilityModule(),
		StorageModule(),
		ServicesModule(),
		HTTPModule(),
	)
}

func ConfigModule(path string) fx.Option {
	return fx.Module("config",
		fx.Provide(func() (*config.Config, error) {
			return config.Load(path)
		}),
	)
}

func ObservabilityModule() fx.Option {
	return fx.Module("observability",
		fx.Provide(
			func(cfg *config.Config) (*zap.Logger, error) {
				return logger.Init(ServiceName, cfg.LogLevel)
			},
			NewRegistry,
			func(reg *prometheus.Registry) *metrics.Metrics {
				return metrics.NewMetrics(reg)
			},
			metrics.NewHealthStatus,
		),
		fx.Invoke(RunMetricsServer),
	)
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func RunMetricsServer(lc fx.Lifecycle, cfg *config.Config, reg *prometheus.Registry, health *metrics.HealthStatus, store *sqlite.Store, rdb *goredis.Client, log *zap.Logger) {
	srv := metrics.NewServer(cfg.MetricsAddr, health, reg, log)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			health.StartLivenessChecker(ctx, rdb, store.DB(), 15*time.Second)
			srv.Start()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			return srv.Stop(stopCtx)
		},
	})
}

func StorageModule() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			OpenStore,
			DialRedis,
			NewSource,
		),
	)
}

// OpenStore opens the SQLite file used for imported bars and the result archive.
func OpenStore(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*sqlite.Store, error) {
	store, err := sqlite.Open(sqlite.Config{Path: cfg.Data.SQLitePath}, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
	return store, nil
}

// DialRedis connects to the bar cache. It returns a nil client when the
// cache is disabled or unreachable; the service runs uncached then.
func DialRedis(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) *goredis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb, err := redis.Dial(context.Background(), redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	if err != nil {
		log.Warn("redis unavailable, bar cache disabled", zap.Error(err))
		return nil
	}
	log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rdb.Close() }})
	return rdb
}

// NewSource builds the bar source chain: CSV or SQLite primary, optionally
// behind the Redis cache, with the MOCK ticker routed to synthetic data.
func NewSource(cfg *config.Config, store *sqlite.Store, rdb *goredis.Client, m *metrics.Metrics, log *zap.Logger) (marketdata.Source, error) {
	var primary marketdata.Source
	switch cfg.Data.Source {
	case "csv":
		primary = marketdata.NewCSVSource(cfg.Data.Dir, log)
	case "sqlite":
		primary = store
	default:
		return nil, errors.Errorf("unknown data source %q", cfg.Data.Source)
	}
	if rdb != nil {
		primary = redis.NewBarCache(rdb, primary, redis.CacheOptions{
			TTL:     cfg.Redis.TTL,
			Metrics: m,
			Logger:  log,
		})
	}
	return marketdata.Router{Primary: primary, Mock: marketdata.NewMockSource()}, nil
}

func ServicesModule() fx.Option {
	return fx.Module("services",
		fx.Provide(
			NewScorer,
			NewNotifier,
			NewAuthenticator,
		),
	)
}

// NewScorer selects the remote predictor when a URL is configured.
func NewScorer(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) predictor.Scorer {
	if cfg.Predictor.URL == "" {
		return predictor.HeuristicScorer{}
	}
	return predictor.NewHTTPScorer(cfg.Predictor.URL, cfg.Predictor.Timeout, m, log)
}

// NewNotifier always logs alerts and fans out to every configured channel.
func NewNotifier(cfg *config.Config, log *zap.Logger) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Notify.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	return n
}

func NewAuthenticator(cfg *config.Config, log *zap.Logger) (auth.Authenticator, error) {
	if cfg.Auth.TOTPSecret == "" {
		log.Warn("authentication disabled, every request is anonymous")
		return auth.Anonymous{}, nil
	}
	return auth.NewTOTPAuthenticator(cfg.Auth.TOTPSecret, "operator")
}

func HTTPModule() fx.Option {
	return fx.Module("http",
		fx.Provide(NewGateway),
		fx.Invoke(RunHTTP),
	)
}

// GatewayParams collects the gateway's dependencies.
type GatewayParams struct {
	fx.In

	Config   *config.Config
	Source   marketdata.Source
	Store    *sqlite.Store
	Scorer   predictor.Scorer
	Notifier notification.Notifier
	Auth     auth.Authenticator
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Logger   *zap.Logger
}

func NewGateway(p GatewayParams) *gateway.Server {
	return gateway.NewServer(gateway.Deps{
		Source:   p.Source,
		Store:    p.Store,
		Scorer:   p.Scorer,
		Notifier: p.Notifier,
		Auth:     p.Auth,
		Metrics:  p.Metrics,
		Health:   p.Health,
		Logger:   p.Logger,
		Defaults: simulation.Defaults{
			Speed:      p.Config.Simulation.DefaultSpeed,
			MaxSpeed:   p.Config.Simulation.MaxSpeed,
			TrainRatio: p.Config.Simulation.TrainRatio,
		},
		DrawdownAlertPct: p.Config.Notify.DrawdownAlertPct,
	})
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, gw *gateway.Server, log *zap.Logger) {
	srv := gateway.NewHTTPServer(cfg.HTTPAddr, gw.Router(), log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: srv.Stop,
	})
}
