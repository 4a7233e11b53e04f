// Package redis caches bar series in Redis in front of a slower source.
package redis

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"stratsim/internal/breaker"
	"stratsim/internal/logger"
	"stratsim/internal/marketdata"
	"stratsim/internal/metrics"
	"stratsim/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects and pings the server.
func Dial(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", cfg.Addr)
	}
	return client, nil
}

// CacheOptions tune a BarCache.
type CacheOptions struct {
	TTL     time.Duration // default 1h
	Prefix  string        // default "stratsim:bars:"
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Breaker breaker.Settings
}

// BarCache is a read-through cache over a marketdata.Source. The full series
// for a ticker is cached and range filtering happens after the lookup.
// Redis faults never fail a fetch: they are counted, logged and the wrapped
// source is used instead.
type BarCache struct {
	client  goredis.Cmdable
	next    marketdata.Source
	ttl     time.Duration
	prefix  string
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewBarCache(client goredis.Cmdable, next marketdata.Source, opts CacheOptions) *BarCache {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Prefix == "" {
		opts.Prefix = "stratsim:bars:"
	}
	log := logger.OrNop(opts.Logger)
	return &BarCache{
		client:  client,
		next:    next,
		ttl:     opts.TTL,
		prefix:  opts.Prefix,
		cb:      breaker.New("redis", opts.Breaker, opts.Metrics, log),
		metrics: opts.Metrics,
		log:     log,
	}
}

// Key returns the cache key for ticker.
func (c *BarCache) Key(ticker string) string {
	return c.prefix + marketdata.NormalizeTicker(ticker)
}

func (c *BarCache) Fetch(ctx context.Context, ticker string, r marketdata.Range) ([]model.Bar, error) {
	ticker = marketdata.NormalizeTicker(ticker)
	if err := r.Validate(); err != nil {
		return nil, model.NewDataError(ticker, err)
	}
	log := logger.For(ctx, c.log).With(zap.String("ticker", ticker))

	if bars, ok := c.get(ctx, ticker, log); ok {
		c.metrics.IncCache("hit")
		return marketdata.Filter(ticker, bars, r)
	}
	c.metrics.IncCache("miss")

	bars, err := c.next.Fetch(ctx, ticker, marketdata.Range{})
	if err != nil {
		return nil, err
	}
	c.set(ctx, ticker, bars, log)
	return marketdata.Filter(ticker, bars, r)
}

func (c *BarCache) get(ctx context.Context, ticker string, log *zap.Logger) ([]model.Bar, bool) {
	v, err := c.cb.Execute(func() (any, error) {
		b, err := c.client.Get(ctx, c.Key(ticker)).Bytes()
		if err == goredis.Nil {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		c.metrics.IncCache("error")
		log.Warn("redis get failed, falling through", zap.Error(err))
		return nil, false
	}
	payload, _ := v.([]byte)
	if payload == nil {
		return nil, false
	}
	var bars []model.Bar
	if err := sonic.Unmarshal(payload, &bars); err != nil || len(bars) == 0 {
		log.Warn("redis payload unreadable, refetching", zap.Error(err))
		return nil, false
	}
	return bars, true
}

func (c *BarCache) set(ctx context.Context, ticker string, bars []model.Bar, log *zap.Logger) {
	payload, err := sonic.Marshal(bars)
	if err != nil {
		log.Warn("redis payload encode failed", zap.Error(err))
		return
	}
	_, err = c.cb.Execute(func() (any, error) {
		return nil, c.client.Set(ctx, c.Key(ticker), payload, c.ttl).Err()
	})
	if err != nil {
		c.metrics.IncCache("error")
		log.Warn("redis set failed", zap.Error(err))
	}
}

// Invalidate drops the cached series for ticker.
func (c *BarCache) Invalidate(ctx context.Context, ticker string) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.client.Del(ctx, c.Key(ticker)).Err()
	})
	return errors.Wrapf(err, "redis invalidate %s", ticker)
}
