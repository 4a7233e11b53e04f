package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. STRATSIM_HTTP_ADDR.
const EnvPrefix = "STRATSIM"

// Config holds all application configuration.
type Config struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`

	Data       DataConfig       `mapstructure:"data"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Predictor  PredictorConfig  `mapstructure:"predictor"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

// DataConfig selects the historical bar source.
type DataConfig struct {
	Source     string `mapstructure:"source"` // csv | sqlite
	Dir        string `mapstructure:"dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RedisConfig configures the optional bar cache. Empty Addr disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PredictorConfig configures the failure-probability scorer.
// Empty URL selects the offline heuristic.
type PredictorConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NotifyConfig configures risk alerts. Alerts are always logged; webhook and
// Telegram delivery are added when configured.
type NotifyConfig struct {
	WebhookURL       string  `mapstructure:"webhook_url"`
	TelegramToken    string  `mapstructure:"telegram_token"`
	TelegramChatID   string  `mapstructure:"telegram_chat_id"`
	DrawdownAlertPct float64 `mapstructure:"drawdown_alert_pct"`
}

// AuthConfig configures request authentication. Empty TOTPSecret disables it.
type AuthConfig struct {
	TOTPSecret string `mapstructure:"totp_secret"`
}

// SimulationConfig holds streaming defaults.
type SimulationConfig struct {
	DefaultSpeed float64 `mapstructure:"default_speed"`
	MaxSpeed     float64 `mapstructure:"max_speed"`
	TrainRatio   float64 `mapstructure:"train_ratio"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")

	v.SetDefault("data.source", "csv")
	v.SetDefault("data.dir", "data")
	v.SetDefault("data.sqlite_path", "data/stratsim.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("predictor.url", "")
	v.SetDefault("predictor.timeout", 5*time.Second)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.drawdown_alert_pct", 20.0)

	v.SetDefault("auth.totp_secret", "")

	v.SetDefault("simulation.default_speed", 1.0)
	v.SetDefault("simulation.max_speed", 100.0)
	v.SetDefault("simulation.train_ratio", 0.7)
}

// Load reads configuration from defaults, an optional config file at path
// (any format viper understands), and STRATSIM_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Data.Source {
	case "csv", "sqlite":
	default:
		return errors.Errorf("config: data.source must be csv or sqlite, got %q", c.Data.Source)
	}
	if c.Simulation.TrainRatio < 0 || c.Simulation.TrainRatio >= 1 {
		return errors.Errorf("config: simulation.train_ratio must be in [0, 1), got %v", c.Simulation.TrainRatio)
	}
	if c.Simulation.DefaultSpeed <= 0 {
		return errors.Errorf("config: simulation.default_speed must be > 0, got %v", c.Simulation.DefaultSpeed)
	}
	if c.Simulation.MaxSpeed < c.Simulation.DefaultSpeed {
		return errors.Errorf("config: simulation.max_speed (%v) below default_speed (%v)", c.Simulation.MaxSpeed, c.Simulation.DefaultSpeed)
	}
	return nil
}
