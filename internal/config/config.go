package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"freight-procurement/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	FuelFeed  FuelFeedConfig  `mapstructure:"fuel_feed"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Maps      MapsConfig      `mapstructure:"maps"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs fuel price sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToSlot     bool          `mapstructure:"align_to_slot"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// FuelFeedConfig points at the HTTP fuel price source.
type FuelFeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Regions        []string      `mapstructure:"regions"`
	Currency       string        `mapstructure:"currency"`
	Source         string        `mapstructure:"source"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// AlertingConfig defines slab-shift and award notification routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	NotifyAwards bool           `mapstructure:"notify_awards"`
	Retention    time.Duration  `mapstructure:"retention"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	Directory     string `mapstructure:"directory"`
}

// ScoringConfig holds the additive carrier-lane weights.
type ScoringConfig struct {
	TypeMatch float64 `mapstructure:"type_match"`
	Premium   float64 `mapstructure:"premium"`
	Express   float64 `mapstructure:"express"`
	Radius    float64 `mapstructure:"radius"`
}

// MapsConfig enables road distances from the Google distance matrix.
type MapsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LifecycleConfig tunes bid transitions.
type LifecycleConfig struct {
	OpenOnPublish bool `mapstructure:"open_on_publish"`
}

// PricingConfig sets quote defaults.
type PricingConfig struct {
	DefaultRegion   string `mapstructure:"default_region"`
	DefaultCurrency string `mapstructure:"default_currency"`
	Fallback        string `mapstructure:"fallback"`
	RecordHistory   bool   `mapstructure:"record_history"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FREIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "freightctl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_slot", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x66756c65))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("fuel_feed.regions", []string{"All India"})
	v.SetDefault("fuel_feed.currency", "INR")
	v.SetDefault("fuel_feed.source", "feed")
	v.SetDefault("fuel_feed.request_timeout", "10s")
	v.SetDefault("fuel_feed.user_agent", "freightctl/1.0")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_awards", true)
	v.SetDefault("alerting.retention", "2160h")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.directory", "exports")

	v.SetDefault("scoring.type_match", 3.0)
	v.SetDefault("scoring.premium", 2.0)
	v.SetDefault("scoring.express", 1.0)
	v.SetDefault("scoring.radius", 1.0)

	v.SetDefault("maps.enabled", false)
	v.SetDefault("maps.request_timeout", "15s")

	v.SetDefault("lifecycle.open_on_publish", false)

	v.SetDefault("pricing.default_region", "All India")
	v.SetDefault("pricing.default_currency", "INR")
	v.SetDefault("pricing.fallback", "none")
	v.SetDefault("pricing.record_history", true)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if len(c.FuelFeed.Regions) == 0 {
		return fmt.Errorf("fuel_feed.regions must list at least one region")
	}
	if len(c.FuelFeed.Currency) != 3 {
		return fmt.Errorf("fuel_feed.currency must be a 3-letter code")
	}
	for name, w := range map[string]float64{
		"scoring.type_match": c.Scoring.TypeMatch,
		"scoring.premium":    c.Scoring.Premium,
		"scoring.express":    c.Scoring.Express,
		"scoring.radius":     c.Scoring.Radius,
	} {
		if w < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}
	switch c.Pricing.Fallback {
	case "", "none", "zero", "nearest":
	default:
		return fmt.Errorf("pricing.fallback must be one of none, zero, nearest")
	}
	if c.Maps.Enabled && c.Maps.APIKey == "" {
		return fmt.Errorf("maps.api_key is required when maps.enabled is set")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
