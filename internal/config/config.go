package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"spacewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Push      PushConfig      `mapstructure:"push"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone used to match daily-report schedules, e.g. "Asia/Taipei".
	Timezone string `mapstructure:"timezone"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// Durable reports whether the selected driver survives a restart.
func (d DatabaseConfig) Durable() bool {
	switch strings.ToLower(d.Driver) {
	case "memory", "":
		return false
	default:
		return true
	}
}

// SchedulerConfig governs the periodic ticks.
type SchedulerConfig struct {
	DeliveryInterval time.Duration `mapstructure:"delivery_interval"`
	AlertInterval    time.Duration `mapstructure:"alert_interval"`
	RecordInterval   time.Duration `mapstructure:"record_interval"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// UpstreamConfig covers the public space-weather and tracking APIs.
type UpstreamConfig struct {
	NOAABaseURL      string        `mapstructure:"noaa_base_url"`
	DONKIBaseURL     string        `mapstructure:"donki_base_url"`
	NASAAPIKey       string        `mapstructure:"nasa_api_key"`
	SatelliteBaseURL string        `mapstructure:"satellite_base_url"`
	SatelliteID      int           `mapstructure:"satellite_id"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	EventLookback    time.Duration `mapstructure:"event_lookback"`
}

// CacheConfig controls the reading cache.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines alert thresholds and cooldown.
type AlertingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	KpThreshold float64       `mapstructure:"kp_threshold"`
	FlareClass  string        `mapstructure:"flare_class"`
}

// PushConfig selects the outbound chat channel.
type PushConfig struct {
	Provider    string         `mapstructure:"provider"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Pacing      time.Duration  `mapstructure:"pacing"`
	MaxSegments int            `mapstructure:"max_segments"`
	Line        LineConfig     `mapstructure:"line"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

// ProviderName returns the normalised provider; an empty value means LINE.
func (p PushConfig) ProviderName() string {
	name := strings.ToLower(strings.TrimSpace(p.Provider))
	if name == "" {
		return "line"
	}
	return name
}

// LineConfig 描述 LINE Messaging API 参数。
type LineConfig struct {
	ChannelToken  string `mapstructure:"channel_token"`
	ChannelSecret string `mapstructure:"channel_secret"`
	APIBase       string `mapstructure:"api_base"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// HTTPConfig configures the API/webhook listener.
type HTTPConfig struct {
	Addr               string        `mapstructure:"addr"`
	AdminToken         string        `mapstructure:"admin_token"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPACEWATCH")
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
	v.SetDefault("app.name", "spacewatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "spacewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.request_timeout", "10s")

	v.SetDefault("scheduler.delivery_interval", "1m")
	v.SetDefault("scheduler.alert_interval", "5m")
	v.SetDefault("scheduler.record_interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x73706377))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("upstream.noaa_base_url", "https://services.swpc.noaa.gov")
	v.SetDefault("upstream.donki_base_url", "https://api.nasa.gov/DONKI")
	v.SetDefault("upstream.nasa_api_key", "DEMO_KEY")
	v.SetDefault("upstream.satellite_base_url", "https://api.wheretheiss.at/v1")
	v.SetDefault("upstream.satellite_id", 25544)
	v.SetDefault("upstream.request_timeout", "10s")
	v.SetDefault("upstream.event_lookback", "72h")

	v.SetDefault("cache.ttl", "60s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.kp_threshold", 5.0)
	v.SetDefault("alerting.flare_class", "X")

	v.SetDefault("push.provider", "line")
	v.SetDefault("push.timeout", "10s")
	v.SetDefault("push.pacing", "100ms")
	v.SetDefault("push.max_segments", 5)
	v.SetDefault("push.line.api_base", "https://api.line.me")
	v.SetDefault("push.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_allowed_origins", []string{"*"})
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("export.max_data_points", 2000)
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
	switch strings.ToLower(c.Database.Driver) {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case "sqlite", "memory", "":
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Scheduler.DeliveryInterval <= 0 || c.Scheduler.AlertInterval <= 0 || c.Scheduler.RecordInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than zero")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}
	if c.Alerting.Cooldown <= 0 {
		return fmt.Errorf("alerting.cooldown must be greater than zero")
	}
	if c.Alerting.KpThreshold <= 0 || c.Alerting.KpThreshold > 9 {
		return fmt.Errorf("alerting.kp_threshold must be within (0, 9]")
	}
	if !strings.Contains("ABCMX", strings.ToUpper(c.Alerting.FlareClass)) || len(c.Alerting.FlareClass) != 1 {
		return fmt.Errorf("alerting.flare_class must be one of A, B, C, M, X")
	}
	if c.Push.MaxSegments <= 0 {
		return fmt.Errorf("push.max_segments must be greater than zero")
	}
	if c.Push.Pacing < 0 {
		return fmt.Errorf("push.pacing cannot be negative")
	}
	switch c.Push.ProviderName() {
	case "line", "telegram":
	default:
		return fmt.Errorf("push.provider %q is not supported", c.Push.Provider)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}
	return nil
}

// Location resolves the timezone daily-report schedules are expressed in.
func (c *Config) Location() (*time.Location, error) {
	if c.App.Timezone == "" || strings.EqualFold(c.App.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.App.Timezone)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// PushConfigured reports whether credentials exist for the selected push provider.
func (c *Config) PushConfigured() bool {
	switch c.Push.ProviderName() {
	case "line":
		return c.Push.Line.ChannelToken != ""
	case "telegram":
		return c.Push.Telegram.BotToken != ""
	default:
		return false
	}
}
