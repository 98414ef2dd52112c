package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`
	Auth   AuthConfig   `mapstructure:"auth"`

	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OverdueSweep   string `mapstructure:"overdue_sweep"`
	AuditRetention string `mapstructure:"audit_retention"`
}

type AuthConfig struct {
	Disabled  bool          `mapstructure:"disabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// PipelineConfig carries the soft business-rule thresholds consulted by the
// transition validator. Defaults match the documented rules; deployments can
// loosen them without a code change.
type PipelineConfig struct {
	MaxActivePerOwner   int     `mapstructure:"max_active_per_owner"`
	MinAmountWarn       float64 `mapstructure:"min_amount_warn"`
	MaxAmountWarn       float64 `mapstructure:"max_amount_warn"`
	ProbabilityDriftPts int     `mapstructure:"probability_drift_pts"`
	CloseHorizonDays    int     `mapstructure:"close_horizon_days"`
}

type ForecastConfig struct {
	DefaultConfidence  float64 `mapstructure:"default_confidence"`
	AccuracyPeriods    int     `mapstructure:"accuracy_periods"`
	CommitThresholdPct int     `mapstructure:"commit_threshold_pct"`
}

type AuditConfig struct {
	RetentionDays int    `mapstructure:"retention_days"`
	RemoteBaseURL string `mapstructure:"remote_base_url"`
	RemoteAPIKey  string `mapstructure:"remote_api_key"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.overdue_sweep", "@every 1h")
	v.SetDefault("cron.audit_retention", "@daily")
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.token_ttl", "12h")

	v.SetDefault("pipeline.max_active_per_owner", 20)
	v.SetDefault("pipeline.min_amount_warn", 100)
	v.SetDefault("pipeline.max_amount_warn", 1000000)
	v.SetDefault("pipeline.probability_drift_pts", 20)
	v.SetDefault("pipeline.close_horizon_days", 365)

	v.SetDefault("forecast.default_confidence", 75)
	v.SetDefault("forecast.accuracy_periods", 3)
	v.SetDefault("forecast.commit_threshold_pct", 70)

	v.SetDefault("audit.retention_days", 365)
	v.SetDefault("audit.remote_base_url", "")
	v.SetDefault("audit.remote_api_key", "")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
