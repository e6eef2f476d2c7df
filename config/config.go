package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gold-accrual-engine/apperrors"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/rates"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Health   HealthConfig   `mapstructure:"health"`
	Rates    rates.Params   `mapstructure:"rates"`
	Backup   BackupConfig   `mapstructure:"backup"`
}

type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	AllowedOrigins string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type GatewayConfig struct {
	ServiceToken string `mapstructure:"service_token"`
}

type SyncConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	Interval            time.Duration `mapstructure:"interval"`
	DueSlack            time.Duration `mapstructure:"due_slack"`
	FetchTimeout        time.Duration `mapstructure:"fetch_timeout"`
	Concurrency         int           `mapstructure:"concurrency"`
	RequireVerification bool          `mapstructure:"require_verification"`
	StartingGold        float64       `mapstructure:"starting_gold"`
}

type HealthConfig struct {
	ActiveWindow     time.Duration `mapstructure:"active_window"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	FailingThreshold int           `mapstructure:"failing_threshold"`
	CriticalRunAge   time.Duration `mapstructure:"critical_run_age"`
	MaxFailing       int           `mapstructure:"max_failing"`
	MaxStale         int           `mapstructure:"max_stale"`
	GapThreshold     time.Duration `mapstructure:"gap_threshold"`
	RecentRuns       int           `mapstructure:"recent_runs"`
}

type BackupConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Interval        time.Duration `mapstructure:"interval"`
	AccountID       string        `mapstructure:"account_id"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	AccessKeySecret string        `mapstructure:"access_key_secret"`
	Bucket          string        `mapstructure:"bucket"`
	Prefix          string        `mapstructure:"prefix"`
}

// ArchiveEnabled reports whether R2 export has enough credentials to run.
func (b BackupConfig) ArchiveEnabled() bool {
	return b.AccountID != "" && b.AccessKeyID != "" && b.AccessKeySecret != "" && b.Bucket != ""
}

// Defaults is the named fallback for every setting Resolve repairs.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Port: 5200, AllowedOrigins: "http://localhost:3000"},
		Database: DatabaseConfig{Driver: "postgres", MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Hour},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Sync:     SyncConfig{PollInterval: 10 * time.Second, Timeout: 30 * time.Second},
		Snapshot: SnapshotConfig{
			Enabled:             true,
			Interval:            6 * time.Hour,
			DueSlack:            5 * time.Minute,
			FetchTimeout:        30 * time.Second,
			Concurrency:         4,
			RequireVerification: true,
		},
		Health: HealthConfig{
			ActiveWindow:     15 * 24 * time.Hour,
			StaleAfter:       12 * time.Hour,
			FailingThreshold: 3,
			CriticalRunAge:   7 * time.Hour,
			MaxFailing:       5,
			MaxStale:         10,
			GapThreshold:     8 * time.Hour,
			RecentRuns:       10,
		},
		Rates:  rates.DefaultParams(),
		Backup: BackupConfig{Interval: 24 * time.Hour, Prefix: "gold-backups"},
	}
}

// Load reads .env, an optional YAML file and the environment, in increasing
// priority, and returns the resolved configuration.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Warn("⚠️  No .env file found, reading environment variables directly")
	}

	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, apperrors.New(apperrors.CodeConfigLoad, "failed to read config file", err)
			}
			logger.Warn("⚠️  Config file ", path, " not found, using defaults and environment")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.New(apperrors.CodeConfigLoad, "failed to unmarshal config", err)
	}

	resolved := cfg.Resolve()
	return &resolved, nil
}

// Resolve returns a fully populated copy of c. Any zero or invalid value is
// replaced by the matching entry from Defaults.
func (c Config) Resolve() Config {
	d := Defaults()
	out := c

	if out.Server.Port <= 0 {
		out.Server.Port = d.Server.Port
	}
	if strings.TrimSpace(out.Server.AllowedOrigins) == "" {
		out.Server.AllowedOrigins = d.Server.AllowedOrigins
	}

	switch out.Database.Driver {
	case "postgres", "memory":
	default:
		out.Database.Driver = d.Database.Driver
	}
	if out.Database.MaxOpenConns <= 0 {
		out.Database.MaxOpenConns = d.Database.MaxOpenConns
	}
	if out.Database.MaxIdleConns <= 0 {
		out.Database.MaxIdleConns = d.Database.MaxIdleConns
	}
	if out.Database.ConnMaxLifetime <= 0 {
		out.Database.ConnMaxLifetime = d.Database.ConnMaxLifetime
	}

	if out.Logging.Level == "" {
		out.Logging.Level = d.Logging.Level
	}
	if out.Logging.Format == "" {
		out.Logging.Format = d.Logging.Format
	}
	if out.Logging.Output == "" {
		out.Logging.Output = d.Logging.Output
	}

	if out.Sync.Token == "" {
		out.Sync.Token = out.Gateway.ServiceToken
	}
	out.Sync.BaseURL = strings.TrimRight(out.Sync.BaseURL, "/")
	out.Sync.PollInterval = positive(out.Sync.PollInterval, d.Sync.PollInterval)
	out.Sync.Timeout = positive(out.Sync.Timeout, d.Sync.Timeout)

	out.Snapshot.Interval = positive(out.Snapshot.Interval, d.Snapshot.Interval)
	if out.Snapshot.DueSlack < 0 || out.Snapshot.DueSlack >= out.Snapshot.Interval {
		out.Snapshot.DueSlack = d.Snapshot.DueSlack
	}
	out.Snapshot.FetchTimeout = positive(out.Snapshot.FetchTimeout, d.Snapshot.FetchTimeout)
	if out.Snapshot.Concurrency <= 0 {
		out.Snapshot.Concurrency = d.Snapshot.Concurrency
	}
	if out.Snapshot.StartingGold < 0 {
		out.Snapshot.StartingGold = 0
	}

	out.Health.ActiveWindow = positive(out.Health.ActiveWindow, d.Health.ActiveWindow)
	out.Health.StaleAfter = positive(out.Health.StaleAfter, d.Health.StaleAfter)
	out.Health.CriticalRunAge = positive(out.Health.CriticalRunAge, d.Health.CriticalRunAge)
	out.Health.GapThreshold = positive(out.Health.GapThreshold, d.Health.GapThreshold)
	if out.Health.FailingThreshold <= 0 {
		out.Health.FailingThreshold = d.Health.FailingThreshold
	}
	if out.Health.MaxFailing < 0 {
		out.Health.MaxFailing = d.Health.MaxFailing
	}
	if out.Health.MaxStale < 0 {
		out.Health.MaxStale = d.Health.MaxStale
	}
	if out.Health.RecentRuns <= 0 {
		out.Health.RecentRuns = d.Health.RecentRuns
	}

	out.Rates = out.Rates.Resolve()

	out.Backup.Interval = positive(out.Backup.Interval, d.Backup.Interval)
	out.Backup.Prefix = strings.Trim(out.Backup.Prefix, "/")
	if out.Backup.Prefix == "" {
		out.Backup.Prefix = d.Backup.Prefix
	}

	return out
}

// Validate checks settings that have no safe default.
func (c Config) Validate() error {
	if c.Gateway.ServiceToken == "" {
		return apperrors.New(apperrors.CodeConfigLoad, "GAME_SERVICE_TOKEN is not set", nil)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return apperrors.New(apperrors.CodeConfigLoad, "DATABASE_URL environment variable not set", nil)
	}
	if c.Sync.BaseURL == "" {
		return apperrors.New(apperrors.CodeConfigLoad, "SYNC_SERVICE_URL environment variable not set", nil)
	}
	return nil
}

func positive(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("gateway.service_token", "")

	v.SetDefault("sync.base_url", "")
	v.SetDefault("sync.token", "")
	v.SetDefault("sync.poll_interval", d.Sync.PollInterval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)

	v.SetDefault("snapshot.enabled", d.Snapshot.Enabled)
	v.SetDefault("snapshot.interval", d.Snapshot.Interval)
	v.SetDefault("snapshot.due_slack", d.Snapshot.DueSlack)
	v.SetDefault("snapshot.fetch_timeout", d.Snapshot.FetchTimeout)
	v.SetDefault("snapshot.concurrency", d.Snapshot.Concurrency)
	v.SetDefault("snapshot.require_verification", d.Snapshot.RequireVerification)
	v.SetDefault("snapshot.starting_gold", d.Snapshot.StartingGold)

	v.SetDefault("health.active_window", d.Health.ActiveWindow)
	v.SetDefault("health.stale_after", d.Health.StaleAfter)
	v.SetDefault("health.failing_threshold", d.Health.FailingThreshold)
	v.SetDefault("health.critical_run_age", d.Health.CriticalRunAge)
	v.SetDefault("health.max_failing", d.Health.MaxFailing)
	v.SetDefault("health.max_stale", d.Health.MaxStale)
	v.SetDefault("health.gap_threshold", d.Health.GapThreshold)
	v.SetDefault("health.recent_runs", d.Health.RecentRuns)

	v.SetDefault("rates.curve", string(d.Rates.Curve))
	v.SetDefault("rates.min_rate", d.Rates.MinRate)
	v.SetDefault("rates.max_rate", d.Rates.MaxRate)
	v.SetDefault("rates.steepness", d.Rates.Steepness)
	v.SetDefault("rates.mid_point", d.Rates.MidPoint)
	v.SetDefault("rates.total_assets", d.Rates.TotalAssets)
	v.SetDefault("rates.rounding", string(d.Rates.Rounding))

	v.SetDefault("backup.enabled", d.Backup.Enabled)
	v.SetDefault("backup.interval", d.Backup.Interval)
	v.SetDefault("backup.account_id", "")
	v.SetDefault("backup.access_key_id", "")
	v.SetDefault("backup.access_key_secret", "")
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.prefix", d.Backup.Prefix)
}

// bindLegacyEnv keeps the variable names the gateway deployment already
// exports.
func bindLegacyEnv(v *viper.Viper) {
	binds := map[string][]string{
		"database.url":             {"DATABASE_URL"},
		"server.allowed_origins":   {"SERVER_ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		"gateway.service_token":    {"GATEWAY_SERVICE_TOKEN", "GAME_SERVICE_TOKEN"},
		"sync.base_url":            {"SYNC_BASE_URL", "SYNC_SERVICE_URL"},
		"backup.account_id":        {"BACKUP_ACCOUNT_ID", "CLOUDFLARE_ACCOUNT_ID"},
		"backup.access_key_id":     {"BACKUP_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"},
		"backup.access_key_secret": {"BACKUP_ACCESS_KEY_SECRET", "R2_ACCESS_KEY_SECRET"},
		"backup.bucket":            {"BACKUP_BUCKET", "R2_BUCKET_NAME"},
		"logging.level":            {"LOGGING_LEVEL", "LOG_LEVEL"},
	}
	for key, envs := range binds {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			logger.Warn(fmt.Sprintf("failed to bind env for %s: %v", key, err))
		}
	}
}
