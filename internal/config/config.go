package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "REVIEWHUB"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = DriverSQLite
	defaultDatabasePath     = "reviewhub.db"
	defaultLogLevel         = "info"
	defaultProviderBaseURL  = "https://serpapi.com"
	defaultProviderEngine   = "amazon"
	defaultProviderTimeout  = 20 * time.Second
	defaultFreshnessWindow  = 24 * time.Hour
	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelay   = 500 * time.Millisecond
	defaultRefreshItemDelay = 2 * time.Second
	defaultCleanMaxAgeDays  = 90
	defaultSummarySample    = 10
	defaultAdminTokenTTL    = time.Hour
)

const (
	// DriverSQLite selects the embedded SQLite store.
	DriverSQLite = "sqlite"
	// DriverPostgres selects a PostgreSQL store reachable through database.dsn.
	DriverPostgres = "postgres"
)

// ErrMissingProviderKey reports that the review provider cannot be reached without credentials.
var ErrMissingProviderKey = errors.New("config: provider.api_key is required")

// AppConfig captures runtime configuration for the review service and its maintenance commands.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string

	ProviderAPIKey  string
	ProviderBaseURL string
	ProviderEngine  string
	ProviderTimeout time.Duration

	FreshnessWindow  time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RefreshItemDelay time.Duration
	CleanMaxAgeDays  int

	SummarySampleSize int
	SummaryAutoFetch  bool

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	AdminSigningSecret string
	AdminTokenTTL      time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("provider.api_key", "")
	configViper.SetDefault("provider.base_url", defaultProviderBaseURL)
	configViper.SetDefault("provider.engine", defaultProviderEngine)
	configViper.SetDefault("provider.timeout", defaultProviderTimeout)
	configViper.SetDefault("cache.freshness_window", defaultFreshnessWindow)
	configViper.SetDefault("retry.max_attempts", defaultRetryMaxAttempts)
	configViper.SetDefault("retry.base_delay", defaultRetryBaseDelay)
	configViper.SetDefault("refresh.item_delay", defaultRefreshItemDelay)
	configViper.SetDefault("clean.max_age_days", defaultCleanMaxAgeDays)
	configViper.SetDefault("summary.sample_size", defaultSummarySample)
	configViper.SetDefault("summary.auto_fetch", true)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("admin.signing_secret", "")
	configViper.SetDefault("admin.token_ttl", defaultAdminTokenTTL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		LogLevel:           configViper.GetString("log.level"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:       configViper.GetString("database.path"),
		DatabaseDSN:        configViper.GetString("database.dsn"),
		ProviderAPIKey:     strings.TrimSpace(configViper.GetString("provider.api_key")),
		ProviderBaseURL:    configViper.GetString("provider.base_url"),
		ProviderEngine:     configViper.GetString("provider.engine"),
		ProviderTimeout:    configViper.GetDuration("provider.timeout"),
		FreshnessWindow:    configViper.GetDuration("cache.freshness_window"),
		RetryMaxAttempts:   configViper.GetInt("retry.max_attempts"),
		RetryBaseDelay:     configViper.GetDuration("retry.base_delay"),
		RefreshItemDelay:   configViper.GetDuration("refresh.item_delay"),
		CleanMaxAgeDays:    configViper.GetInt("clean.max_age_days"),
		SummarySampleSize:  configViper.GetInt("summary.sample_size"),
		SummaryAutoFetch:   configViper.GetBool("summary.auto_fetch"),
		RedisAddress:       strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:      configViper.GetString("redis.password"),
		RedisDB:            configViper.GetInt("redis.db"),
		AdminSigningSecret: configViper.GetString("admin.signing_secret"),
		AdminTokenTTL:      configViper.GetDuration("admin.token_ttl"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.ProviderAPIKey == "" {
		return ErrMissingProviderKey
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if c.FreshnessWindow <= 0 {
		return fmt.Errorf("cache.freshness_window must be positive")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("retry.base_delay must not be negative")
	}
	if c.RefreshItemDelay < 0 {
		return fmt.Errorf("refresh.item_delay must not be negative")
	}
	if c.SummarySampleSize < 1 {
		return fmt.Errorf("summary.sample_size must be at least 1")
	}
	return nil
}

// AdminEnabled reports whether maintenance endpoints can be served.
func (c AppConfig) AdminEnabled() bool {
	return strings.TrimSpace(c.AdminSigningSecret) != ""
}

// RedisEnabled reports whether the summary response cache should be wired.
func (c AppConfig) RedisEnabled() bool {
	return c.RedisAddress != ""
}
