package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables per the external interfaces contract.
type Config struct {
	// Listeners
	BindAddress string `env:"BIND_ADDRESS" envDefault:"0.0.0.0"`
	Port        int    `env:"PORT" envDefault:"8080"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Strict config: when true, missing mandatory service credentials
	// are a fatal startup error instead of disabling that integration.
	Strict bool `env:"STRICT_CONFIG" envDefault:"false"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	// SafetyAmp client
	SafetyAmpDomain string `env:"SAFETYAMP_DOMAIN"`
	SafetyAmpFQDN   string `env:"SAFETYAMP_FQDN"`
	SafetyAmpToken  string `env:"SAFETYAMP_TOKEN"`

	// Samsara client
	SamsaraDomain string `env:"SAMSARA_DOMAIN"`
	SamsaraAPIKey string `env:"SAMSARA_API_KEY"`

	// Identity provider (Microsoft Graph)
	GraphClientID     string `env:"MS_GRAPH_CLIENT_ID"`
	GraphClientSecret string `env:"MS_GRAPH_CLIENT_SECRET"`
	GraphTenantID     string `env:"MS_GRAPH_TENANT_ID"`

	// ERP reader
	SQLServer   string `env:"SQL_SERVER"`
	SQLDatabase string `env:"SQL_DATABASE"`
	SQLDriver   string `env:"SQL_DRIVER" envDefault:"ODBC Driver 18 for SQL Server"`
	SQLAuthMode string `env:"SQL_AUTH_MODE" envDefault:"managed_identity"` // managed_identity|sql_auth

	// Cache policy
	CacheTTLHours            int `env:"CACHE_TTL_HOURS" envDefault:"4"`
	CacheRefreshIntervalHours int `env:"CACHE_REFRESH_INTERVAL_HOURS" envDefault:"4"`

	// HTTP client policy
	APIRateLimitCalls  int `env:"API_RATE_LIMIT_CALLS" envDefault:"60"`
	APIRateLimitPeriod int `env:"API_RATE_LIMIT_PERIOD" envDefault:"61"`
	MaxRetryAttempts   int `env:"MAX_RETRY_ATTEMPTS" envDefault:"6"`
	RetryDelaySeconds  int `env:"RETRY_DELAY_SECONDS" envDefault:"1"`
	HTTPRequestTimeout int `env:"HTTP_REQUEST_TIMEOUT" envDefault:"15"`

	// Orchestrator
	SyncIntervalMinutes  int `env:"SYNC_INTERVAL_MINUTES" envDefault:"60"`
	VistaRefreshMinutes  int `env:"VISTA_REFRESH_MINUTES" envDefault:"30"`

	// Failure memory
	FailedSyncTrackerEnabled bool `env:"FAILED_SYNC_TRACKER_ENABLED" envDefault:"true"`
	FailedSyncTTLDays        int  `env:"FAILED_SYNC_TTL_DAYS" envDefault:"7"`

	// Dashboard
	DashboardAPIToken string `env:"DASHBOARD_API_TOKEN"`

	// Vehicle syncer overrides (§9 open question: kept configurable,
	// default preserves the source's hardcoded values)
	DefaultSiteID           int `env:"DEFAULT_SITE_ID" envDefault:"5145"`
	DefaultVehicleAssetType int `env:"DEFAULT_VEHICLE_ASSET_TYPE_ID" envDefault:"3183"`

	// Notifications
	SlackBotToken        string `env:"SLACK_BOT_TOKEN"`
	SlackErrorChannel    string `env:"SLACK_ERROR_CHANNEL"`
	NotificationCooldownMinutes int `env:"NOTIFICATION_COOLDOWN_MINUTES" envDefault:"60"`

	// Safety stop
	SafetyStopThreshold int `env:"SAFETY_STOP_THRESHOLD" envDefault:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if cfg.Strict {
		if cfg.SafetyAmpToken == "" {
			return nil, fmt.Errorf("SAFETYAMP_TOKEN is required in strict mode")
		}
		if cfg.SamsaraAPIKey == "" {
			return nil, fmt.Errorf("SAMSARA_API_KEY is required in strict mode")
		}
	}
	return cfg, nil
}

// AppListenAddr returns the address the dashboard/health HTTP server
// should listen on.
func (c *Config) AppListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// MetricsListenAddr returns the address the metrics HTTP server should
// listen on.
func (c *Config) MetricsListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.MetricsPort)
}

// RedisURL builds a redis:// connection URL from the discrete fields.
func (c *Config) RedisURL() string {
	if c.RedisPassword != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", c.RedisPassword, c.RedisHost, c.RedisPort, c.RedisDB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.RedisHost, c.RedisPort, c.RedisDB)
}
