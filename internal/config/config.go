// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/subscription_layer/internal/app/domain/tier"
	"github.com/R3E-Network/subscription_layer/internal/chain"
	"github.com/R3E-Network/subscription_layer/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR,default=:8080"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=20s"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=40"`
	CronSecret      string        `env:"CRON_SECRET"`
}

// StorageConfig selects the ledger and usage backends.
type StorageConfig struct {
	Driver         string        `env:"STORAGE_DRIVER,default=postgres"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	UsageBackend   string        `env:"USAGE_BACKEND,default=postgres"`
	RedisAddr      string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB,default=0"`
	UsageRetention time.Duration `env:"USAGE_RETENTION,default=0s"`
}

// ChainConfig binds the settlement chain.
type ChainConfig struct {
	RPCURL     string        `env:"NEO_RPC_URL,default=https://mainnet1.neo.coz.io:443"`
	RPCTimeout time.Duration `env:"NEO_RPC_TIMEOUT,default=10s"`
	TokenHash  string        `env:"SETTLEMENT_TOKEN_HASH,default=0xcd48b160c1bbc9d74997b803b9a7ad50a4bef020"`
	Decimals   int           `env:"SETTLEMENT_DECIMALS,default=6"`
	Treasury   string        `env:"TREASURY_ADDRESS"`
}

// LifecycleConfig configures the reconciliation sweep.
type LifecycleConfig struct {
	Schedule     string        `env:"LIFECYCLE_SCHEDULE,default=@hourly"`
	SweepTimeout time.Duration `env:"LIFECYCLE_SWEEP_TIMEOUT,default=10m"`
	PublicURL    string        `env:"PUBLIC_URL,default=http://localhost:8080"`
}

// NotifyConfig configures notification channels.
type NotifyConfig struct {
	SendGridAPIKey string        `env:"SENDGRID_API_KEY"`
	FromEmail      string        `env:"NOTIFY_FROM_EMAIL"`
	FromName       string        `env:"NOTIFY_FROM_NAME,default=Subscriptions"`
	WebhookTimeout time.Duration `env:"NOTIFY_WEBHOOK_TIMEOUT,default=10s"`
}

// LoggingConfig mirrors logger.LoggingConfig with env bindings.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=text"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=subscriptiond"`
}

// Logger converts to the logger package configuration.
func (l LoggingConfig) Logger() logger.LoggingConfig {
	return logger.LoggingConfig{Level: l.Level, Format: l.Format, Output: l.Output, FilePrefix: l.FilePrefix}
}

// Config is the full process configuration.
type Config struct {
	HTTP      HTTPConfig
	Storage   StorageConfig
	Chain     ChainConfig
	Lifecycle LifecycleConfig
	Notify    NotifyConfig
	Logging   LoggingConfig
	PlansFile string `env:"PLANS_FILE"`

	Plans tier.Catalogue
}

// Load reads envFile if it exists, decodes the environment and loads the
// plan catalogue.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	cfg.Plans = tier.DefaultCatalogue()
	if cfg.PlansFile != "" {
		plans, err := LoadPlans(cfg.PlansFile)
		if err != nil {
			return nil, err
		}
		cfg.Plans = plans
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Storage.UsageBackend = strings.ToLower(strings.TrimSpace(c.Storage.UsageBackend))

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Storage.UsageBackend {
	case DriverPostgres:
		if c.Storage.Driver != DriverPostgres {
			return fmt.Errorf("USAGE_BACKEND=postgres requires STORAGE_DRIVER=postgres")
		}
	case DriverRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis usage backend")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown USAGE_BACKEND %q", c.Storage.UsageBackend)
	}

	if c.HTTP.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET must be set")
	}
	if c.Chain.Decimals < 0 || c.Chain.Decimals > 30 {
		return fmt.Errorf("SETTLEMENT_DECIMALS out of range: %d", c.Chain.Decimals)
	}
	if _, err := chain.ParseScriptHash(c.Chain.TokenHash); err != nil {
		return fmt.Errorf("SETTLEMENT_TOKEN_HASH: %w", err)
	}
	if _, err := chain.NormalizeAddress(c.Chain.Treasury); err != nil {
		return fmt.Errorf("TREASURY_ADDRESS: %w", err)
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return c.Plans.Validate(c.Chain.Decimals)
}
