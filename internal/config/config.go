package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns       int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns       int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime    time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`
	DBSlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD,default=200ms"`

	// JWTSecret signs and verifies both access and refresh tokens.
	JWTSecret       string        `env:"JWT_SECRET,required=true"`
	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL,default=15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL,default=720h"`

	WebhookTimeout         time.Duration `env:"WEBHOOK_TIMEOUT,default=10s"`
	WebhookConcurrency     int           `env:"WEBHOOK_CONCURRENCY,default=4"`
	WebhookRateLimitPerSec int           `env:"WEBHOOK_RATE_LIMIT_PER_SEC,default=10"`
	WebhookRateLimitWait   time.Duration `env:"WEBHOOK_RATE_LIMIT_WAIT,default=5s"`
	WebhookUserAgent       string        `env:"WEBHOOK_USER_AGENT,default=Taskflow-Webhooks/1.0"`
	AppBaseURL             string        `env:"APP_BASE_URL,default=http://localhost:3000"`

	WorkerConcurrency   int           `env:"WORKER_CONCURRENCY,default=4"`
	DeliveryMaxAttempts int           `env:"DELIVERY_MAX_ATTEMPTS,default=4"`
	RetryScanInterval   time.Duration `env:"RETRY_SCAN_INTERVAL,default=5s"`

	APIPort           int    `env:"API_PORT,default=8080"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token ttl values must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must be longer than ACCESS_TOKEN_TTL")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if c.DeliveryMaxAttempts < 1 {
		return fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}
