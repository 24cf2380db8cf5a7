package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	DatabaseHost     string `envconfig:"DB_HOST" required:"true"`
	DatabasePort     string `envconfig:"DB_PORT" default:"5432"`
	DatabaseUser     string `envconfig:"DB_USER" required:"true"`
	DatabasePassword string `envconfig:"DB_PASSWORD" required:"true"`
	DatabaseName     string `envconfig:"DB_NAME" required:"true"`
	DatabaseSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	TokenSecret string `envconfig:"TOKEN_AUTH_SECRET" required:"true"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`

	CheckoutSuccessURL string `envconfig:"CHECKOUT_SUCCESS_URL" required:"true"`
	CheckoutCancelURL  string `envconfig:"CHECKOUT_CANCEL_URL" required:"true"`
	Currency           string `envconfig:"CHECKOUT_CURRENCY" default:"usd"`

	JoinPollAttempts int           `envconfig:"JOIN_POLL_ATTEMPTS" default:"10"`
	JoinPollInterval time.Duration `envconfig:"JOIN_POLL_INTERVAL" default:"2s"`

	IntentTTL           time.Duration `envconfig:"INTENT_TTL" default:"1h"`
	IntentSweepInterval time.Duration `envconfig:"INTENT_SWEEP_INTERVAL" default:"10m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DatabaseUser,
		c.DatabasePassword,
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseName,
		c.DatabaseSSLMode,
	)
}
