package internal

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"development"`
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"debug"`

	// DatabaseURL empty or DemoMode true runs against the demo store.
	DatabaseURL string `env:"DATABASE_URL"`
	DemoMode    bool   `env:"DEMO_MODE" envDefault:"false"`

	// Subscription read cache. Redis when RedisURL is set, else in-process LRU.
	RedisURL  string        `env:"REDIS_URL"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	CacheSize int           `env:"CACHE_SIZE" envDefault:"10000"`

	// Stripe. Without a secret key checkout and webhooks are disabled.
	StripeSecretKey         string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceStandard     string        `env:"STRIPE_PRICE_STANDARD"`
	StripePriceProfessional string        `env:"STRIPE_PRICE_PROFESSIONAL"`
	StripePriceEnterprise   string        `env:"STRIPE_PRICE_ENTERPRISE"`
	StripeTimeout           time.Duration `env:"STRIPE_TIMEOUT" envDefault:"10s"`
	DeadLetterMaxAttempts   int32         `env:"DEAD_LETTER_MAX_ATTEMPTS" envDefault:"8"`

	// Audio storage
	StorageProvider   string        `env:"STORAGE_PROVIDER" envDefault:"local"`
	LocalStoragePath  string        `env:"LOCAL_STORAGE_PATH" envDefault:"./storage"`
	LocalStorageURL   string        `env:"LOCAL_STORAGE_URL" envDefault:"http://localhost:8080/files"`
	R2AccountID       string        `env:"R2_ACCOUNT_ID"`
	R2AccessKeyID     string        `env:"R2_ACCESS_KEY_ID"`
	R2SecretAccessKey string        `env:"R2_SECRET_ACCESS_KEY"`
	R2BucketName      string        `env:"R2_BUCKET_NAME"`
	R2PublicURL       string        `env:"R2_PUBLIC_URL"`
	AudioURLTTL       time.Duration `env:"AUDIO_URL_TTL" envDefault:"10m"`

	// Worker
	WorkerEnabled      bool          `env:"WORKER_ENABLED" envDefault:"true"`
	WorkerConcurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	WorkerPollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
	WorkerJobTimeout   time.Duration `env:"WORKER_JOB_TIMEOUT" envDefault:"1m"`

	// Maintenance
	MaintenanceSchedule string        `env:"MAINTENANCE_SCHEDULE" envDefault:"0 * * * *"`
	EventRetention      time.Duration `env:"EVENT_RETENTION" envDefault:"720h"`
	UsageRetention      time.Duration `env:"USAGE_RETENTION" envDefault:"9600h"`

	// API access. APIKey is optional; AdminAPIKeyHash is a bcrypt hash.
	APIKey          string `env:"API_KEY"`
	AdminAPIKeyHash string `env:"ADMIN_API_KEY_HASH"`

	// Per-IP rate limit for checkout and activity tracking
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	// Metrics endpoint basic auth. Both empty leaves /metrics unprotected.
	MetricsUsername string `env:"METRICS_USERNAME"`
	MetricsPassword string `env:"METRICS_PASSWORD"`
}

// NewConfig loads .env (if present) and parses the environment.
func NewConfig() (*Config, error) {
	// Missing .env is fine; production sets real environment variables.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDemo reports whether the service runs without a database.
func (c *Config) IsDemo() bool {
	return c.DemoMode || c.DatabaseURL == ""
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

// Validate performs the cross-field checks env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageProvider {
	case "local":
	case "r2":
		for name, v := range map[string]string{
			"R2_ACCOUNT_ID":        c.R2AccountID,
			"R2_ACCESS_KEY_ID":     c.R2AccessKeyID,
			"R2_SECRET_ACCESS_KEY": c.R2SecretAccessKey,
			"R2_BUCKET_NAME":       c.R2BucketName,
		} {
			if v == "" {
				errs = append(errs, fmt.Errorf("%s is required when STORAGE_PROVIDER is 'r2'", name))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider))
	}

	if c.BillingEnabled() {
		if c.StripeWebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set"))
		}
		if c.StripePriceStandard == "" && c.StripePriceProfessional == "" && c.StripePriceEnterprise == "" {
			errs = append(errs, errors.New("at least one STRIPE_PRICE_* is required when STRIPE_SECRET_KEY is set"))
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port))
	}
	if c.RateLimitRequests < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_REQUESTS must be positive, got: %d", c.RateLimitRequests))
	}
	if c.DeadLetterMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("DEAD_LETTER_MAX_ATTEMPTS must be positive, got: %d", c.DeadLetterMaxAttempts))
	}

	return errors.Join(errs...)
}
