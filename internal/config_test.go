package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STRIPE_SECRET_KEY", "")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, 10*time.Minute, cfg.AudioURLTTL)
	assert.Equal(t, 60*time.Second, cfg.CacheTTL)
	assert.Equal(t, "0 * * * *", cfg.MaintenanceSchedule)
	assert.True(t, cfg.IsDemo())
	assert.False(t, cfg.BillingEnabled())
}

func TestNewConfig_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/notebookdir")
	t.Setenv("PORT", "9090")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("STRIPE_PRICE_STANDARD", "price_std")
	t.Setenv("STRIPE_TIMEOUT", "3s")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.IsDemo())
	assert.True(t, cfg.BillingEnabled())
	assert.Equal(t, "price_std", cfg.StripePriceStandard)
	assert.Equal(t, 3*time.Second, cfg.StripeTimeout)
}

func TestNewConfig_InvalidDuration(t *testing.T) {
	t.Setenv("CACHE_TTL", "soon")

	_, err := NewConfig()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                  8080,
			StorageProvider:       "local",
			RateLimitRequests:     30,
			DeadLetterMaxAttempts: 8,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageProvider = "s3" }, wantErr: "STORAGE_PROVIDER"},
		{name: "r2 missing bucket", mutate: func(c *Config) {
			c.StorageProvider = "r2"
			c.R2AccountID, c.R2AccessKeyID, c.R2SecretAccessKey = "a", "b", "c"
		}, wantErr: "R2_BUCKET_NAME"},
		{name: "stripe without webhook secret", mutate: func(c *Config) {
			c.StripeSecretKey = "sk_test"
			c.StripePriceStandard = "price_std"
		}, wantErr: "STRIPE_WEBHOOK_SECRET"},
		{name: "stripe without prices", mutate: func(c *Config) {
			c.StripeSecretKey = "sk_test"
			c.StripeWebhookSecret = "whsec"
		}, wantErr: "STRIPE_PRICE_"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 0 }, wantErr: "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
