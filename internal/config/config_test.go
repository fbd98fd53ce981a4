package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shbotirov227/nutva-sub000/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":           "redis://localhost:6379/0",
		"PORT":                "",
		"RATE_LIMIT_STRATEGY": "",
		"RATE_LIMIT_WINDOW":   "",
		"PRICING_CONFIG_PATH": "",
		"CRM_WEBHOOK_URL":     "",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "sliding", cfg.RateLimitStrategy)
	require.Equal(t, time.Minute, cfg.RateLimitWindow)
	require.Empty(t, cfg.PricingConfigPath)
	require.Error(t, cfg.RequireCRM())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"REDIS_URL":             "redis://localhost:6379/0",
		"PORT":                  ":9090",
		"CORS_ALLOWED_ORIGINS":  "https://nutva.uz, https://www.nutva.uz ,",
		"RATE_LIMIT_STRATEGY":   "FIXED",
		"RATE_LIMIT_MAX":        "30",
		"CRM_WEBHOOK_URL":       "https://crm.example.test/hook",
		"CRM_TIMEOUT":           "not-a-duration",
		"OBS_ENABLE_PROMETHEUS": "off",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, []string{"https://nutva.uz", "https://www.nutva.uz"}, cfg.CORSAllowedOrigins)
	require.Equal(t, "fixed", cfg.RateLimitStrategy)
	require.Equal(t, 30, cfg.RateLimitMax)
	require.Equal(t, 5*time.Second, cfg.CRMTimeout)
	require.False(t, cfg.MetricsEnabled)
	require.NoError(t, cfg.RequireCRM())
}

func TestLoadRequiresRedis(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{"REDIS_URL": ""})
	require.Error(t, err)
}

func TestLoadRejectsUnknownRateLimitStrategy(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"REDIS_URL":           "redis://localhost:6379/0",
		"RATE_LIMIT_STRATEGY": "token-bucket",
	})
	require.Error(t, err)
}
