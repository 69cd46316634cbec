package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CSRF_SECRET", "csrf-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 3, cfg.InsightsRetries)
	assert.Equal(t, time.Second, cfg.InsightsRetryDelay)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, "/login", cfg.LoginURL)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"env":         {"APP_ENV": "qa"},
		"log format":  {"LOG_FORMAT": "xml"},
		"retries":     {"INSIGHTS_API_RETRY_ATTEMPTS": "11"},
		"retry bound": {"INSIGHTS_API_RETRY_DELAY": "10s", "INSIGHTS_API_RETRY_MAX_DELAY": "1s"},
		"cache ttl":   {"CACHE_TTL": "0s"},
		"base url":    {"INSIGHTS_API_BASE_URL": "not a url"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARN").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}

func TestInTestMode(t *testing.T) {
	t.Setenv("DASHBOARD_TEST_MODE", "1")
	assert.True(t, InTestMode())
	t.Setenv("DASHBOARD_TEST_MODE", "")
	assert.False(t, InTestMode())
}
