package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("GOOGLE_API_KEY", "google-key")
	t.Setenv("CLERK_SECRET_KEY", "sk_test_123")
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_c2VjcmV0")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	for _, key := range []string{"ALLOWED_ORIGINS", "DB_DRIVER", "GENERATOR_TIMEOUT", "SERVER_PORT", "REDIS_ADDR", "CLERK_API_URL", "GEMINI_MODEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "google-key", cfg.GoogleAPIKey)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:5174"}, cfg.AllowedOrigins)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 20*time.Second, cfg.GeneratorTimeout)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "https://api.clerk.com", cfg.ClerkAPIURL)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_ORIGINS", " https://app.example.com , ,https://admin.example.com")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_PATH", "/tmp/local.db")
	t.Setenv("GENERATOR_TIMEOUT", "5s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "/tmp/local.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.GeneratorTimeout)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_MissingSecrets(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("CLERK_SECRET_KEY", "sk_test_123")
	t.Setenv("CLERK_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_API_KEY")
	assert.Contains(t, err.Error(), "CLERK_WEBHOOK_SECRET")
	assert.NotContains(t, err.Error(), "CLERK_SECRET_KEY")
}

func TestLoad_InvalidValues(t *testing.T) {
	setRequired(t)

	t.Setenv("GENERATOR_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "GENERATOR_TIMEOUT")

	t.Setenv("GENERATOR_TIMEOUT", "")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "DB_DRIVER")
}
