package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv blanks every key Load reads, so neither the ambient environment
// nor a .env file leaks into a test. Empty values fall back to defaults.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_NAME", "APP_ENV", "APP_HOST", "APP_PORT", "APP_VERSION", "HTTP_REQUEST_TIMEOUT_SECONDS",
		"API_BASE_URL", "API_TIMEOUT_MS", "API_MAX_ATTEMPTS", "API_BACKOFF_STEP_MS",
		"STORE_BACKEND", "STORE_DIR", "STORE_NAMESPACE", "STORE_CLEANUP_INTERVAL_SECONDS",
		"POSTGRES_DSN", "POSTGRES_MAX_CONNS", "POSTGRES_MIN_CONNS", "POSTGRES_RUN_MIGRATIONS",
		"POSTGRES_MIGRATIONS_DIR", "POSTGRES_CONN_MAX_IDLE_SECONDS", "POSTGRES_CONN_MAX_LIFE_SECONDS",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
		"LOG_LEVEL",
		"AUTH_JWT_SECRET", "AUTH_ACCESS_TOKEN_TTL_MINUTES", "AUTH_BCRYPT_COST",
		"AUTH_SEED_ADMIN_EMAIL", "AUTH_SEED_ADMIN_PASSWORD",
		"SESSION_TOKEN_KEY", "SESSION_USER_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_TIMEOUT_MS", "900000")
	isolateEnv(t)
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Client.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout())
	assert.Equal(t, 3, cfg.Client.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Client.BackoffStep())
	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, "auth_token", cfg.Session.TokenKey)
	assert.Equal(t, "user_data", cfg.Session.UserKey)
}

func TestLoadOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("API_TIMEOUT_MS", "2500")
	t.Setenv("API_MAX_ATTEMPTS", "5")
	t.Setenv("STORE_CLEANUP_INTERVAL_SECONDS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.Client.Timeout())
	assert.Equal(t, 5, cfg.Client.MaxAttempts)
	assert.Zero(t, cfg.Store.CleanupInterval())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "sqlite"}},
		{name: "postgres without dsn", env: map[string]string{"STORE_BACKEND": "postgres", "POSTGRES_DSN": ""}},
		{name: "zero attempts", env: map[string]string{"STORE_BACKEND": "memory", "API_MAX_ATTEMPTS": "0"}},
		{name: "same session keys", env: map[string]string{"STORE_BACKEND": "memory", "SESSION_TOKEN_KEY": "k", "SESSION_USER_KEY": "k"}},
		{name: "bad redis db", env: map[string]string{"REDIS_DB": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
