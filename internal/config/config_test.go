package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/authsvc")
	t.Setenv("SESSION_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.Email.Enabled())
	assert.False(t, cfg.OAuth.Google.Enabled())
	assert.False(t, cfg.OAuth.Auth0.Enabled())
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("NEXTAUTH_SECRET", "")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/authsvc")
	_, err = Load()
	assert.Error(t, err, "session secret is still missing")
}

func TestLoadNextAuthFallbacks(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/authsvc")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("NEXTAUTH_SECRET", "legacy-secret")
	t.Setenv("APP_BASE_URL", "")
	t.Setenv("NEXTAUTH_URL", "https://app.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", cfg.SessionSecret)
	assert.Equal(t, "https://app.example.com", cfg.BaseURL)
}

func TestLoadOAuthProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("AUTH_GOOGLE_ID", "client-id")
	t.Setenv("AUTH_GOOGLE_SECRET", "client-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.OAuth.Google.Enabled())
	assert.Equal(t, "client-id", cfg.OAuth.Google.ClientID)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, parseList("10.0.0.1, 192.168.0.0/16"))
	assert.Nil(t, parseList("  "))
	assert.True(t, parseBool("TRUE"))
	assert.False(t, parseBool("nope"))
	assert.Equal(t, time.Hour, parseDuration("1h", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
}
