package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 7, cfg.Invitation.ExpiryDays)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 15, cfg.Auth.LockoutMinutes)
	assert.Equal(t, "avatars", cfg.Storage.AvatarBucket)
	assert.Equal(t, int64(20*1024*1024), cfg.Storage.MaxAvatarBytes)
	assert.Equal(t, []string{"log"}, cfg.Email.Providers)
}

func TestNewReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SITE_URL", "https://portal.example.com/")
	t.Setenv("EMAIL_PROVIDERS", "sendgrid, ses ,,smtp")
	t.Setenv("INVITATION_EXPIRY_DAYS", "3")
	t.Setenv("NATS_ENABLED", "false")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := New()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://portal.example.com", cfg.App.SiteURL)
	assert.Equal(t, []string{"sendgrid", "ses", "smtp"}, cfg.Email.Providers)
	assert.Equal(t, 3, cfg.Invitation.ExpiryDays)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, 0, cfg.Redis.DB, "invalid ints fall back to the default")
}

func TestValidate(t *testing.T) {
	cfg := New()
	cfg.Auth.JWTSecret = "a-development-secret"
	require.NoError(t, cfg.Validate())

	cfg.Auth.JWTSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "JWT secret")

	cfg.Auth.JWTSecret = "short"
	cfg.App.Environment = "production"
	assert.ErrorContains(t, cfg.Validate(), "at least 32")

	cfg.App.Environment = "development"
	cfg.Storage.Provider = "ftp"
	assert.ErrorContains(t, cfg.Validate(), "STORAGE_PROVIDER")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", d.DSN())
}
