package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	NATS       NATSConfig
	App        AppConfig
	Auth       AuthConfig
	Invitation InvitationConfig
	Onboarding OnboardingConfig
	Storage    StorageConfig
	Email      EmailConfig
	Jobs       JobsConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           string
	GinMode        string
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN builds the postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// NATSConfig holds change feed transport configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// AppConfig holds application configuration
type AppConfig struct {
	Environment string
	LogLevel    string
	// SiteURL is the public origin of the portal front end; callback redirects and e-mail links use it
	SiteURL string
}

// AuthConfig holds sign-in and session configuration
type AuthConfig struct {
	JWTSecret           string
	Issuer              string
	SessionTTLHours     int
	RememberMeDays      int
	MaxFailedAttempts   int
	LockoutMinutes      int
	MagicLinkTTLMinutes int
	TOTPIssuer          string
	CookieName          string
	CookieSecure        bool
}

// InvitationConfig holds invitation policy
type InvitationConfig struct {
	ExpiryDays int
}

// OnboardingConfig holds onboarding flow persistence configuration
type OnboardingConfig struct {
	FlowTTLHours int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Provider       string // local, s3, gcs
	AvatarBucket   string
	MaxAvatarBytes int64
	PublicBaseURL  string
	LocalBasePath  string
	AWS            AWSStorageConfig
	GCP            GCPStorageConfig
}

// AWSStorageConfig holds S3 (or S3-compatible) settings
type AWSStorageConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// GCPStorageConfig holds Cloud Storage settings
type GCPStorageConfig struct {
	ProjectID       string
	CredentialsFile string
}

// EmailConfig holds outbound mail configuration
type EmailConfig struct {
	// Providers lists provider names in failover order (sendgrid, ses, smtp, log)
	Providers      []string
	FromEmail      string
	FromName       string
	SendGridAPIKey string
	SESRegion      string
	SESAccessKeyID string
	SESSecretKey   string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
}

// JobsConfig holds scheduled job configuration (cron specs with a seconds field)
type JobsConfig struct {
	Enabled                  bool
	InvitationExpirySchedule string
	SessionCleanupSchedule   string
	SessionRetentionDays     int
}

// overlay holds values read from an optional YAML config file. Environment variables win.
var overlay = viper.New()

// New creates a new configuration instance
func New() *Config {
	loadOverlay()

	return &Config{
		Server: ServerConfig{
			Host:           getEnvWithDefault("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvWithDefault("PORT", "8080"),
			GinMode:        getEnvWithDefault("GIN_MODE", "debug"),
			AllowedOrigins: getEnvAsListWithDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnvWithDefault("DB_HOST", "localhost"),
			Port:     getEnvWithDefault("DB_PORT", "5432"),
			User:     getEnvWithDefault("DB_USER", "postgres"),
			Password: secrets.GetDBPassword(),
			Name:     getEnvWithDefault("DB_NAME", "client_portal"),
			SSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
			Port:     getEnvWithDefault("REDIS_PORT", "6379"),
			Password: secrets.GetRedisPassword(),
			DB:       getEnvAsIntWithDefault("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:     getEnvWithDefault("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvAsBoolWithDefault("NATS_ENABLED", true),
		},
		App: AppConfig{
			Environment: getEnvWithDefault("APP_ENV", "development"),
			LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
			SiteURL:     strings.TrimRight(getEnvWithDefault("SITE_URL", "http://localhost:3000"), "/"),
		},
		Auth: AuthConfig{
			JWTSecret:           secrets.GetJWTSecret(),
			Issuer:              getEnvWithDefault("JWT_ISSUER", "client-portal"),
			SessionTTLHours:     getEnvAsIntWithDefault("SESSION_TTL_HOURS", 24),
			RememberMeDays:      getEnvAsIntWithDefault("REMEMBER_ME_DAYS", 30),
			MaxFailedAttempts:   getEnvAsIntWithDefault("MAX_FAILED_LOGIN_ATTEMPTS", 5),
			LockoutMinutes:      getEnvAsIntWithDefault("LOCKOUT_MINUTES", 15),
			MagicLinkTTLMinutes: getEnvAsIntWithDefault("MAGIC_LINK_TTL_MINUTES", 60),
			TOTPIssuer:          getEnvWithDefault("TOTP_ISSUER", "Client Portal"),
			CookieName:          getEnvWithDefault("SESSION_COOKIE_NAME", "portal_session"),
			CookieSecure:        getEnvAsBoolWithDefault("SESSION_COOKIE_SECURE", false),
		},
		Invitation: InvitationConfig{
			ExpiryDays: getEnvAsIntWithDefault("INVITATION_EXPIRY_DAYS", 7),
		},
		Onboarding: OnboardingConfig{
			FlowTTLHours: getEnvAsIntWithDefault("ONBOARDING_FLOW_TTL_HOURS", 48),
		},
		Storage: StorageConfig{
			Provider:       getEnvWithDefault("STORAGE_PROVIDER", "local"),
			AvatarBucket:   getEnvWithDefault("AVATAR_BUCKET", "avatars"),
			MaxAvatarBytes: int64(getEnvAsIntWithDefault("MAX_AVATAR_BYTES", 20*1024*1024)),
			PublicBaseURL:  strings.TrimRight(getEnvWithDefault("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/storage"), "/"),
			LocalBasePath:  getEnvWithDefault("STORAGE_LOCAL_PATH", "./data/storage"),
			AWS: AWSStorageConfig{
				Region:          getEnvWithDefault("AWS_REGION", "us-east-1"),
				Endpoint:        getEnvWithDefault("S3_ENDPOINT", ""),
				AccessKeyID:     getEnvWithDefault("AWS_ACCESS_KEY_ID", ""),
				SecretAccessKey: secrets.GetSecretOrEnv("AWS_SECRET_ACCESS_KEY_SECRET_NAME", "AWS_SECRET_ACCESS_KEY", ""),
				ForcePathStyle:  getEnvAsBoolWithDefault("S3_FORCE_PATH_STYLE", false),
			},
			GCP: GCPStorageConfig{
				ProjectID:       getEnvWithDefault("GCP_PROJECT_ID", ""),
				CredentialsFile: getEnvWithDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
			},
		},
		Email: EmailConfig{
			Providers:      getEnvAsListWithDefault("EMAIL_PROVIDERS", []string{"log"}),
			FromEmail:      getEnvWithDefault("FROM_EMAIL", "noreply@client-portal.local"),
			FromName:       getEnvWithDefault("FROM_NAME", "Client Portal"),
			SendGridAPIKey: secrets.GetSecretOrEnv("SENDGRID_API_KEY_SECRET_NAME", "SENDGRID_API_KEY", ""),
			SESRegion:      getEnvWithDefault("SES_REGION", getEnvWithDefault("AWS_REGION", "us-east-1")),
			SESAccessKeyID: getEnvWithDefault("SES_ACCESS_KEY_ID", ""),
			SESSecretKey:   secrets.GetSecretOrEnv("SES_SECRET_ACCESS_KEY_SECRET_NAME", "SES_SECRET_ACCESS_KEY", ""),
			SMTPHost:       getEnvWithDefault("SMTP_HOST", "localhost"),
			SMTPPort:       getEnvAsIntWithDefault("SMTP_PORT", 587),
			SMTPUser:       getEnvWithDefault("SMTP_USER", ""),
			SMTPPassword:   secrets.GetSecretOrEnv("SMTP_PASSWORD_SECRET_NAME", "SMTP_PASSWORD", ""),
		},
		Jobs: JobsConfig{
			Enabled:                  getEnvAsBoolWithDefault("JOBS_ENABLED", true),
			InvitationExpirySchedule: getEnvWithDefault("INVITATION_EXPIRY_SCHEDULE", "0 */15 * * * *"),
			SessionCleanupSchedule:   getEnvWithDefault("SESSION_CLEANUP_SCHEDULE", "0 0 * * * *"),
			SessionRetentionDays:     getEnvAsIntWithDefault("SESSION_RETENTION_DAYS", 7),
		},
	}
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var problems []string
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "JWT secret is not configured")
	}
	if c.App.Environment == "production" && len(c.Auth.JWTSecret) < 32 {
		problems = append(problems, "JWT secret must be at least 32 characters in production")
	}
	if c.Storage.AvatarBucket == "" {
		problems = append(problems, "AVATAR_BUCKET is empty")
	}
	switch c.Storage.Provider {
	case "local", "s3", "gcs":
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_PROVIDER %q", c.Storage.Provider))
	}
	if c.Invitation.ExpiryDays <= 0 {
		problems = append(problems, "INVITATION_EXPIRY_DAYS must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// loadOverlay reads CONFIG_FILE (or ./config.yaml) when present. Keys match env var names.
func loadOverlay() {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		overlay.SetConfigFile(path)
	} else {
		overlay.SetConfigName("config")
		overlay.SetConfigType("yaml")
		overlay.AddConfigPath(".")
		overlay.AddConfigPath("/etc/client-portal")
	}
	// A missing file is the common case; env vars and defaults still apply.
	_ = overlay.ReadInConfig()
}

// lookup resolves a key from the environment first, then the file overlay
func lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	lower := strings.ToLower(key)
	if overlay.IsSet(lower) {
		if value := overlay.GetString(lower); value != "" {
			return value, true
		}
	}
	return "", false
}

// getEnvWithDefault gets environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return defaultValue
}

// getEnvAsIntWithDefault gets environment variable as integer with default fallback
func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := lookup(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolWithDefault gets environment variable as boolean with default fallback
func getEnvAsBoolWithDefault(key string, defaultValue bool) bool {
	if value, ok := lookup(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsListWithDefault splits a comma separated variable
func getEnvAsListWithDefault(key string, defaultValue []string) []string {
	value, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
