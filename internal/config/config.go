package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultDSN         = "host=localhost user=postgres password=postgres dbname=warehouse port=5432 sslmode=disable"
	defaultCORSOrigins = "http://localhost:3000"
)

type Config struct {
	Env         string
	HTTPPort    string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string
	UploadPath  string // item images are stored under <UploadPath>/items

	MetricsEnabled bool

	Jubelio JubelioConfig

	OverdueCheckCron string
}

// JubelioConfig: outbound stock relay to the ERP.
type JubelioConfig struct {
	WebhookURL  string
	Token       string
	MirrorToken string
	SyncCron    string // empty disables the scheduled sync
}

// Enabled reports whether the relay has a target.
func (j JubelioConfig) Enabled() bool {
	return j.WebhookURL != ""
}

// Load reads the environment (optionally preloaded from envFile or ./.env)
// and validates the result.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &Config{
		Env:            getEnv("APP_ENV", "prod"),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		DatabaseDSN:    getEnv("DATABASE_DSN", defaultDSN),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		CORSOrigins:    getEnv("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		UploadPath:     getEnv("UPLOAD_PATH", "./uploads"),
		MetricsEnabled: getEnv("METRICS_ENABLED", "true") == "true",
		Jubelio: JubelioConfig{
			WebhookURL:  getEnv("JUBELIO_WEBHOOK_URL", ""),
			Token:       getEnv("JUBELIO_TOKEN", ""),
			MirrorToken: getEnv("JUBELIO_MIRROR_TOKEN", ""),
			SyncCron:    getEnv("JUBELIO_SYNC_CRON", ""),
		},
		OverdueCheckCron: getEnv("OVERDUE_CHECK_CRON", "0 7 * * *"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be provided")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters")
	}
	if c.HTTPPort == "" {
		return errors.New("HTTP_PORT must not be empty")
	}
	if c.Jubelio.SyncCron != "" && !c.Jubelio.Enabled() {
		return errors.New("JUBELIO_SYNC_CRON requires JUBELIO_WEBHOOK_URL")
	}
	return nil
}

// Warn logs configuration values that are fine for development only.
func (c *Config) Warn(log *zap.Logger) {
	if c.DatabaseDSN == defaultDSN {
		log.Warn("DATABASE_DSN uses the default value, set your own Postgres connection for production")
	}
	if c.CORSOrigins == defaultCORSOrigins {
		log.Warn("CORS_ALLOWED_ORIGINS uses the default value, set your own domain for production")
	}
	if c.Jubelio.Enabled() && c.Jubelio.Token == "" {
		log.Warn("JUBELIO_WEBHOOK_URL is set without JUBELIO_TOKEN")
	}
}

// AllowedOrigins splits CORSOrigins on commas and trims each entry.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
