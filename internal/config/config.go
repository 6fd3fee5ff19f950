// Package config loads service configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs beyond the engine's own
// defaults.
type Config struct {
	Env           string
	ListenAddr    string
	PublicBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPAddr     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string

	TokenSecret string
	AppSalt     string
}

// Load reads the environment, applying .env first when present. Missing
// secrets are an error; everything else has a sensible default.
func Load() (*Config, error) {
	// Best effort; absent .env just means real env vars are in use.
	_ = godotenv.Load()

	cfg := &Config{
		Env:           getEnv("SM_ENV", "development"),
		ListenAddr:    getEnv("SM_LISTEN_ADDR", ":8080"),
		PublicBaseURL: getEnv("SM_PUBLIC_BASE_URL", "http://localhost:8080"),
		RedisAddr:     getEnv("SM_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("SM_REDIS_PASSWORD"),
		SMTPAddr:      os.Getenv("SM_SMTP_ADDR"),
		SMTPFrom:      getEnv("SM_SMTP_FROM", "no-reply@shadowmesh.local"),
		SMTPUsername:  os.Getenv("SM_SMTP_USERNAME"),
		SMTPPassword:  os.Getenv("SM_SMTP_PASSWORD"),
		TokenSecret:   os.Getenv("SM_TOKEN_SECRET"),
		AppSalt:       os.Getenv("SM_APP_SALT"),
	}

	if db := os.Getenv("SM_REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("SM_REDIS_DB: %w", err)
		}
		cfg.RedisDB = n
	}

	if cfg.TokenSecret == "" {
		return nil, errors.New("SM_TOKEN_SECRET is required")
	}
	if len(cfg.TokenSecret) < 32 {
		return nil, errors.New("SM_TOKEN_SECRET must be at least 32 bytes")
	}
	if cfg.AppSalt == "" {
		return nil, errors.New("SM_APP_SALT is required")
	}
	return cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ShutdownTimeout bounds graceful drain on SIGTERM.
func (c *Config) ShutdownTimeout() time.Duration {
	return 15 * time.Second
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
