package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL        string
	Port               string
	JWTSecret          string
	RelayURL           string
	RelayToken         string
	RelayWebhookSecret string
	PollInterval       time.Duration
	SessionTimeout     time.Duration
	DevMode            bool
}

// Load reads configuration from environment variables. Dev mode swaps the
// Postgres store and HTTP relay for in-process stand-ins, so DATABASE_URL and
// the relay settings are only required outside it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           "8080",
		PollInterval:   3 * time.Second,
		SessionTimeout: 5 * time.Minute,
	}

	cfg.DevMode = os.Getenv("DEV_MODE") == "true"

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	cfg.RelayWebhookSecret = os.Getenv("RELAY_WEBHOOK_SECRET")
	if cfg.RelayWebhookSecret == "" {
		return nil, fmt.Errorf("RELAY_WEBHOOK_SECRET environment variable is required")
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RelayURL = os.Getenv("RELAY_URL")
	cfg.RelayToken = os.Getenv("RELAY_TOKEN")
	if !cfg.DevMode {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("RELAY_URL environment variable is required")
		}
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid POLL_INTERVAL %q", v)
		}
		cfg.PollInterval = d
	}

	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT %q", v)
		}
		cfg.SessionTimeout = d
	}

	return cfg, nil
}
