// Package config provides centralized configuration loaded from environment
// variables. Shared by every command in cmd/.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every environment-derived setting the engine needs at
// startup. Values outside their documented range are clamped by Load.
type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// Control surface
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	CORSAllowOrigins []string

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Upstream provider
	UpstreamAPIKey      string
	UpstreamBaseURL     string
	UpstreamBudgetHour  int
	UpstreamMinDelay    time.Duration
	UpstreamCallTimeout time.Duration

	// Ingestion
	PollInterval         time.Duration
	MaxMonitoredFixtures int
	IngestionConcurrency int
	FixtureRetention     time.Duration

	// Evaluation
	DefaultCooldown  time.Duration
	EventBufferSize  int
	PatternRetention time.Duration

	// Channel transport config (no implementation details here)
	SMSFromNumber string
	EmailFromAddr string
}

// Load reads configuration from environment variables with the defaults and
// ranges fixed by the configuration contract.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("ALERTCORE_DATABASE_URL", ""))
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or ALERTCORE_DATABASE_URL must be set")
	}

	apiKey := envOr("UPSTREAM_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY must be set")
	}

	pollInterval := clampInt(envInt("POLL_INTERVAL_SECONDS", 300), 60, 600)

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		UpstreamAPIKey:      apiKey,
		UpstreamBaseURL:     envOr("UPSTREAM_BASE_URL", "https://api.sportmonks.com/v3/football"),
		UpstreamBudgetHour:  envInt("UPSTREAM_BUDGET_PER_HOUR", 100),
		UpstreamMinDelay:    time.Duration(envInt("UPSTREAM_MIN_DELAY_MS", 100)) * time.Millisecond,
		UpstreamCallTimeout: 10 * time.Second,

		PollInterval:         time.Duration(pollInterval) * time.Second,
		MaxMonitoredFixtures: envInt("MAX_MONITORED_FIXTURES", 20),
		IngestionConcurrency: envInt("INGESTION_CONCURRENCY", 5),
		FixtureRetention:     2 * time.Hour,

		DefaultCooldown:  time.Duration(envInt("DEFAULT_COOLDOWN_SECONDS", 300)) * time.Second,
		EventBufferSize:  envInt("EVENT_BUFFER_SIZE", 50),
		PatternRetention: time.Duration(envInt("PATTERN_RETENTION_SECONDS", 7200)) * time.Second,

		SMSFromNumber: envOr("SMS_FROM_NUMBER", ""),
		EmailFromAddr: envOr("EMAIL_FROM_ADDRESS", ""),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
