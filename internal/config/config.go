// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	SessionTTL        time.Duration
	ContextWindowSize int
	SweepInterval     time.Duration

	Inference InferenceConfig
	Budgets   BudgetConfig
	RateLimit RateLimitConfig
}

// InferenceConfig points at the model gateway.
type InferenceConfig struct {
	BaseURL string
	APIKey  string
}

// BudgetConfig holds the per-stage execution deadlines.
type BudgetConfig struct {
	Transcription  time.Duration
	Classification time.Duration
	Teaching       time.Duration
	Quiz           time.Duration
	Homework       time.Duration
	Speech         time.Duration
	Avatar         time.Duration
}

// RateLimitConfig holds the per-capability sliding-window budgets.
type RateLimitConfig struct {
	Window        time.Duration
	Turns         int
	Transcription int
	Generation    int
	Quiz          int
	Homework      int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       getEnv("FRONTEND_URL", ""),
		DBPath:            getEnv("DB_PATH", "./data/tutor.db"),
		SessionTTL:        getEnvDuration("SESSION_TTL", 60*time.Minute),
		ContextWindowSize: getEnvInt("CONTEXT_WINDOW_SIZE", 10),
		SweepInterval:     getEnvDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		Inference: InferenceConfig{
			BaseURL: getEnv("INFERENCE_BASE_URL", "http://localhost:9090"),
			APIKey:  getEnv("INFERENCE_API_KEY", ""),
		},
		Budgets: BudgetConfig{
			Transcription:  getEnvDuration("BUDGET_TRANSCRIPTION", 10*time.Second),
			Classification: getEnvDuration("BUDGET_CLASSIFICATION", 5*time.Second),
			Teaching:       getEnvDuration("BUDGET_TEACHING", 20*time.Second),
			Quiz:           getEnvDuration("BUDGET_QUIZ", 20*time.Second),
			Homework:       getEnvDuration("BUDGET_HOMEWORK", 60*time.Second),
			Speech:         getEnvDuration("BUDGET_SPEECH", 8*time.Second),
			Avatar:         getEnvDuration("BUDGET_AVATAR", 8*time.Second),
		},
		RateLimit: RateLimitConfig{
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Turns:         getEnvInt("RATE_LIMIT_TURNS", 60),
			Transcription: getEnvInt("RATE_LIMIT_TRANSCRIPTION", 30),
			Generation:    getEnvInt("RATE_LIMIT_GENERATION", 30),
			Quiz:          getEnvInt("RATE_LIMIT_QUIZ", 10),
			Homework:      getEnvInt("RATE_LIMIT_HOMEWORK", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("INFERENCE_BASE_URL cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ContextWindowSize <= 0 {
		return fmt.Errorf("CONTEXT_WINDOW_SIZE must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
