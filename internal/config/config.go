package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the gateway.
type Config struct {
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`

	// Upstream Grounded-SAM service
	GroundedSAMEndpoint   string        `env:"GROUNDED_SAM_ENDPOINT" envDefault:"http://127.0.0.1:8080"`
	GroundedSAMTimeout    time.Duration `env:"GROUNDED_SAM_TIMEOUT" envDefault:"60s"`
	GroundedSAMHealthPath string        `env:"GROUNDED_SAM_HEALTH_PATH" envDefault:"/health"`
	OpenAIAPIKey          string        `env:"OPENAI_API_KEY"`

	// Persistence
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"host=postgres user=postgres password=postgres dbname=groundedsam port=5432 sslmode=disable"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"redis:6379"`

	// Authentication
	JWTSecret   string `env:"JWT_SECRET" envDefault:"dev-secret"`
	JWTAudience string `env:"JWT_AUDIENCE"`
}

// Load reads an optional .env file and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.GroundedSAMEndpoint = strings.TrimRight(strings.TrimSpace(cfg.GroundedSAMEndpoint), "/")
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.JWTAudience = strings.TrimSpace(cfg.JWTAudience)

	if cfg.GroundedSAMEndpoint == "" {
		return nil, errors.New("GROUNDED_SAM_ENDPOINT must not be empty")
	}
	if cfg.GroundedSAMTimeout <= 0 {
		return nil, fmt.Errorf("GROUNDED_SAM_TIMEOUT must be positive, got %s", cfg.GroundedSAMTimeout)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return cfg, nil
}

// OpenAIKey returns the configured credential, or nil when none is set.
func (c *Config) OpenAIKey() *string {
	if c.OpenAIAPIKey == "" {
		return nil
	}
	key := c.OpenAIAPIKey
	return &key
}
