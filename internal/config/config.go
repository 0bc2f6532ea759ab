package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the WindOps server.
type Config struct {
	Server   ServerConfig
	Jobs     JobsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           int
	Env            string
	MaxUploadBytes int64
}

// JobsConfig bounds how long the submission handler waits and how long a
// single analysis may run before it is declared failed.
type JobsConfig struct {
	SubmitWait    time.Duration
	MaxJobRuntime time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EngineConfig struct {
	Provider  string
	BaseURL   string
	Timeout   time.Duration
	MockDelay time.Duration
}

type AuthConfig struct {
	// APIKeyHash is a bcrypt hash of the shared API key. Empty disables auth.
	APIKeyHash         string
	RateLimitPerMinute int
}

var validProviders = map[string]bool{
	"remote": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           envInt("WINDOPS_PORT", 8080),
			Env:            envString("WINDOPS_ENV", "development"),
			MaxUploadBytes: int64(envInt("WINDOPS_MAX_UPLOAD_BYTES", 256<<20)),
		},
		Jobs: JobsConfig{
			SubmitWait:    envDuration("WINDOPS_SUBMIT_WAIT", 30*time.Minute),
			MaxJobRuntime: envDuration("WINDOPS_MAX_JOB_RUNTIME", 45*time.Minute),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			Provider:  os.Getenv("ENGINE_PROVIDER"),
			BaseURL:   os.Getenv("ENGINE_BASE_URL"),
			Timeout:   envDuration("ENGINE_TIMEOUT", 20*time.Minute),
			MockDelay: envDuration("ENGINE_MOCK_DELAY", 2*time.Second),
		},
		Auth: AuthConfig{
			APIKeyHash:         os.Getenv("WINDOPS_API_KEY_HASH"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Jobs.SubmitWait <= 0 {
		return fmt.Errorf("WINDOPS_SUBMIT_WAIT must be positive, got %s", c.Jobs.SubmitWait)
	}
	if c.Jobs.MaxJobRuntime <= 0 {
		return fmt.Errorf("WINDOPS_MAX_JOB_RUNTIME must be positive, got %s", c.Jobs.MaxJobRuntime)
	}

	if c.Engine.Provider == "" {
		return fmt.Errorf("ENGINE_PROVIDER is required")
	}
	if !validProviders[c.Engine.Provider] {
		return fmt.Errorf("ENGINE_PROVIDER must be one of remote, mock; got %q", c.Engine.Provider)
	}
	if c.Engine.Provider == "remote" {
		if c.Engine.BaseURL == "" {
			return fmt.Errorf("ENGINE_BASE_URL is required when ENGINE_PROVIDER is remote")
		}
		if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
			return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
		}
	}

	if c.Auth.APIKeyHash != "" && !strings.HasPrefix(c.Auth.APIKeyHash, "$2") {
		return fmt.Errorf("WINDOPS_API_KEY_HASH must be a bcrypt hash")
	}

	return nil
}

// WriteTimeout is the HTTP server write timeout. It must outlast the
// submission wait, otherwise the server would cut the response first.
func (c *Config) WriteTimeout() time.Duration {
	return c.Jobs.SubmitWait + time.Minute
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
