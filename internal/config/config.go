package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the VQHub server.
type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Storage StorageConfig
	Runner  RunnerConfig
	Jobs    JobsConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

type RunnerConfig struct {
	BaseURL string
	Service string
	Timeout time.Duration
}

type JobsConfig struct {
	PollInterval time.Duration
}

type AuthConfig struct {
	// APIKeyHashes holds bcrypt hashes of accepted API keys. When empty the
	// server runs without authentication (development mode).
	APIKeyHashes []string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VQHUB_PORT", 8080),
			Env:  envString("VQHUB_ENV", "development"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          envString("S3_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("S3_DEFAULT_BUCKET"),
			UsePathStyle:    envBool("S3_USE_PATH_STYLE", false),
			PresignTTL:      envDuration("S3_PRESIGN_TTL", 15*time.Minute),
		},
		Runner: RunnerConfig{
			BaseURL: os.Getenv("RUNNER_BASE_URL"),
			Service: envString("RUNNER_SERVICE", "vmaf-runner"),
			Timeout: envDuration("RUNNER_TIMEOUT", 30*time.Second),
		},
		Jobs: JobsConfig{
			PollInterval: envDuration("JOB_POLL_INTERVAL", 5*time.Second),
		},
		Auth: AuthConfig{
			APIKeyHashes: envList("API_KEY_HASHES"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("S3_DEFAULT_BUCKET is required")
	}
	if c.Storage.Endpoint != "" &&
		!strings.HasPrefix(c.Storage.Endpoint, "http://") && !strings.HasPrefix(c.Storage.Endpoint, "https://") {
		return fmt.Errorf("S3_ENDPOINT must start with http:// or https://, got %q", c.Storage.Endpoint)
	}

	if c.Runner.BaseURL == "" {
		return fmt.Errorf("RUNNER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Runner.BaseURL, "http://") && !strings.HasPrefix(c.Runner.BaseURL, "https://") {
		return fmt.Errorf("RUNNER_BASE_URL must start with http:// or https://, got %q", c.Runner.BaseURL)
	}

	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("JOB_POLL_INTERVAL must be positive, got %v", c.Jobs.PollInterval)
	}

	if c.Server.Env == "production" && len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("API_KEY_HASHES is required when VQHUB_ENV is production")
	}

	return nil
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

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
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

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
