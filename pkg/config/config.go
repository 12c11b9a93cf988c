package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is where Load looks for the optional YAML config file.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-ledger.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr        string        `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port            string        `yaml:"port" env:"PORT" env-default:"3480"`
	Env             string        `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL         string        `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
	MigrationsPath  string        `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
	Version         string        `yaml:"-"` // Set at load time, not from config

	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Worker   WorkerConfig   `yaml:"worker"`
	AMQP     AMQPConfig     `yaml:"amqp"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are verified.
	// Set to false for local development without an identity provider.
	// Defaults to true; LoadFrom sets it before reading YAML and env.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_ledger"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Redis is optional; an empty host disables it
// and per-user locks fall back to in-process mutexes.
type RedisConfig struct {
	Host      string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"ekaya-ledger"`
	LockTTL   time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"2m"`
}

// AI provider names accepted in AIConfig.Provider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// AIConfig selects and configures the language model provider.
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:"gpt-4o"`
	// BaseURL overrides the provider endpoint (OpenAI-compatible servers, proxies).
	BaseURL string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`
	APIKey  string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML

	RequestTimeout time.Duration `yaml:"request_timeout" env:"AI_REQUEST_TIMEOUT" env-default:"60s"`
	MaxTokens      int           `yaml:"max_tokens" env:"AI_MAX_TOKENS" env-default:"2048"`

	// Circuit breaker around provider calls.
	BreakerThreshold  int           `yaml:"breaker_threshold" env:"AI_BREAKER_THRESHOLD" env-default:"5"`
	BreakerResetAfter time.Duration `yaml:"breaker_reset_after" env:"AI_BREAKER_RESET_AFTER" env-default:"30s"`

	// RecordCalls persists every model call to the ai_call table.
	RecordCalls bool `yaml:"record_calls" env:"AI_RECORD_CALLS"`
}

// WorkerConfig tunes background job execution and reporting windows.
type WorkerConfig struct {
	// Concurrency is the maximum number of jobs running at once across all users.
	Concurrency int `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
	// RetainedTasks bounds how many finished task snapshots the queue keeps.
	RetainedTasks int `yaml:"retained_tasks" env:"WORKER_RETAINED_TASKS" env-default:"500"`
	// MaxRetries is the retry budget for retryable job errors. Zero disables retries.
	MaxRetries int `yaml:"max_retries" env:"WORKER_MAX_RETRIES" env-default:"0"`
	// TrendMonths is the width of the per-category trend window.
	TrendMonths int `yaml:"trend_months" env:"TREND_MONTHS" env-default:"6"`
}

// AMQPConfig enables durable job dispatch through RabbitMQ when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"-" env:"AMQP_URL"` // Secret - may embed credentials
	Exchange string `yaml:"exchange" env:"AMQP_EXCHANGE" env-default:"ekaya-ledger"`
	Queue    string `yaml:"queue" env:"AMQP_QUEUE" env-default:"ekaya-ledger-jobs"`
	Prefetch int    `yaml:"prefetch" env:"AMQP_PREFETCH" env-default:"8"`
}

// Enabled reports whether AMQP dispatch is configured.
func (c *AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// Load reads configuration from config.yaml (if present) with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom reads configuration from the given YAML path with environment variable overrides.
// A missing file is not an error; environment variables and defaults are used instead.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
		Auth:    AuthConfig{EnableVerification: true},
		AI:      AIConfig{RecordCalls: true},
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validate checks cross-field constraints cleanenv cannot express.
func (c *Config) validate() error {
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unsupported ai provider %q", c.AI.Provider)
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai model is required")
	}
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("jwks_endpoints is required when auth verification is enabled")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}
	if c.Worker.TrendMonths < 1 {
		return fmt.Errorf("trend months must be at least 1")
	}
	return nil
}

// IsProduction reports whether the service runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	for _, pair := range strings.Split(value, ",") {
		issuer, jwksURL, ok := strings.Cut(pair, "=")
		if ok {
			endpoints[strings.TrimSpace(issuer)] = strings.TrimSpace(jwksURL)
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the host:port Redis address, or empty when Redis is disabled.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
