package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for taskmesh
type Config struct {
	// Server configuration
	HTTPPort int    `env:"TASKMESH_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Backend selection
	Backends BackendConfig

	// Cache configuration
	Cache CacheConfig

	// Capability dispatch configuration
	Dispatch DispatchConfig

	// LLM configuration
	LLM LLMConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// BackendConfig selects the adapter behind each port
type BackendConfig struct {
	Cache       string `env:"CACHE_BACKEND" envDefault:"memory"`
	Events      string `env:"EVENT_BUS_BACKEND" envDefault:"memory"`
	ResultStore string `env:"RESULT_STORE_BACKEND" envDefault:"memory"`

	// Redis streams settings
	EventsConsumerGroup string        `env:"EVENT_BUS_CONSUMER_GROUP"`
	EventsStreamMaxLen  int64         `env:"EVENT_BUS_STREAM_MAX_LEN" envDefault:"10000"`
	ResultTTL           time.Duration `env:"RESULT_STORE_TTL" envDefault:"24h"`
}

// CacheConfig holds fingerprint cache settings
type CacheConfig struct {
	TTL           time.Duration `env:"CACHE_TTL" envDefault:"3600s"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"5m"`
	LevelDBPath   string        `env:"CACHE_LEVELDB_PATH" envDefault:"./data/cache"`
}

// DispatchConfig holds dispatcher defaults and per-capability overrides
type DispatchConfig struct {
	DefaultMaxConcurrency int           `env:"CAPABILITY_DEFAULT_CONCURRENCY" envDefault:"4"`
	DefaultCallsPerMinute int           `env:"CAPABILITY_DEFAULT_CALLS_PER_MINUTE" envDefault:"60"`
	MaxAttempts           int           `env:"CAPABILITY_MAX_ATTEMPTS" envDefault:"3"`
	BackoffBase           time.Duration `env:"CAPABILITY_BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax            time.Duration `env:"CAPABILITY_BACKOFF_MAX" envDefault:"30s"`
	CallTimeout           time.Duration `env:"CAPABILITY_CALL_TIMEOUT" envDefault:"120s"`
	RateLimitWait         time.Duration `env:"CAPABILITY_RATE_LIMIT_WAIT" envDefault:"60s"`

	// Overrides, e.g. CAPABILITY_CONCURRENCY=analyze:1,render:4
	Concurrency    map[string]string `env:"CAPABILITY_CONCURRENCY" envKeyValSeparator:":"`
	CallsPerMinute map[string]string `env:"CAPABILITY_CALLS_PER_MINUTE" envKeyValSeparator:":"`

	HealthCheckInterval time.Duration `env:"CAPABILITY_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`
	BaseURL  string `env:"LLM_BASE_URL"`

	// Capability name the LLM is registered under
	Capability     string        `env:"LLM_CAPABILITY" envDefault:"document"`
	RequestTimeout time.Duration `env:"LLM_REQUEST_TIMEOUT" envDefault:"120s"`

	// Default model settings
	DefaultModel     string `env:"LLM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-20250514"`
	DefaultMaxTokens int    `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	TaskTimeout     time.Duration `env:"TIMEOUT_TASK" envDefault:"300s"`
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`
	RunRetention    time.Duration `env:"RUN_RETENTION" envDefault:"15m"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if err := oneOf("cache backend", c.Backends.Cache, "memory", "redis", "leveldb"); err != nil {
		return err
	}
	if err := oneOf("event bus backend", c.Backends.Events, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("result store backend", c.Backends.ResultStore, "memory", "redis"); err != nil {
		return err
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Backends.Cache == "leveldb" && c.Cache.LevelDBPath == "" {
		return fmt.Errorf("leveldb path is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}

	if c.Dispatch.DefaultMaxConcurrency < 1 {
		return fmt.Errorf("default capability concurrency must be at least 1")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1")
	}
	if _, err := c.ConcurrencyOverrides(); err != nil {
		return err
	}
	if _, err := c.CallsPerMinuteOverrides(); err != nil {
		return err
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s (only 'anthropic' is supported)", c.LLM.Provider)
	}

	return nil
}

// UsesRedis reports whether any backend needs the Redis client
func (c *Config) UsesRedis() bool {
	return c.Backends.Cache == "redis" || c.Backends.Events == "redis" || c.Backends.ResultStore == "redis"
}

// ConcurrencyOverrides returns per-capability concurrency caps
func (c *Config) ConcurrencyOverrides() (map[string]int, error) {
	overrides, err := parseOverrides(c.Dispatch.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPABILITY_CONCURRENCY: %w", err)
	}
	for name, n := range overrides {
		if n < 1 {
			return nil, fmt.Errorf("invalid CAPABILITY_CONCURRENCY: %s must be at least 1", name)
		}
	}
	return overrides, nil
}

// CallsPerMinuteOverrides returns per-capability rate limits. A negative value
// disables limiting for that capability.
func (c *Config) CallsPerMinuteOverrides() (map[string]int, error) {
	overrides, err := parseOverrides(c.Dispatch.CallsPerMinute)
	if err != nil {
		return nil, fmt.Errorf("invalid CAPABILITY_CALLS_PER_MINUTE: %w", err)
	}
	for name, n := range overrides {
		if n == 0 {
			return nil, fmt.Errorf("invalid CAPABILITY_CALLS_PER_MINUTE: %s must not be 0", name)
		}
	}
	return overrides, nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func parseOverrides(raw map[string]string) (map[string]int, error) {
	overrides := make(map[string]int, len(raw))
	for name, value := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty capability name")
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		overrides[name] = n
	}
	return overrides, nil
}

func oneOf(what, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("unsupported %s: %s (must be one of %s)", what, value, strings.Join(allowed, ", "))
}
