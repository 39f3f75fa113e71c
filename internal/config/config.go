package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/parley/internal/generation"
)

// Backend names shared by the queue and cache sections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"    validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Actor    ActorConfig    `mapstructure:"actor"    validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level"        validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains the Postgres connection used by the durable queue.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"               validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// QueueConfig controls job transport, batching, and redelivery.
type QueueConfig struct {
	Backend           string        `mapstructure:"backend"            validate:"required,oneof=memory postgres"`
	Name              string        `mapstructure:"name"               validate:"required"`
	DeadLetterName    string        `mapstructure:"dead_letter_name"   validate:"required,nefield=Name"`
	BufferSize        int           `mapstructure:"buffer_size"        validate:"gt=0"`
	BatchSize         int           `mapstructure:"batch_size"         validate:"gt=0"`
	BatchWait         time.Duration `mapstructure:"batch_wait"         validate:"gte=0"`
	Consumers         int           `mapstructure:"consumers"          validate:"gt=0"`
	Concurrency       int           `mapstructure:"concurrency"        validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts"       validate:"gt=0"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"        validate:"gte=0"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      validate:"gt=0"`
}

// CacheConfig controls where results are published and for how long.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"        validate:"required,oneof=memory redis"`
	TTL           time.Duration `mapstructure:"ttl"            validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// RedisConfig contains the Redis connection used by the result cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"         validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LLMConfig contains all LLM integration related settings.
// Credentials are not validated here; a missing key surfaces when the first
// actor binds to the provider.
type LLMConfig struct {
	StubMode     bool          `mapstructure:"stub_mode"`
	Provider     string        `mapstructure:"provider"      validate:"required,oneof=stub gemini anthropic openai"`
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"      validate:"omitempty,url"`
	MaxTokens    int           `mapstructure:"max_tokens"    validate:"gte=0"`
	Temperature  float64       `mapstructure:"temperature"   validate:"gte=0,lte=2"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Timeout      time.Duration `mapstructure:"timeout"       validate:"gt=0"`
}

// Binding converts the settings into a generation binding.
func (c LLMConfig) Binding() generation.Binding {
	return generation.Binding{
		Provider:     c.Provider,
		Model:        c.Model,
		APIKey:       c.APIKey,
		BaseURL:      c.BaseURL,
		MaxTokens:    c.MaxTokens,
		Temperature:  c.Temperature,
		SystemPrompt: c.SystemPrompt,
	}
}

// ActorConfig controls session actor lifetime.
type ActorConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"       validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	Services      []string      `mapstructure:"services"`
}

// ErrInvalidConfig is returned when cross-section checks fail.
var ErrInvalidConfig = errors.New("invalid configuration")

// checkBackends verifies that every selected backend has its connection settings.
func (c *Config) checkBackends() error {
	if c.Queue.Backend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("%w: database.url is required when queue.backend is %s",
			ErrInvalidConfig, BackendPostgres)
	}
	if c.Cache.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when cache.backend is %s",
			ErrInvalidConfig, BackendRedis)
	}
	if c.Queue.VisibilityTimeout <= c.LLM.Timeout {
		return fmt.Errorf("%w: queue.visibility_timeout (%s) must exceed llm.timeout (%s)",
			ErrInvalidConfig, c.Queue.VisibilityTimeout, c.LLM.Timeout)
	}
	return nil
}
