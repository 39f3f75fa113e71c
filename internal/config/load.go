package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. PARLEY_SERVER_PORT.
const EnvPrefix = "PARLEY"

// ConfigPathEnv names the environment variable holding an optional config file path.
const ConfigPathEnv = EnvPrefix + "_CONFIG"

var defaults = map[string]any{
	"server.port":             8080,
	"server.log_level":        "info",
	"server.shutdown_timeout": 10 * time.Second,

	"database.url":               "",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"database.conn_max_lifetime": 5 * time.Minute,

	"queue.backend":            BackendMemory,
	"queue.name":               "parley-jobs",
	"queue.dead_letter_name":   "parley-jobs-dlq",
	"queue.buffer_size":        1024,
	"queue.batch_size":         10,
	"queue.batch_wait":         200 * time.Millisecond,
	"queue.consumers":          2,
	"queue.concurrency":        8,
	"queue.max_attempts":       3,
	"queue.retry_delay":        5 * time.Second,
	"queue.visibility_timeout": 2 * time.Minute,
	"queue.poll_interval":      time.Second,

	"cache.backend":        BackendMemory,
	"cache.ttl":            3600 * time.Second,
	"cache.sweep_interval": time.Minute,

	"redis.addr":       "",
	"redis.username":   "",
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "parley:result:",

	"llm.stub_mode":     false,
	"llm.provider":      "stub",
	"llm.model":         "",
	"llm.api_key":       "",
	"llm.base_url":      "",
	"llm.max_tokens":    1024,
	"llm.temperature":   0.0,
	"llm.system_prompt": "",
	"llm.timeout":       60 * time.Second,

	"actor.idle_ttl":       15 * time.Minute,
	"actor.sweep_interval": time.Minute,
	"actor.services":       []string{},
}

// Load reads configuration from defaults, an optional file named by
// PARLEY_CONFIG, and environment variables. Environment variables take
// precedence over file values.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file and falls back to ./config.yaml when present.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct tag validation followed by cross-section checks.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg.checkBackends()
}
