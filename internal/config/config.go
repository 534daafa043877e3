package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Hives    HivesConfig    `yaml:"hives"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	LogLevel string `yaml:"log_level"`
}

// MQTTConfig holds the embedded broker and ingestion settings
type MQTTConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Topic is the only topic whose messages are ingested
	Topic           string `yaml:"topic"`
	MaxPayloadBytes int    `yaml:"max_payload_bytes"`
	// IngestTimeout bounds a single message, in seconds
	IngestTimeout       int `yaml:"ingest_timeout"`
	MaxConcurrentIngest int `yaml:"max_concurrent_ingest"`
	// RateLimit is messages per second per hive; 0 disables limiting
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// Address returns the broker listen address
func (c MQTTConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IngestTimeoutDuration returns IngestTimeout as a time.Duration
func (c MQTTConfig) IngestTimeoutDuration() time.Duration {
	return time.Duration(c.IngestTimeout) * time.Second
}

// DatabaseConfig selects the store. PostgreSQL is used when DSN is set, SQLite otherwise.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	// TokenExpiry is the admin token lifetime in hours
	TokenExpiry int `yaml:"token_expiry"`
}

// HivesConfig holds credential generation and hashing settings
type HivesConfig struct {
	MaxCreateAttempts int    `yaml:"max_create_attempts"`
	HashMemoryKiB     uint32 `yaml:"hash_memory_kib"`
	HashIterations    uint32 `yaml:"hash_iterations"`
	HashParallelism   uint8  `yaml:"hash_parallelism"`
}

// MetricsConfig holds Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// CollectionInterval is how often store gauges are sampled, in seconds
	CollectionInterval int `yaml:"collection_interval"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(cfg *Config) {
	cfg.Server.Port = 8080
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.LogLevel = "info"

	cfg.MQTT.Host = "0.0.0.0"
	cfg.MQTT.Port = 1883
	cfg.MQTT.Topic = "metrics"
	cfg.MQTT.MaxPayloadBytes = 64 * 1024
	cfg.MQTT.IngestTimeout = 5
	cfg.MQTT.MaxConcurrentIngest = 64
	cfg.MQTT.RateLimit = 0
	cfg.MQTT.RateBurst = 10

	cfg.Database.Path = "./beermqtt.db"

	cfg.Auth.Enabled = true
	cfg.Auth.TokenExpiry = 24

	cfg.Hives.MaxCreateAttempts = 10
	cfg.Hives.HashMemoryKiB = 64 * 1024
	cfg.Hives.HashIterations = 1
	cfg.Hives.HashParallelism = 4

	cfg.Metrics.Enabled = true
	cfg.Metrics.CollectionInterval = 30
}

// overrideFromEnv overrides config with environment variables
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("BEERMQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BEERMQTT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BEERMQTT_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("BEERMQTT_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("BEERMQTT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("BEERMQTT_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("BEERMQTT_INGEST_TIMEOUT"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.IngestTimeout = val
		}
	}
	if v := os.Getenv("BEERMQTT_MAX_CONCURRENT_INGEST"); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.MaxConcurrentIngest = val
		}
	}
	if v := os.Getenv("BEERMQTT_RATE_LIMIT"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val >= 0 {
			cfg.MQTT.RateLimit = val
		}
	}
	if v := os.Getenv("BEERMQTT_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BEERMQTT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("BEERMQTT_AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = v == "true"
	}
	if v := os.Getenv("BEERMQTT_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("BEERMQTT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.MQTT.Port < 1 || cfg.MQTT.Port > 65535 {
		return fmt.Errorf("invalid mqtt port: %d", cfg.MQTT.Port)
	}

	if cfg.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic cannot be empty")
	}

	if cfg.MQTT.IngestTimeout < 1 {
		return fmt.Errorf("ingest timeout must be at least 1 second")
	}

	if cfg.MQTT.MaxConcurrentIngest < 1 {
		return fmt.Errorf("max concurrent ingest must be positive")
	}

	if cfg.MQTT.RateLimit > 0 && cfg.MQTT.RateBurst < 1 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}

	if cfg.Auth.Enabled && cfg.Auth.Secret == "" {
		return fmt.Errorf("auth secret is required when auth is enabled")
	}

	if cfg.Hives.MaxCreateAttempts < 1 {
		return fmt.Errorf("max create attempts must be positive")
	}

	if cfg.Hives.HashMemoryKiB < 8*uint32(cfg.Hives.HashParallelism) || cfg.Hives.HashIterations < 1 || cfg.Hives.HashParallelism < 1 {
		return fmt.Errorf("invalid password hash parameters")
	}

	return nil
}
