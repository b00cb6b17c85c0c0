// Package config provides configuration management for the entity resolution service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for every environment variable override.
const envPrefix = "RESOLVER"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Registry backends.
const (
	RegistryBackendFile     = "file"
	RegistryBackendPostgres = "postgres"
)

// Embedding providers.
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderHash   = "hash"
)

// Config holds all configuration for the entity resolution service.
type Config struct {
	// Server contains HTTP admin API settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Resolver contains resolution policy settings.
	Resolver ResolverConfig `mapstructure:"resolver"`
	// Registry selects where canonical entities are persisted.
	Registry RegistryConfig `mapstructure:"registry"`
	// Database contains PostgreSQL connection settings for the postgres registry backend.
	Database DatabaseConfig `mapstructure:"database"`
	// Embedding contains embedding model settings.
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	// Qdrant contains the optional persistent embedding cache settings.
	Qdrant QdrantConfig `mapstructure:"qdrant"`
	// Kafka contains the optional registry event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// ResolverConfig holds resolution policy settings.
type ResolverConfig struct {
	// AcceptThreshold is the similarity a best match must exceed to be
	// accepted without full disambiguation (default: 0.85).
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	// ConfirmMatches asks the human to confirm every match above the threshold.
	ConfirmMatches bool `mapstructure:"confirm_matches"`
	// CleanInput lowercases and strips punctuation from incoming names.
	CleanInput bool `mapstructure:"clean_input"`
	// PersistEveryRecord saves the registry after each processed record.
	PersistEveryRecord bool `mapstructure:"persist_every_record"`
	// Prompt selects the interaction backend (auto, console, tui, passthrough).
	Prompt string `mapstructure:"prompt"`
	// EmbedConcurrency bounds parallel embedding calls per match.
	EmbedConcurrency int `mapstructure:"embed_concurrency"`
}

// RegistryConfig holds registry persistence settings.
type RegistryConfig struct {
	// Backend is "file" or "postgres".
	Backend string `mapstructure:"backend"`
	// Path is the JSON registry file for the file backend.
	Path string `mapstructure:"path"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is loaded from RESOLVER_DATABASE_PASSWORD only.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun applies pending migrations when the registry is opened.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	// Provider is "openai" (any OpenAI-compatible /embeddings endpoint) or
	// "hash" (local character n-gram vectors, no network).
	Provider string `mapstructure:"provider"`
	// Dimensions is the vector size for the hash provider, and the requested
	// size for OpenAI models that support it (0 = model default).
	Dimensions int `mapstructure:"dimensions"`
	// Timeout is the timeout for a single embedding API call.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the number of retries for transient API errors (default: 0).
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// RateLimitRPS caps embedding requests per second (0 = unlimited).
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	// RateLimitBurst is the token bucket burst size.
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
	// OpenAI contains OpenAI-compatible endpoint settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds OpenAI-compatible embedding endpoint settings.
type OpenAIConfig struct {
	// APIKey is loaded from RESOLVER_EMBEDDING_OPENAI_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the embedding model identifier.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
}

// QdrantConfig holds Qdrant embedding cache settings.
type QdrantConfig struct {
	// Enabled turns on the persistent embedding cache.
	Enabled bool `mapstructure:"enabled"`
	// Address is the Qdrant gRPC address.
	Address string `mapstructure:"address"`
	// CollectionName is the collection holding name embeddings.
	CollectionName string `mapstructure:"collection_name"`
	// VectorSize is the embedding dimension (must match the embedding model).
	VectorSize uint64 `mapstructure:"vector_size"`
	// APIKey is loaded from RESOLVER_QDRANT_API_KEY only.
	APIKey string `mapstructure:"-"`
	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `mapstructure:"use_tls"`
}

// KafkaConfig holds registry event publisher settings.
type KafkaConfig struct {
	// Enabled turns on event publishing.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic receives registry change events.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time the writer buffers messages.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files found
// in the default search paths.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from the given YAML file. An empty path
// searches ".", "./config" and "/etc/entity-resolution-service" for config.yaml.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/entity-resolution-service")

		if err := v.ReadInConfig(); err != nil {
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// Config file not found is OK, we'll use env vars and defaults
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
// These fields are tagged with mapstructure:"-" to prevent loading from config files.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv(envPrefix + "_DATABASE_PASSWORD")
	cfg.Embedding.OpenAI.APIKey = os.Getenv(envPrefix + "_EMBEDDING_OPENAI_API_KEY")
	cfg.Qdrant.APIKey = os.Getenv(envPrefix + "_QDRANT_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "entity_resolution")

	// Resolver defaults
	v.SetDefault("resolver.accept_threshold", 0.85)
	v.SetDefault("resolver.confirm_matches", false)
	v.SetDefault("resolver.clean_input", true)
	v.SetDefault("resolver.persist_every_record", true)
	v.SetDefault("resolver.prompt", "auto")
	v.SetDefault("resolver.embed_concurrency", 8)

	// Registry defaults
	v.SetDefault("registry.backend", RegistryBackendFile)
	v.SetDefault("registry.path", "standard_entities.json")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "resolver")
	v.SetDefault("database.name", "entity_resolution")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Embedding defaults
	v.SetDefault("embedding.provider", EmbeddingProviderOpenAI)
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("embedding.max_retries", 0)
	v.SetDefault("embedding.retry_delay", "2s")
	v.SetDefault("embedding.rate_limit_rps", 0)
	v.SetDefault("embedding.rate_limit_burst", 1)
	v.SetDefault("embedding.openai.model", "text-embedding-3-small")
	v.SetDefault("embedding.openai.base_url", "https://api.openai.com/v1")

	// Qdrant defaults
	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.address", "localhost:6334")
	v.SetDefault("qdrant.collection_name", "entity_name_embeddings")
	v.SetDefault("qdrant.vector_size", 1536)
	v.SetDefault("qdrant.use_tls", false)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "entity-registry.events")
	v.SetDefault("kafka.batch_timeout", "100ms")
	v.SetDefault("kafka.write_timeout", "10s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate resolver config
	if c.Resolver.AcceptThreshold <= 0 || c.Resolver.AcceptThreshold >= 1 {
		return fmt.Errorf("resolver accept_threshold must be between 0 and 1 (exclusive), got %v", c.Resolver.AcceptThreshold)
	}
	switch strings.ToLower(c.Resolver.Prompt) {
	case "auto", "console", "tui", "passthrough":
	default:
		return fmt.Errorf("invalid resolver prompt backend: %q (supported: auto, console, tui, passthrough)", c.Resolver.Prompt)
	}
	if c.Resolver.EmbedConcurrency <= 0 {
		return fmt.Errorf("resolver embed_concurrency must be positive")
	}

	// Validate registry config
	switch strings.ToLower(c.Registry.Backend) {
	case RegistryBackendFile:
		if c.Registry.Path == "" {
			return fmt.Errorf("registry path is required for the file backend")
		}
	case RegistryBackendPostgres:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
		}
	default:
		return fmt.Errorf("unsupported registry backend: %q (supported: file, postgres)", c.Registry.Backend)
	}

	// Validate optional integrations
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	return nil
}

// ValidateEmbedding checks the embedding provider and its vector cache. It is
// called when an embedder is built, not by Load.
func (c *Config) ValidateEmbedding() error {
	// Validate embedding config
	switch strings.ToLower(c.Embedding.Provider) {
	case EmbeddingProviderOpenAI:
		if c.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("embedding provider %q requires %s_EMBEDDING_OPENAI_API_KEY to be set", c.Embedding.Provider, envPrefix)
		}
	case EmbeddingProviderHash:
		if c.Embedding.Dimensions <= 0 {
			return fmt.Errorf("embedding provider %q requires a positive dimensions value", c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %q (supported: openai, hash)", c.Embedding.Provider)
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding max_retries must not be negative")
	}
	if c.Embedding.RateLimitRPS < 0 {
		return fmt.Errorf("embedding rate_limit_rps must not be negative")
	}

	// Validate the vector cache
	if c.Qdrant.Enabled {
		if c.Qdrant.Address == "" || c.Qdrant.CollectionName == "" {
			return fmt.Errorf("qdrant address and collection_name are required when qdrant is enabled")
		}
		if c.Qdrant.VectorSize == 0 {
			return fmt.Errorf("qdrant vector_size must be > 0")
		}
	}
	return nil
}
