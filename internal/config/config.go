// Package config provides configuration management for the data repository service.
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

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverHTTP     = "http"
)

// envPrefix is the prefix of every environment variable read by Load.
const envPrefix = "DATAREPO"

// Config holds all configuration for the data repository service.
type Config struct {
	// Server contains HTTP API server settings.
	Server ServerConfig `mapstructure:"server"`
	// Storage selects the data client backing each collection.
	Storage StorageConfig `mapstructure:"storage"`
	// Database contains PostgreSQL connection settings for the postgres driver.
	Database DatabaseConfig `mapstructure:"database"`
	// Remote contains the upstream data API settings for the http driver.
	Remote RemoteConfig `mapstructure:"remote"`
	// Cache contains read-through cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// Redis contains Redis connection settings for the redis cache backend.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains change event settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP API port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey, when set, is required in the X-API-Key header of every API request.
	// Loaded from DATAREPO_SERVER_API_KEY only.
	APIKey string `mapstructure:"-"`
}

// StorageConfig selects the data client.
type StorageConfig struct {
	// Driver is one of memory, postgres or http (default: memory).
	Driver string `mapstructure:"driver"`
	// Collections lists the collections served by the API.
	Collections []string `mapstructure:"collections"`
	// IDField is the document field holding item ids (default: id).
	IDField string `mapstructure:"id_field"`
	// Table is the PostgreSQL table holding documents (default: documents).
	Table string `mapstructure:"table"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password. Loaded from DATAREPO_DATABASE_PASSWORD only.
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// RemoteConfig holds settings for the upstream data API used by the http driver.
type RemoteConfig struct {
	// BaseURL is the scheme and host of the upstream API.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds a single upstream request.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the sustained requests per second allowed upstream.
	RateLimit float64 `mapstructure:"rate_limit"`
	// BurstSize is the rate limiter burst.
	BurstSize int `mapstructure:"burst_size"`
	// MaxRetries is the number of retries for 429 and 5xx responses.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelay is the base retry delay, doubled on every attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// MaxRetryDelay caps the backoff and any Retry-After sent upstream.
	MaxRetryDelay time.Duration `mapstructure:"max_retry_delay"`
	// APIKeyHeader is the header carrying APIKey (default: X-API-Key).
	APIKeyHeader string `mapstructure:"api_key_header"`
	// APIKey is sent to the upstream API. Loaded from DATAREPO_REMOTE_API_KEY only.
	APIKey string `mapstructure:"-"`
}

// CacheConfig holds read-through cache settings.
type CacheConfig struct {
	// Enabled turns on read-through caching of single items.
	Enabled bool `mapstructure:"enabled"`
	// Backend is memory or redis (default: memory).
	Backend string `mapstructure:"backend"`
	// TTL is the lifetime of a cached item.
	TTL time.Duration `mapstructure:"ttl"`
	// Prefix namespaces cache keys.
	Prefix string `mapstructure:"prefix"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr"`
	// DB is the Redis logical database.
	DB int `mapstructure:"db"`
	// Password is loaded from DATAREPO_REDIS_PASSWORD only.
	Password string `mapstructure:"-"`
}

// KafkaConfig holds change event settings.
type KafkaConfig struct {
	// Enabled turns on change event publishing and cross-instance cache invalidation.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic for change events.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// GroupID prefixes the per-instance consumer group of the cache invalidation listener.
	GroupID string `mapstructure:"group_id"`
	// ServiceName prefixes the source stamped on every published event.
	ServiceName string `mapstructure:"service_name"`
	// InstanceID names this instance in the event source and consumer group.
	// Set it to something stable, such as a pod name, so restarts reuse the
	// same group. Empty means a random id per start.
	InstanceID string `mapstructure:"instance_id"`
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
	// Enabled enables the Prometheus metrics endpoint.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
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

// HTTPAddress returns the HTTP API address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/data-repository-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma separated lists from the environment arrive as a single element.
	cfg.Storage.Collections = splitList(cfg.Storage.Collections)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Server.APIKey = os.Getenv(envPrefix + "_SERVER_API_KEY")
	cfg.Database.Password = os.Getenv(envPrefix + "_DATABASE_PASSWORD")
	cfg.Remote.APIKey = os.Getenv(envPrefix + "_REMOTE_API_KEY")
	cfg.Redis.Password = os.Getenv(envPrefix + "_REDIS_PASSWORD")
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.collections", []string{})
	v.SetDefault("storage.id_field", "id")
	v.SetDefault("storage.table", "documents")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "datarepo")
	v.SetDefault("database.name", "data_repository")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "1m")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Remote API defaults
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.rate_limit", 50.0)
	v.SetDefault("remote.burst_size", 50)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.retry_delay", "1s")
	v.SetDefault("remote.max_retry_delay", "30s")
	v.SetDefault("remote.api_key_header", "X-API-Key")

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.prefix", "datarepo")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "data-repository.changes")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.group_id", "data-repository-cache")
	v.SetDefault("kafka.service_name", "data-repository-service")
	v.SetDefault("kafka.instance_id", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
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

	// Validate storage
	if c.Storage.IDField == "" {
		return fmt.Errorf("storage id_field is required")
	}
	for _, name := range c.Storage.Collections {
		if !ValidCollectionName(name) {
			return fmt.Errorf("invalid collection name: %q", name)
		}
	}
	switch strings.ToLower(c.Storage.Driver) {
	case DriverMemory:
	case DriverPostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case DriverHTTP:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("remote base_url is required for the %s driver", DriverHTTP)
		}
		if u, err := url.Parse(c.Remote.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid remote base_url: %q", c.Remote.BaseURL)
		}
		if c.Remote.RateLimit <= 0 {
			return fmt.Errorf("remote rate_limit must be positive")
		}
		if c.Remote.MaxRetries < 0 {
			return fmt.Errorf("remote max_retries must not be negative")
		}
		if c.Remote.MaxRetryDelay < 0 || c.Remote.RetryDelay < 0 {
			return fmt.Errorf("remote retry delays must not be negative")
		}
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}

	// Validate cache
	if c.Cache.Enabled {
		switch strings.ToLower(c.Cache.Backend) {
		case "memory":
		case "redis":
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis addr is required for the redis cache backend")
			}
		default:
			return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
		}
		if c.Cache.TTL <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
	}

	// Validate kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

func (c *Config) validateDatabase() error {
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
	switch c.Database.SSLMode {
	case SSLModeDisable, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
	default:
		return fmt.Errorf("invalid database ssl_mode: %s", c.Database.SSLMode)
	}
	return nil
}

// ValidCollectionName reports whether name can be used as a collection: it
// must be non-empty and usable as a single URL path segment.
func ValidCollectionName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/?#")
}
