package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/isdmx/sqlbox/sandbox"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Metastore MetastoreConfig `mapstructure:"metastore"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Problems  ProblemsConfig  `mapstructure:"problems"`
	Lock      LockConfig      `mapstructure:"lock"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds MCP server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
}

// PostgresConfig holds the relational store connection settings
type PostgresConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSec int    `mapstructure:"max_conn_lifetime_sec"`
	ApplicationName    string `mapstructure:"application_name"`
}

// MetastoreConfig holds the SQLite metastore location
type MetastoreConfig struct {
	Path string `mapstructure:"path"`
}

// SandboxConfig holds provisioning and execution settings
type SandboxConfig struct {
	TimeoutMS           int     `mapstructure:"timeout_ms"`
	SchemaPrefix        string  `mapstructure:"schema_prefix"`
	MaxIdentifierLength int     `mapstructure:"max_identifier_length"`
	ParserCheck         bool    `mapstructure:"parser_check"`
	RateLimitPerSec     float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst      int     `mapstructure:"rate_limit_burst"`
	MaxRows             int     `mapstructure:"max_rows"`
}

// ProblemsConfig holds the problem set location
type ProblemsConfig struct {
	Path string `mapstructure:"path"`
}

// LockConfig holds the provisioning lock backend settings
type LockConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSec        int    `mapstructure:"ttl_sec"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EnvPrefix is prepended to every environment override, e.g.
// SQLBOX_POSTGRES_DSN for postgres.dsn.
const EnvPrefix = "SQLBOX"

// New loads and validates the application configuration
func New() (*Config, error) {
	return Load(viper.New())
}

// Load reads the configuration through v. A .env file in the working
// directory is loaded into the environment first when present.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime_sec", 1800)
	v.SetDefault("postgres.application_name", "sqlbox")

	v.SetDefault("metastore.path", "sqlbox.db")

	v.SetDefault("sandbox.timeout_ms", 5000)
	v.SetDefault("sandbox.schema_prefix", sandbox.DefaultSchemaPrefix)
	v.SetDefault("sandbox.max_identifier_length", sandbox.DefaultMaxIdentifierLength)
	v.SetDefault("sandbox.parser_check", true)
	v.SetDefault("sandbox.rate_limit_per_sec", 0)
	v.SetDefault("sandbox.rate_limit_burst", 5)
	v.SetDefault("sandbox.max_rows", sandbox.DefaultMaxRows)

	v.SetDefault("problems.path", "problems.yaml")

	v.SetDefault("lock.backend", "none")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.redis_password", "")
	v.SetDefault("lock.redis_db", 0)
	v.SetDefault("lock.ttl_sec", 30)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}

	if c.Postgres.MaxConns <= 0 {
		return fmt.Errorf("postgres.max_conns must be positive, got: %d", c.Postgres.MaxConns)
	}

	if c.Postgres.MinConns < 0 || c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres.min_conns must be between 0 and max_conns, got: %d", c.Postgres.MinConns)
	}

	if c.Metastore.Path == "" {
		return errors.New("metastore.path is required")
	}

	if c.Sandbox.TimeoutMS <= 0 {
		return fmt.Errorf("sandbox.timeout_ms must be positive, got: %d", c.Sandbox.TimeoutMS)
	}

	if c.Sandbox.MaxIdentifierLength < sandbox.MinIdentifierLength || c.Sandbox.MaxIdentifierLength > sandbox.DefaultMaxIdentifierLength {
		return fmt.Errorf("sandbox.max_identifier_length must be between %d and %d, got: %d",
			sandbox.MinIdentifierLength, sandbox.DefaultMaxIdentifierLength, c.Sandbox.MaxIdentifierLength)
	}

	if err := sandbox.ValidatePrefix(c.Sandbox.SchemaPrefix, c.Sandbox.MaxIdentifierLength); err != nil {
		return fmt.Errorf("invalid sandbox.schema_prefix: %w", err)
	}

	if c.Sandbox.RateLimitPerSec < 0 {
		return fmt.Errorf("sandbox.rate_limit_per_sec must not be negative, got: %v", c.Sandbox.RateLimitPerSec)
	}

	if c.Sandbox.MaxRows < 0 {
		return fmt.Errorf("sandbox.max_rows must not be negative, got: %d", c.Sandbox.MaxRows)
	}

	switch c.Lock.Backend {
	case "none":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return errors.New("lock.redis_addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unsupported lock.backend: %s, must be 'none' or 'redis'", c.Lock.Backend)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutMS) * time.Millisecond
}

// PoolConfig returns the relational store pool settings.
func (c *Config) PoolConfig() sandbox.PoolConfig {
	return sandbox.PoolConfig{
		DSN:             c.Postgres.DSN,
		MaxConns:        c.Postgres.MaxConns,
		MinConns:        c.Postgres.MinConns,
		MaxConnLifetime: time.Duration(c.Postgres.MaxConnLifetimeSec) * time.Second,
		ApplicationName: c.Postgres.ApplicationName,
		MaxRows:         c.Sandbox.MaxRows,
	}
}

// EngineConfig returns the provisioning and execution settings.
func (c *Config) EngineConfig() sandbox.Config {
	return sandbox.Config{
		TimeoutMS:           c.Sandbox.TimeoutMS,
		SchemaPrefix:        c.Sandbox.SchemaPrefix,
		MaxIdentifierLength: c.Sandbox.MaxIdentifierLength,
		ParserCheck:         c.Sandbox.ParserCheck,
		RateLimitPerSec:     c.Sandbox.RateLimitPerSec,
		RateLimitBurst:      c.Sandbox.RateLimitBurst,
	}
}
