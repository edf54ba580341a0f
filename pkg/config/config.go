package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Security SecurityConfig `mapstructure:"security"`
	Voting   VotingConfig   `mapstructure:"voting"`
	Receipts ReceiptsConfig `mapstructure:"receipts"`
	Results  ResultsConfig  `mapstructure:"results"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	API      APIConfig      `mapstructure:"api"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig holds TLS/SSL configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type         string        `mapstructure:"type"` // postgres, sqlite
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	DBName       string        `mapstructure:"dbname"`
	Path         string        `mapstructure:"path"`    // For SQLite
	SSLMode      string        `mapstructure:"sslmode"` // For PostgreSQL
	BusyTimeout  time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds Redis configuration for the result cache
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// SecurityConfig holds token verification settings
type SecurityConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

// VotingConfig holds secret code and vote recording settings
type VotingConfig struct {
	CodeMaxAttempts int           `mapstructure:"code_max_attempts"`
	LockoutDuration time.Duration `mapstructure:"lockout_duration"`
	LockWaitTimeout time.Duration `mapstructure:"lock_wait_timeout"`
	Argon2Time      uint32        `mapstructure:"argon2_time"`
	Argon2MemoryKiB uint32        `mapstructure:"argon2_memory_kib"`
	Argon2Threads   uint8         `mapstructure:"argon2_threads"`
}

// ReceiptsConfig holds the receipt signing key
type ReceiptsConfig struct {
	SigningKey string `mapstructure:"signing_key"` // hex secp256k1 private key
}

// ResultsConfig holds tally cache settings
type ResultsConfig struct {
	CacheBackend string        `mapstructure:"cache_backend"` // sql, redis
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// WorkerConfig holds the background sweeper settings
type WorkerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// APIConfig holds API-related configuration
type APIConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"` // requests per minute
	BurstLimit int           `mapstructure:"burst_limit"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CORS       CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("ELECTION")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found; use defaults and env vars
			fmt.Printf("Warning: Config file not found at %s, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./election.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.busy_timeout", "5s")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.key_prefix", "election:results:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "./logs/app.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Security defaults
	v.SetDefault("security.jwt_issuer", "election-service")
	v.SetDefault("security.jwt_expiration", "24h")

	// Voting defaults
	v.SetDefault("voting.code_max_attempts", 3)
	v.SetDefault("voting.lockout_duration", "15m")
	v.SetDefault("voting.lock_wait_timeout", "10s")
	v.SetDefault("voting.argon2_time", 1)
	v.SetDefault("voting.argon2_memory_kib", 64*1024)
	v.SetDefault("voting.argon2_threads", 2)

	// Results defaults
	v.SetDefault("results.cache_backend", "sql")
	v.SetDefault("results.cache_ttl", "5m")

	// Worker defaults
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.sweep_interval", "30s")

	// API defaults
	v.SetDefault("api.rate_limit", 100)
	v.SetDefault("api.burst_limit", 200)
	v.SetDefault("api.timeout", "30s")

	// CORS defaults
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"*"})
	v.SetDefault("api.cors.allow_credentials", true)
	v.SetDefault("api.cors.max_age", 86400)
}

// overrideWithEnvVars overrides config with specific environment variables
func overrideWithEnvVars(v *viper.Viper) {
	// Critical environment variables that should always override config
	envMappings := map[string]string{
		"DB_TYPE":             "database.type",
		"DB_HOST":             "database.host",
		"DB_NAME":             "database.dbname",
		"DB_PASSWORD":         "database.password",
		"DB_USER":             "database.user",
		"DB_PATH":             "database.path",
		"JWT_SECRET":          "security.jwt_secret",
		"RECEIPT_SIGNING_KEY": "receipts.signing_key",
		"REDIS_URL":           "redis.addr",
		"REDIS_PASSWORD":      "redis.password",
		"GIN_MODE":            "server.mode",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Security.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if len(config.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	// debug and test runs may sign receipts with an ephemeral key
	if config.Receipts.SigningKey == "" && config.IsProduction() {
		return fmt.Errorf("receipt signing key is required in release mode")
	}

	if config.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch config.Database.Type {
	case "postgres":
		if config.Database.Host == "" || config.Database.User == "" {
			return fmt.Errorf("postgres requires host and user")
		}
	case "sqlite":
		if config.Database.Path == "" {
			return fmt.Errorf("sqlite requires path")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	switch config.Results.CacheBackend {
	case "sql":
	case "redis":
		if config.Redis.Addr == "" {
			return fmt.Errorf("redis cache backend requires redis.addr")
		}
	default:
		return fmt.Errorf("unsupported results cache backend: %s", config.Results.CacheBackend)
	}

	if config.Voting.CodeMaxAttempts < 1 {
		return fmt.Errorf("voting code max attempts must be at least 1")
	}

	if config.Voting.LockoutDuration <= 0 {
		return fmt.Errorf("voting lockout duration must be positive")
	}

	if config.Results.CacheTTL <= 0 {
		config.Results.CacheTTL = 5 * time.Minute
	}

	if config.Worker.SweepInterval <= 0 {
		config.Worker.SweepInterval = 30 * time.Second
	}

	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *Config) GetDatabaseDSN() string {
	return c.Database.DSN()
}

// DSN returns the driver connection string
func (d DatabaseConfig) DSN() string {
	switch d.Type {
	case "postgres":
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, sslMode)
	case "sqlite":
		busy := d.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		// writers take the lock at BEGIN and wait on busy_timeout
		return fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_foreign_keys=on",
			d.Path, busy.Milliseconds())
	default:
		return ""
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Server.Mode == "debug" || c.Server.Mode == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "release" || c.Server.Mode == "production"
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// SanitizeForLogging returns a copy of the config with sensitive data redacted
func (c *Config) SanitizeForLogging() *Config {
	sanitized := *c

	if sanitized.Database.Password != "" {
		sanitized.Database.Password = "[REDACTED]"
	}

	if sanitized.Receipts.SigningKey != "" {
		sanitized.Receipts.SigningKey = "[REDACTED]"
	}

	if sanitized.Security.JWTSecret != "" {
		sanitized.Security.JWTSecret = "[REDACTED]"
	}

	if sanitized.Redis.Password != "" {
		sanitized.Redis.Password = "[REDACTED]"
	}

	return &sanitized
}
