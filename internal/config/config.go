package config

import (
	"fmt"
	"time"

	"github.com/turtacn/keyguard/pkg/constants"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Keys      KeysConfig      `mapstructure:"keys"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Session   SessionConfig   `mapstructure:"session"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	PprofEnabled    bool          `mapstructure:"pprof_enabled"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	// IPRequestsPerSecond throttles validate-admin per client IP before the principal limiter runs.
	IPRequestsPerSecond float64 `mapstructure:"ip_requests_per_second"`
	IPBurst             int     `mapstructure:"ip_burst"`
	// IdempotencyTTL is how long an Idempotency-Key on key operations is remembered.
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig describes the relational store. Driver is one of postgres, sqlite or memory.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	// SessionRole is the restricted role the tertiary lookup runs as (SET ROLE).
	SessionRole string `mapstructure:"session_role"`
}

// GetDSN builds the postgres connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// BackendConfig points at the database exposing the RPC functions (is_admin, is_rate_limited, ...).
// An empty DSN reuses the main database settings.
type BackendConfig struct {
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type VaultConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"`
	Token       string        `mapstructure:"token"`
	MountPath   string        `mapstructure:"mount_path"`
	KeyCacheTTL time.Duration `mapstructure:"key_cache_ttl"`
}

type KeysConfig struct {
	DefaultAlgorithm         string        `mapstructure:"default_algorithm"`
	DefaultRotationFrequency time.Duration `mapstructure:"default_rotation_frequency"`
}

type RateLimitConfig struct {
	Backend     string        `mapstructure:"backend"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
	FailOpen    bool          `mapstructure:"fail_open"`
}

type ValidatorConfig struct {
	TierTimeout time.Duration `mapstructure:"tier_timeout"`
	// BootstrapAdmins are granted the admin role at startup.
	BootstrapAdmins []string `mapstructure:"bootstrap_admins"`
}

type SchedulerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	TickTimeout time.Duration `mapstructure:"tick_timeout"`
	AutoRotate  bool          `mapstructure:"auto_rotate"`
}

type SessionConfig struct {
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
	Secure bool          `mapstructure:"secure_cookie"`
}

type AuditConfig struct {
	HMACSecret string      `mapstructure:"hmac_secret"`
	Kafka      KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres, sqlite or memory, got %q", c.Database.Driver)
	}
	switch constants.RateLimitBackend(c.RateLimit.Backend) {
	case constants.RateLimitBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("rate_limit.backend=redis requires redis.enabled")
		}
	case constants.RateLimitBackendPostgres:
		if c.Database.Driver != "postgres" && c.Backend.DSN == "" {
			return fmt.Errorf("rate_limit.backend=postgres requires a postgres backend")
		}
	case constants.RateLimitBackendMemory:
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	if !constants.KeyAlgorithm(c.Keys.DefaultAlgorithm).Valid() {
		return fmt.Errorf("keys.default_algorithm %q is not supported", c.Keys.DefaultAlgorithm)
	}
	if c.RateLimit.MaxAttempts <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.max_attempts and rate_limit.window must be positive")
	}
	if c.Scheduler.Interval <= 0 || c.Scheduler.TickTimeout <= 0 {
		return fmt.Errorf("scheduler.interval and scheduler.tick_timeout must be positive")
	}
	if c.Audit.HMACSecret == "" {
		return fmt.Errorf("audit.hmac_secret is required")
	}
	return nil
}
