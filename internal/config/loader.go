package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/errors"
	"github.com/turtacn/keyguard/pkg/logger"
)

// EnvPrefix is the prefix for environment overrides, e.g. KEYGUARD_SERVER_PORT.
const EnvPrefix = "KEYGUARD"

// setDefaults registers every default so env overrides work for keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.pprof_enabled", false)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.ip_requests_per_second", 5.0)
	v.SetDefault("server.ip_burst", 10)
	v.SetDefault("server.idempotency_ttl", "10m")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "keyguard")
	v.SetDefault("database.database", "keyguard")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "keyguard.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.session_role", "authenticated")

	v.SetDefault("backend.timeout", "3s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.key_prefix", "keyguard")

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.key_cache_ttl", "5m")

	v.SetDefault("keys.default_algorithm", string(constants.DefaultKeyAlgorithm))
	v.SetDefault("keys.default_rotation_frequency", constants.DefaultRotationFrequency.String())

	v.SetDefault("rate_limit.backend", string(constants.RateLimitBackendMemory))
	v.SetDefault("rate_limit.max_attempts", constants.MaxValidationAttempts)
	v.SetDefault("rate_limit.window", constants.ValidationWindow.String())
	v.SetDefault("rate_limit.fail_open", constants.RateLimiterFailOpen)

	v.SetDefault("validator.tier_timeout", constants.DefaultTierTimeout.String())

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", constants.DefaultSchedulerInterval.String())
	v.SetDefault("scheduler.tick_timeout", constants.DefaultTickTimeout.String())
	v.SetDefault("scheduler.auto_rotate", false)

	v.SetDefault("session.ttl", constants.DefaultSessionTTL.String())
	v.SetDefault("session.issuer", constants.ServiceName)
	v.SetDefault("session.secure_cookie", true)

	v.SetDefault("audit.kafka.enabled", false)
	v.SetDefault("audit.kafka.topic", "keyguard.audit")
	v.SetDefault("audit.kafka.write_timeout", "5s")
	v.SetDefault("audit.kafka.batch_timeout", "50ms")
	v.SetDefault("audit.kafka.required_acks", 1)

	v.SetDefault("log.level", string(constants.LogLevelInfo))
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", constants.ServiceName)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.jaeger_endpoint", "http://localhost:14268/api/traces")
}

// Loader reads configuration from defaults, an optional config file, a .env file and the environment.
type Loader struct {
	v   *viper.Viper
	log logger.Logger
}

// NewLoader creates a loader. configFile may be empty to search the default paths.
func NewLoader(configFile string, log logger.Logger) *Loader {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/keyguard/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v, log: log}
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Internal("failed to read config file", err)
		}
		l.log.Info(context.Background(), "no config file found, using defaults and environment")
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Internal("failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Watch reloads the config file on change and hands the new values to onChange.
// Only settings that are safe to change at runtime should be applied by the callback.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := l.v.Unmarshal(&cfg); err != nil {
			l.log.Error(context.Background(), "config reload failed", err, logger.String("file", e.Name))
			return
		}
		if err := cfg.Validate(); err != nil {
			l.log.Error(context.Background(), "reloaded config is invalid", err, logger.String("file", e.Name))
			return
		}
		l.log.Info(context.Background(), "config reloaded", logger.String("file", e.Name))
		onChange(&cfg)
	})
	l.v.WatchConfig()
}

// LoadConfig is a convenience wrapper around NewLoader(...).Load().
func LoadConfig(configFile string, log logger.Logger) (*Config, error) {
	return NewLoader(configFile, log).Load()
}
