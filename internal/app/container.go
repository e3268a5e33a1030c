// Package app wires the keyguard components from configuration. The server and the
// keyctl CLI build the same container so both act on one key set.
// Package app 根据配置装配 keyguard 组件，服务端与 keyctl 命令行共用同一套装配。
package app

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/turtacn/keyguard/internal/application"
	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/repository"
	"github.com/turtacn/keyguard/internal/domain/service"
	"github.com/turtacn/keyguard/internal/infrastructure/audit"
	"github.com/turtacn/keyguard/internal/infrastructure/crypto"
	"github.com/turtacn/keyguard/internal/infrastructure/kms"
	"github.com/turtacn/keyguard/internal/infrastructure/monitoring"
	"github.com/turtacn/keyguard/internal/infrastructure/persistence/memory"
	"github.com/turtacn/keyguard/internal/infrastructure/persistence/postgres"
	redisstore "github.com/turtacn/keyguard/internal/infrastructure/persistence/redis"
	"github.com/turtacn/keyguard/internal/infrastructure/ratelimit"
	"github.com/turtacn/keyguard/internal/infrastructure/rpc"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// RoleWriter assigns roles; used for bootstrap admins and keyctl grant-admin.
type RoleWriter interface {
	SetRole(ctx context.Context, userID, role string) error
}

// Container holds every wired component. Fields for optional dependencies are nil
// when the dependency is disabled.
type Container struct {
	Config   *config.Config
	Logger   logger.Logger
	Registry *prometheus.Registry
	Metrics  *monitoring.Metrics
	Tracing  *monitoring.TracingManager

	DB      *postgres.DBConnection
	Redis   *redisstore.RedisConnection
	Backend *rpc.Client

	Audit     *application.AuditLogService
	KeyStore  *application.KeyStore
	Sessions  *application.SessionService
	Validator *application.AdminValidator
	Scheduler *application.RotationScheduler
	Roles     RoleWriter

	Limiter       service.RateLimiter
	IPLimiter     *ratelimit.TokenBucketPool
	MemoryLimiter *ratelimit.MemoryRateLimiter

	Checkers []service.HealthChecker
	closers  []func() error
}

type stores struct {
	keys     repository.KeyRepository
	events   repository.KeyEventRepository
	attempts repository.AttemptRepository
	primary  repository.RoleRepository
	tertiary repository.RoleRepository
	roles    RoleWriter
}

// New builds the container. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: log}
	if err := c.build(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context) error {
	cfg, log := c.Config, c.Logger
	var err error

	clock := service.SystemClock{}

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = monitoring.NewMetrics(c.Registry)

	if c.Tracing, err = monitoring.NewTracingManager(&cfg.Tracing, log); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	c.closers = append(c.closers, func() error { return c.Tracing.Shutdown(context.Background()) })

	st, err := c.openStores(ctx)
	if err != nil {
		return err
	}

	if err := c.openBackend(ctx); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		if c.Redis, err = redisstore.NewRedisConnection(ctx, &cfg.Redis, log); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		c.closers = append(c.closers, c.Redis.Close)
		c.Checkers = append(c.Checkers, c.Redis)
	}

	material, err := c.openMaterial()
	if err != nil {
		return err
	}

	var sink service.AuditSink
	if cfg.Audit.Kafka.Enabled {
		kafkaSink := audit.NewKafkaSink(cfg.Audit.Kafka, log)
		c.closers = append(c.closers, kafkaSink.Close)
		sink = kafkaSink
	}

	c.Audit = application.NewAuditLogService(st.events, st.attempts, audit.NewHMACSigner(cfg.Audit.HMACSecret),
		sink, clock, c.Metrics, log)
	c.KeyStore = application.NewKeyStore(st.keys, material, c.Audit, clock, c.Metrics, application.KeyDefaults{
		Algorithm:         constants.KeyAlgorithm(cfg.Keys.DefaultAlgorithm),
		RotationFrequency: cfg.Keys.DefaultRotationFrequency,
	}, log)

	var sessionStore service.SessionStore = memory.NewSessionStore()
	if c.Redis != nil {
		sessionStore = redisstore.NewSessionStore(c.Redis.GetClient(), cfg.Redis.KeyPrefix)
	}
	c.Sessions = application.NewSessionService(c.KeyStore, crypto.NewJWTManager(cfg.Session.Issuer, clock),
		sessionStore, clock, cfg.Session.TTL, c.Metrics, log)
	c.KeyStore.AttachSessionRefresher(c.Sessions)

	limiter, err := c.buildLimiter(clock)
	if err != nil {
		return err
	}
	c.Limiter = limiter

	c.Validator = application.NewAdminValidator(limiter, c.buildTiers(st), c.Audit, clock, c.Metrics,
		application.ValidatorConfig{
			MaxAttempts: cfg.RateLimit.MaxAttempts,
			Window:      cfg.RateLimit.Window,
			TierTimeout: cfg.Validator.TierTimeout,
			FailOpen:    cfg.RateLimit.FailOpen,
		}, log)

	c.Scheduler = application.NewRotationScheduler(c.KeyStore, nil, clock, c.Metrics, application.SchedulerConfig{
		Interval:    cfg.Scheduler.Interval,
		TickTimeout: cfg.Scheduler.TickTimeout,
		AutoRotate:  cfg.Scheduler.AutoRotate,
	}, log)

	c.IPLimiter = ratelimit.NewTokenBucketPool(ratelimit.TokenBucketConfig{
		Rate:  cfg.Server.IPRequestsPerSecond,
		Burst: cfg.Server.IPBurst,
		Clock: clock,
	})

	c.Roles = st.roles
	for _, userID := range cfg.Validator.BootstrapAdmins {
		if err := c.Roles.SetRole(ctx, userID, constants.AdminRole); err != nil {
			return fmt.Errorf("grant bootstrap admin %s: %w", userID, err)
		}
	}
	return nil
}

func (c *Container) openStores(ctx context.Context) (*stores, error) {
	cfg := c.Config
	if cfg.Database.Driver == "memory" {
		c.Logger.Warn(ctx, "using in-memory storage; keys and audit events are lost on restart")
		roles := memory.NewRoleRepository(nil)
		return &stores{
			keys:     memory.NewKeyRepository(),
			events:   memory.NewKeyEventRepository(),
			attempts: memory.NewAttemptRepository(),
			primary:  roles,
			roles:    roles,
		}, nil
	}

	db, err := postgres.NewDBConnection(ctx, &cfg.Database, c.Logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)
	c.Checkers = append(c.Checkers, db)

	privileged := postgres.NewPrivilegedRoleRepository(db.DB())
	return &stores{
		keys:     postgres.NewKeyRepository(db.DB()),
		events:   postgres.NewKeyEventRepository(db.DB()),
		attempts: postgres.NewAttemptRepository(db.DB()),
		primary:  privileged,
		tertiary: postgres.NewSessionRoleRepository(db.DB(), cfg.Database.SessionRole),
		roles:    privileged,
	}, nil
}

// openBackend connects to the database exposing is_admin and is_rate_limited. It is
// only available on PostgreSQL.
func (c *Container) openBackend(ctx context.Context) error {
	cfg := c.Config
	dsn := cfg.Backend.DSN
	if dsn == "" && cfg.Database.Driver == "postgres" {
		dsn = cfg.Database.GetDSN()
	}
	if dsn == "" {
		return nil
	}

	client, err := rpc.Open(ctx, dsn, cfg.Backend.Timeout, c.Logger)
	if err != nil {
		return fmt.Errorf("connect backend: %w", err)
	}
	c.Backend = client
	c.closers = append(c.closers, client.Close)
	c.Checkers = append(c.Checkers, client)

	if cfg.Database.AutoMigrate {
		if err := client.EnsureFunctions(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) openMaterial() (service.KeyMaterialProvider, error) {
	cfg := c.Config
	if !cfg.Vault.Enabled {
		if cfg.Database.Driver != "memory" {
			c.Logger.Warn(context.Background(), "vault disabled; key material is held in process memory only")
		}
		return kms.NewLocalProvider(), nil
	}
	client, err := kms.NewVaultClient(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	provider := kms.NewVaultProvider(cfg.Vault, client, c.Logger)
	c.Checkers = append(c.Checkers, provider)
	return provider, nil
}

func (c *Container) buildLimiter(clock service.Clock) (service.RateLimiter, error) {
	switch constants.RateLimitBackend(c.Config.RateLimit.Backend) {
	case constants.RateLimitBackendRedis:
		if c.Redis == nil {
			return nil, fmt.Errorf("redis rate limiter requires redis.enabled")
		}
		return ratelimit.NewRedisRateLimiter(c.Redis.GetClient(), c.Config.Redis.KeyPrefix, clock, c.Logger), nil
	case constants.RateLimitBackendPostgres:
		if c.Backend == nil {
			return nil, fmt.Errorf("postgres rate limiter requires a postgres backend")
		}
		return ratelimit.NewPostgresRateLimiter(c.Backend), nil
	default:
		c.MemoryLimiter = ratelimit.NewMemoryRateLimiter(clock)
		return c.MemoryLimiter, nil
	}
}

// buildTiers orders the admin lookups: the service's own role read, the is_admin
// function, then the read under the restricted session role.
func (c *Container) buildTiers(st *stores) []service.RoleTier {
	tiers := []service.RoleTier{application.NewRepositoryTier(constants.TierPrimary, st.primary)}
	if c.Backend != nil {
		tiers = append(tiers, application.NewCheckerTier(constants.TierSecondary, c.Backend))
	}
	if st.tertiary != nil {
		tiers = append(tiers, application.NewRepositoryTier(constants.TierTertiary, st.tertiary))
	}
	return tiers
}

type limitResetter interface {
	ResetLimit(ctx context.Context, userID string) error
}

// ResetLimit clears the validate-admin window of userID on the configured backend.
func (c *Container) ResetLimit(ctx context.Context, userID string) error {
	r, ok := c.Limiter.(limitResetter)
	if !ok {
		return fmt.Errorf("rate limiter %T cannot be reset", c.Limiter)
	}
	return r.ResetLimit(ctx, userID)
}

// Close releases every opened dependency in reverse order.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return stderrors.Join(errs...)
}
