package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/keyguard/internal/app"
	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/infrastructure/monitoring"
	"github.com/turtacn/keyguard/internal/interfaces/http/handlers"
	"github.com/turtacn/keyguard/internal/interfaces/http/router"
	"github.com/turtacn/keyguard/pkg/logger"
)

// sweepInterval is how often idle per-IP buckets and memory limiter windows are dropped.
const sweepInterval = time.Minute

func main() {
	// Logger for startup
	startupLogger, _ := monitoring.NewZapLogger(&config.LogConfig{Level: "info"})

	loader := config.NewLoader(os.Getenv("KEYGUARD_CONFIG_FILE"), startupLogger)
	cfg, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Only the log level is applied on reload; everything else needs a restart.
	loader.Watch(func(next *config.Config) {
		if monitoring.SetLevel(appLogger, next.Log.Level) {
			appLogger.Info(context.Background(), "log level changed", logger.String("level", next.Log.Level))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize service", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			appLogger.Error(context.Background(), "Failed to release resources", err)
		}
	}()

	cookie := router.CookieFor(&cfg.Session)
	r := router.NewRouter(&cfg.Server, &cfg.Session, router.Deps{
		Health:     handlers.NewHealthHandler(c.Checkers, cfg.Backend.Timeout, appLogger),
		Admin:      handlers.NewAdminHandler(c.Validator, c.Sessions, cookie, appLogger),
		Keys:       handlers.NewKeyHandler(c.KeyStore, c.Audit, c.Sessions, cookie, appLogger),
		Sessions:   c.Sessions,
		Authorizer: c.Validator,
		IPLimiter:  c.IPLimiter,
		Redis:      redisClient(c),
		KeyPrefix:  cfg.Redis.KeyPrefix,
		Tracer:     c.Tracing.Tracer(),
		Metrics:    c.Metrics,
		Gatherer:   c.Registry,
	}, appLogger)

	if cfg.Scheduler.Enabled {
		if err := c.Scheduler.Start(ctx); err != nil {
			appLogger.Fatal(ctx, "Failed to start rotation scheduler", err)
		}
		defer c.Scheduler.Stop()
	} else if _, err := c.Scheduler.EnsureBootstrap(ctx); err != nil {
		appLogger.Fatal(ctx, "Failed to bootstrap signing key", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(r.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return r.Stop(shutdownCtx)
	})
	g.Go(func() error {
		sweep(gctx, c, appLogger)
		return nil
	})

	if err := g.Wait(); err != nil {
		appLogger.Error(context.Background(), "Server stopped with error", err)
		return
	}
	appLogger.Info(context.Background(), "Server stopped")
}

func sweep(ctx context.Context, c *app.Container, log logger.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			buckets := c.IPLimiter.Cleanup(10 * sweepInterval)
			windows := 0
			if c.MemoryLimiter != nil {
				windows = c.MemoryLimiter.Sweep(c.Config.RateLimit.Window)
			}
			if buckets > 0 || windows > 0 {
				log.Debug(ctx, "rate limit state swept", logger.Int("buckets", buckets), logger.Int("windows", windows))
			}
		}
	}
}

// redisClient returns nil when Redis is disabled so the idempotency check turns off.
func redisClient(c *app.Container) redis.UniversalClient {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.GetClient()
}
