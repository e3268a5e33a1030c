// Package router assembles the gin engine of the admin API.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/interfaces/http/handlers"
	"github.com/turtacn/keyguard/internal/interfaces/http/middleware"
	"github.com/turtacn/keyguard/pkg/constants"
	"github.com/turtacn/keyguard/pkg/logger"
)

// Deps are the collaborators the routes are wired to.
type Deps struct {
	Health     *handlers.HealthHandler
	Admin      *handlers.AdminHandler
	Keys       *handlers.KeyHandler
	Sessions   middleware.SessionAuthenticator
	Authorizer middleware.RoleAuthorizer
	// IPLimiter throttles validate-admin per client IP; nil disables it.
	IPLimiter  middleware.IPLimiter
	// Redis backs the Idempotency-Key check; nil disables it.
	Redis      redis.UniversalClient
	KeyPrefix  string
	Tracer     trace.Tracer
	Metrics    middleware.HTTPMetrics
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer   prometheus.Gatherer
}

// CookieFor derives the session cookie settings from the session config.
func CookieFor(session *config.SessionConfig) middleware.CookieConfig {
	return middleware.CookieConfig{MaxAgeSeconds: int(session.TTL / time.Second), Secure: session.Secure}
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	config *config.ServerConfig
	cookie middleware.CookieConfig
	deps   Deps
	logger logger.Logger
	server *http.Server
}

// NewRouter 创建路由器
func NewRouter(cfg *config.ServerConfig, session *config.SessionConfig, deps Deps, log logger.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		engine: gin.New(),
		config: cfg,
		cookie: CookieFor(session),
		deps:   deps,
		logger: log.WithComponent("Router"),
	}
	r.setupRoutes()
	r.server = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        r.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	if r.deps.Tracer != nil {
		r.engine.Use(middleware.Observability(r.deps.Tracer, r.deps.Metrics, r.logger))
	}

	allowAll := len(r.config.AllowedOrigins) == 0 || (len(r.config.AllowedOrigins) == 1 && r.config.AllowedOrigins[0] == "*")
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", middleware.IdempotencyKeyHeader},
		ExposeHeaders:    []string{"X-Request-ID", "Retry-After", constants.SessionTokenHeader},
		AllowCredentials: !allowAll,
		MaxAge:           12 * time.Hour,
	}
	if allowAll {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = r.config.AllowedOrigins
	}
	r.engine.Use(cors.New(corsConfig))

	// 健康检查路由（不需要认证）
	r.engine.GET("/health/live", r.deps.Health.Live)
	r.engine.GET("/health/ready", r.deps.Health.Ready)

	gatherer := r.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if r.config.PprofEnabled {
		pprof.Register(r.engine)
	}

	api := r.engine.Group("/api")

	// validate-admin resolves the session itself when no header or cookie is present.
	api.POST("/auth/validate-admin",
		middleware.IPThrottle(r.deps.IPLimiter, r.logger),
		middleware.SessionAuth(r.deps.Sessions, r.cookie, false, r.logger),
		r.deps.Admin.ValidateAdmin,
	)

	admin := api.Group("/admin")
	admin.Use(
		middleware.SessionAuth(r.deps.Sessions, r.cookie, true, r.logger),
		middleware.RequireAdmin(r.deps.Authorizer, r.logger),
	)
	{
		admin.GET("/keys/status", middleware.ETag(), r.deps.Keys.Status)
		admin.GET("/key-events", middleware.ETag(), r.deps.Keys.Events)

		writes := admin.Group("")
		writes.Use(middleware.Idempotency(r.deps.Redis, r.deps.KeyPrefix, r.config.IdempotencyTTL, r.logger))
		writes.POST("/keys", r.deps.Keys.Add)
		writes.POST("/keys/:keyId/rotate", r.deps.Keys.Rotate)
		writes.POST("/keys/:keyId/current", r.deps.Keys.MakeCurrent)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Start 启动 HTTP 服务器，阻塞直到 Stop 被调用。
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.config.Addr()))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
