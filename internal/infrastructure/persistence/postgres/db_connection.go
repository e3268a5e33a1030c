// Package postgres provides the relational database connection and the GORM implementations
// of the repository interfaces. PostgreSQL is the production store; SQLite serves local development.
package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/logger"
)

// DBConnection manages the GORM connection pool lifecycle.
type DBConnection struct {
	db     *gorm.DB
	config *config.DatabaseConfig
	logger logger.Logger
}

// NewDBConnection opens the database named by cfg.Driver, applies the pool settings,
// pings it and runs schema migration when enabled.
func NewDBConnection(ctx context.Context, cfg *config.DatabaseConfig, log logger.Logger) (*DBConnection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	log = log.WithComponent("DBConnection")

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	log.Info(ctx, "Initializing database connection",
		logger.String("driver", cfg.Driver),
		logger.String("host", cfg.Host),
		logger.String("database", cfg.Database),
	)

	db, err := Open(dialector)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	conn := &DBConnection{db: db, config: cfg, logger: log}
	if err := conn.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(ctx, db); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	log.Info(ctx, "Database connection initialized successfully")
	return conn, nil
}

// Open opens a GORM handle with the settings every repository relies on:
// translated driver errors and UTC timestamps.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the tables owned by this service.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).AutoMigrate(
		&models.SigningKey{},
		&models.KeyEvent{},
		&models.ValidationAttempt{},
		&models.AdminRoleRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// DB returns the GORM handle for repository construction.
func (c *DBConnection) DB() *gorm.DB {
	return c.db
}

// Name implements service.HealthChecker.
func (c *DBConnection) Name() string {
	return "database"
}

// Ping verifies database connectivity.
func (c *DBConnection) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	start := time.Now()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		c.logger.Error(ctx, "Database ping failed", err)
		return fmt.Errorf("database unreachable: %w", err)
	}
	if latency := time.Since(start); latency > 100*time.Millisecond {
		c.logger.Warn(ctx, "High database latency detected", logger.Duration("latency", latency))
	}
	return nil
}

// Close closes the connection pool.
func (c *DBConnection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	c.logger.Info(context.Background(), "Closing database connection pool")
	return sqlDB.Close()
}
