// Package store is the run store: durable runs/activities persistence
// with transactional, per-run monotonic seq allocation.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/replicatedhq/chartsmith/pkg/logger"
)

type PostgresOpts struct {
	URI string
}

var (
	connStr string
	pool    *pgxpool.Pool
)

func InitPostgres(opts PostgresOpts) error {
	if opts.URI == "" {
		return fmt.Errorf("postgres URI is required")
	}

	conn, err := pgx.Connect(context.Background(), opts.URI)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer conn.Close(context.Background())
	connStr = opts.URI

	poolConfig, err := pgxpool.ParseConfig(opts.URI)
	if err != nil {
		return fmt.Errorf("failed to parse postgres URI: %w", err)
	}

	poolConfig.MaxConns = 30
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 15 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	logger.Info("initializing run store connection pool",
		zap.Int32("max_conns", poolConfig.MaxConns))

	pool, err = pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}

	go monitorPoolHealth()

	return nil
}

// URI returns the connection string used to init the pool, for components
// (the LISTEN/NOTIFY dispatcher) that need their own dedicated connection
// rather than one borrowed from the pool.
func URI() string {
	return connStr
}

func MustGetPooledSession() *pgxpool.Conn {
	if pool == nil {
		panic("run store pool is not initialized")
	}

	var conn *pgxpool.Conn
	var err error

	for attempt := 1; attempt <= 3; attempt++ {
		timeout := time.Duration(attempt) * 5 * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		conn, err = pool.Acquire(ctx)
		cancel()
		if err == nil {
			return conn
		}
		logger.Warn("failed to acquire run store connection", zap.Int("attempt", attempt))
		time.Sleep(time.Duration(attempt*100) * time.Millisecond)
	}

	panic("failed to acquire from run store pool: " + err.Error())
}

// monitorPoolHealth periodically logs pool stats and exercises a canary
// query to catch a silently-stuck pool.
func monitorPoolHealth() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if pool == nil {
			continue
		}

		stats := pool.Stat()
		logger.Debug("run store pool health",
			zap.Int32("total", stats.TotalConns()),
			zap.Int32("acquired", stats.AcquiredConns()),
			zap.Int32("idle", stats.IdleConns()))

		if stats.AcquiredConns() > stats.MaxConns()*80/100 {
			logger.Warn("run store pool nearing saturation",
				zap.Int32("acquired", stats.AcquiredConns()),
				zap.Int32("max", stats.MaxConns()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err := pool.Acquire(ctx)
		if err != nil {
			logger.Error(fmt.Errorf("health check failed to acquire connection: %w", err))
			cancel()
			continue
		}
		var result int
		err = conn.QueryRow(ctx, "SELECT 1").Scan(&result)
		conn.Release()
		cancel()
		if err != nil {
			logger.Error(fmt.Errorf("health check query failed: %w", err))
		}
	}
}
