// Package postgres implements the keyed-table store on PostgreSQL. Every
// logical table shares one relation; documents are stored as JSONB.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const connectPingTimeout = 5 * time.Second

// Connect opens a pgx pool for the given DSN, verifies connectivity, and
// registers pool health gauges.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("postgres: dsn required")
	}
	pool, err := pgxpool.New(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	ObservePoolMetrics(pool, "primary")
	return pool, nil
}
