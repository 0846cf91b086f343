// Package migrations wires golang-migrate execution for the tracker's
// persistence layer. Migrations ship embedded in the binary.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/bkc/dell-unbounded-hackathon-2021/db/migrations"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/telemetry"
	libtelemetry "github.com/bkc/dell-unbounded-hackathon-2021/lib/telemetry"
)

var (
	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply runs every pending migration against the Postgres instance reachable
// via dsn. A nil logger disables informational logging.
func Apply(ctx context.Context, dsn string, logger *log.Logger) error {
	m, closeMigrator, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer closeMigrator()

	if logger != nil {
		logger.Printf("running database migrations")
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop")
			if logger != nil {
				logger.Printf("database migrations up-to-date")
			}
			return nil
		}
		recordMigrationMetric(ctx, "failed")
		return fmt.Errorf("apply migrations: %w", err)
	}

	if logger != nil {
		logger.Printf("database migrations applied successfully")
	}
	recordMigrationMetric(ctx, "applied")
	return nil
}

// Rollback undoes the given number of most recent migrations.
func Rollback(ctx context.Context, dsn string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive, got %d", steps)
	}

	m, closeMigrator, err := newMigrator(ctx, dsn, logger)
	if err != nil {
		return err
	}
	defer closeMigrator()

	if logger != nil {
		logger.Printf("rolling back %d migration(s)", steps)
	}

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop")
			if logger != nil {
				logger.Printf("no migrations to roll back")
			}
			return nil
		}
		recordMigrationMetric(ctx, "failed")
		return fmt.Errorf("rollback migrations: %w", err)
	}

	if logger != nil {
		logger.Printf("database migrations rolled back")
	}
	recordMigrationMetric(ctx, "rolled_back")
	return nil
}

func newMigrator(ctx context.Context, dsn string, logger *log.Logger) (*migrate.Migrate, func(), error) {
	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return nil, nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = source.Close()
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		_ = source.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	closeMigrator := func() {
		sourceErr, dbErr := m.Close()
		if logger == nil {
			return
		}
		if sourceErr != nil {
			logger.Printf("database migrations source close: %v", sourceErr)
		}
		if dbErr != nil {
			logger.Printf("database migrations db close: %v", dbErr)
		}
	}
	return m, closeMigrator, nil
}

func recordMigrationMetric(ctx context.Context, result string) {
	migrationsCounterMu.Do(func() {
		meter := otel.Meter("persistence.migrations")
		counter, err := meter.Int64Counter("tracker_db_migrations_total",
			metric.WithDescription("Total migrations executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(libtelemetry.Environment()),
		telemetry.AttrResult.String(result),
	))
}
