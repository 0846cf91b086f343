// Command trouble-reporter tails the trouble-events stream, joins package
// attributes, and prints one report line per event to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/config"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/persistence/postgres"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/reporter"
	"github.com/bkc/dell-unbounded-hackathon-2021/lib/logging"
)

type flags struct {
	uri           string
	scope         string
	run           bool
	waitForEvents bool
	databaseURL   string
	logLevel      string
}

func main() {
	opts := parseFlags()
	if !opts.run {
		fmt.Fprintln(os.Stderr, "--run is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadSettings(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "trouble-reporter")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Fatal("trouble-reporter failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts flags, cfg config.Settings, logger *zap.Logger) error {
	rdb, err := stream.Dial(cfg.RedisURI)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	streams := stream.NewClient(rdb, cfg.Scope, cfg.Tunables.ReadTimeout)

	tables, closeTables, err := openTables(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTables()

	rep, err := reporter.New(reporter.Config{
		Streams:       streams,
		Tables:        tables,
		Out:           os.Stdout,
		Logger:        logger,
		WaitForEvents: opts.waitForEvents,
	})
	if err != nil {
		return err
	}
	return rep.Run(ctx)
}

// openTables connects the shared Postgres store when a DSN is configured and
// falls back to a process-local table otherwise. Without the shared store
// every report line renders "?" attributes, so the fallback logs a warning.
func openTables(ctx context.Context, cfg config.Settings, logger *zap.Logger) (kvtable.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("no database configured, key-value tables are process-local")
		return kvtable.NewMemory(), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return postgres.NewKVStore(pool), pool.Close, nil
}

func loadSettings(opts flags) (config.Settings, error) {
	base, err := config.Load("")
	if err != nil {
		return config.Settings{}, err
	}
	cfg := config.Apply(base,
		config.WithRedisURI(opts.uri),
		config.WithScope(opts.scope),
		config.WithPostgresDSN(opts.databaseURL),
		config.WithLogLevel(opts.logLevel))
	if err := cfg.Validate(); err != nil {
		return config.Settings{}, err
	}
	return cfg, nil
}

func parseFlags() flags {
	var opts flags
	flag.StringVar(&opts.uri, "uri", "", "Redis URI (default redis://127.0.0.1:6379)")
	flag.StringVar(&opts.scope, "scope", "", "Stream namespace (default tracking)")
	flag.BoolVar(&opts.run, "run", false, "Run the trouble reporter")
	flag.BoolVar(&opts.waitForEvents, "wait_for_events", false,
		"Keep an empty trouble stream open until the first record arrives")
	flag.StringVar(&opts.databaseURL, "database_url", "", "PostgreSQL DSN for the key-value tables (default $DATABASE_URL)")
	flag.StringVar(&opts.logLevel, "log_level", "", "Log threshold: debug, info, warn or error")
	flag.Parse()
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
