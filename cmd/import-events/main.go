// Command import-events routes a JSON-lines event feed into the per-center
// input streams. With the purge flags it clears previous run state first.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/config"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/admin"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/importer"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/persistence/postgres"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/lib/logging"
)

const stdinMarker = "-"

type flags struct {
	uri         string
	scope       string
	importFile  string
	purgeScope  bool
	purgeRedis  bool
	databaseURL string
	logLevel    string
}

func main() {
	opts := parseFlags()
	if opts.importFile == "" && !opts.purgeScope && !opts.purgeRedis {
		fmt.Fprintln(os.Stderr, "nothing to do: provide --import_file and/or a purge flag")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadSettings(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "import-events")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Fatal("import-events failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts flags, cfg config.Settings, logger *zap.Logger) error {
	rdb, err := stream.Dial(cfg.RedisURI)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	streams := stream.NewClient(rdb, cfg.Scope, cfg.Tunables.ReadTimeout)
	store := coord.New(rdb, cfg.Scope)

	tables, closeTables, err := openTables(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTables()

	if opts.purgeScope || opts.purgeRedis {
		purger, err := admin.NewPurger(streams, tables, store, logger)
		if err != nil {
			return err
		}
		if opts.purgeScope {
			if err := purger.PurgeScope(ctx); err != nil {
				return err
			}
		}
		if opts.purgeRedis {
			if err := purger.PurgeCoordination(ctx); err != nil {
				return err
			}
		}
	}

	if opts.importFile == "" {
		return nil
	}

	input, closeInput, err := openInput(opts.importFile)
	if err != nil {
		return err
	}
	defer closeInput()

	imp, err := importer.New(streams, logger)
	if err != nil {
		return err
	}
	res, err := imp.Run(ctx, input)
	if err != nil {
		return err
	}
	logger.Info("import finished",
		zap.Int64("events", res.Events),
		zap.Int("sentinels", res.Sentinels),
		zap.Int64("last_event_time", res.LastEventTime))
	return nil
}

// openTables connects the shared Postgres store when a DSN is configured and
// falls back to a process-local table otherwise. The fallback keeps purge
// runs working without a database; its contents are not shared across
// processes.
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

func openInput(path string) (io.Reader, func(), error) {
	if path == stdinMarker {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open import file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
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
	flag.StringVar(&opts.importFile, "import_file", "", "JSON-lines file to import (- = stdin)")
	flag.BoolVar(&opts.purgeScope, "purge_scope", false, "Delete all streams and tables in the scope before importing")
	flag.BoolVar(&opts.purgeRedis, "purge_redis", false, "Delete the shared coordination keys before importing")
	flag.StringVar(&opts.databaseURL, "database_url", "", "PostgreSQL DSN for the key-value tables (default $DATABASE_URL)")
	flag.StringVar(&opts.logLevel, "log_level", "", "Log threshold: debug, info, warn or error")
	flag.Parse()
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
