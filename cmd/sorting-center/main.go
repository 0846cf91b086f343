// Command sorting-center runs the event pipeline for one sorting center, or
// for all four in one process. With --package_id it instead replays a single
// package's events from the input stream for debugging.
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
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/persistence/postgres"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/pipeline"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
	"github.com/bkc/dell-unbounded-hackathon-2021/lib/logging"
	"github.com/bkc/dell-unbounded-hackathon-2021/lib/telemetry"
)

// allCenters runs one worker per center inside this process.
const allCenters = "all"

type flags struct {
	uri                string
	scope              string
	centerCode         string
	run                bool
	maxEventCount      int64
	waitForEvents      bool
	reportLostPackages bool
	markEventFrequency int64
	packageID          string
	databaseURL        string
	logLevel           string
}

func main() {
	opts := parseFlags()
	if opts.centerCode == "" || (!opts.run && opts.packageID == "") {
		fmt.Fprintln(os.Stderr, "provide --sorting_center_code with --run or --package_id")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := loadSettings(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, "sorting-center")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, opts, cfg, logger); err != nil {
		logger.Fatal("sorting-center failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts flags, cfg config.Settings, logger *zap.Logger) error {
	rdb, err := stream.Dial(cfg.RedisURI)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	streams := stream.NewClient(rdb, cfg.Scope, cfg.Tunables.ReadTimeout)

	if opts.packageID != "" && !opts.run {
		return extractPackage(ctx, streams, opts)
	}

	_, shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		OTLPEndpoint: cfg.OTLPEndpoint,
		ServiceName:  "sorting-center",
		Environment:  cfg.Environment,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	tables, closeTables, err := openTables(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTables()

	base := pipeline.Config{
		Streams:            streams,
		Tables:             tables,
		Coord:              coord.New(rdb, cfg.Scope),
		Trouble:            pipeline.NewStreamTroublePublisher(streams, logger),
		Tunables:           cfg.Tunables,
		Logger:             logger,
		WaitForEvents:      opts.waitForEvents,
		ReportLostPackages: opts.reportLostPackages,
		MaxEventCount:      opts.maxEventCount,
		MarkEventFrequency: opts.markEventFrequency,
	}

	if opts.centerCode == allCenters {
		return pipeline.RunAll(ctx, base)
	}

	base.Center = schema.CenterCode(opts.centerCode)
	worker, err := pipeline.NewWorker(base)
	if err != nil {
		return err
	}
	return worker.Run(ctx)
}

// extractPackage replays one package's events from a center's input stream
// and prints them as JSON lines.
func extractPackage(ctx context.Context, streams *stream.Client, opts flags) error {
	center := schema.CenterCode(opts.centerCode)
	if !center.Valid() {
		return fmt.Errorf("unknown sorting center %q", opts.centerCode)
	}
	events, err := pipeline.Extract(ctx, streams, center, opts.packageID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		payload, err := ev.Encode()
		if err != nil {
			return err
		}
		fmt.Println(string(payload))
	}
	return nil
}

// openTables connects the shared Postgres store when a DSN is configured and
// falls back to a process-local table otherwise. The fallback suits
// single-process smoke runs only; peer workers in other processes cannot see
// it.
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
	flag.StringVar(&opts.centerCode, "sorting_center_code", "",
		"Sorting center to process: A, B, C, D or all")
	flag.BoolVar(&opts.run, "run", false, "Run the sorting-center pipeline")
	flag.Int64Var(&opts.maxEventCount, "maximum_event_count", 0,
		"Stop after this many events; 0 processes until drained")
	flag.BoolVar(&opts.waitForEvents, "wait_for_events", false,
		"Keep an empty input stream open until the first record arrives")
	flag.BoolVar(&opts.reportLostPackages, "report_lost_packages", false,
		"Report packages still marked late after the drain (set on exactly one worker)")
	flag.Int64Var(&opts.markEventFrequency, "mark_event_index_frequency", 1000,
		"Log progress every N events; 0 disables")
	flag.StringVar(&opts.packageID, "package_id", "",
		"Extract and print this package's events instead of running the pipeline")
	flag.StringVar(&opts.databaseURL, "database_url", "", "PostgreSQL DSN for the key-value tables (default $DATABASE_URL)")
	flag.StringVar(&opts.logLevel, "log_level", "", "Log threshold: debug, info, warn or error")
	flag.Parse()
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
