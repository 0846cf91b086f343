// Command simulator emits a deterministic package scan-event feed in the
// JSON-lines form consumed by import-events.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/simulator"
	"github.com/bkc/dell-unbounded-hackathon-2021/lib/logging"
)

const (
	defaultSimulatedRunTime = 1440 // minutes, one simulated day
	defaultIntakeRunTime    = 300  // minutes
	defaultPackageCount     = 1
	defaultLogLevel         = "info"
)

type flags struct {
	simulatedRunTime    int64
	intakeRunTime       int64
	packageCount        int
	delayedPackageCount int
	lostPackageCount    int
	test                bool
	jsonOutput          bool
	seed                int64
	simulatedStartTime  int64
	eventsPerSecond     float64
	logLevel            string
}

func main() {
	opts := parseFlags()
	if !opts.test && !opts.jsonOutput {
		fmt.Fprintln(os.Stderr, "one of --test or --json_output is required")
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(opts.logLevel, "simulator")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := newSignalContext()
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
}

func run(ctx context.Context, opts flags, logger *zap.Logger) error {
	sim, err := simulator.New(simulator.Config{
		SimulatedRunTime:    opts.simulatedRunTime,
		IntakeRunTime:       opts.intakeRunTime,
		PackageCount:        opts.packageCount,
		DelayedPackageCount: opts.delayedPackageCount,
		LostPackageCount:    opts.lostPackageCount,
		SimulatedStartTime:  opts.simulatedStartTime,
		Seed:                opts.seed,
	})
	if err != nil {
		return err
	}

	logger.Info("simulation configured",
		zap.Int64("start_time", sim.StartTime()),
		zap.Int("package_count", opts.packageCount),
		zap.Int("delayed_package_count", opts.delayedPackageCount),
		zap.Int("lost_package_count", opts.lostPackageCount))
	for id, d := range sim.Disruptions() {
		logger.Debug("disruption planned",
			zap.String("package_id", id),
			zap.Bool("lost", d.Lost),
			zap.Int("event_index", d.EventIndex))
	}

	events := sim.Events()

	var limiter *rate.Limiter
	if opts.eventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.eventsPerSecond), 1)
	}

	out := bufio.NewWriter(os.Stdout)
	for i := range events {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := emit(out, &events[i], opts, logger); err != nil {
			return err
		}
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	logger.Info("simulation complete", zap.Int("events", len(events)))
	return nil
}

func emit(out *bufio.Writer, ev *schema.Event, opts flags, logger *zap.Logger) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	if opts.test {
		logger.Info("event",
			zap.Int64("event_time", ev.EventTime),
			zap.String("sorting_center", string(ev.SortingCenter)),
			zap.String("package_id", ev.PackageID),
			zap.String("scanner_id", string(ev.ScannerID)))
	}
	if opts.jsonOutput {
		if _, err := out.Write(payload); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
		if err := out.WriteByte('\n'); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	return nil
}

func parseFlags() flags {
	var opts flags
	flag.Int64Var(&opts.simulatedRunTime, "simulated_run_time", defaultSimulatedRunTime,
		"Total simulated running time in minutes (1440 = one day)")
	flag.Int64Var(&opts.intakeRunTime, "intake_run_time", defaultIntakeRunTime,
		"Window in minutes over which package intakes are spread")
	flag.IntVar(&opts.packageCount, "package_count", defaultPackageCount,
		"Total number of packages to simulate")
	flag.IntVar(&opts.delayedPackageCount, "delayed_package_count", 0,
		"Packages that receive a two-hour delay mid-route")
	flag.IntVar(&opts.lostPackageCount, "lost_package_count", 0,
		"Delayed packages that stop emitting entirely (must not exceed delayed count)")
	flag.BoolVar(&opts.test, "test", false,
		"Log every generated event instead of staying quiet")
	flag.BoolVar(&opts.jsonOutput, "json_output", false,
		"Write events as JSON lines to stdout")
	flag.Int64Var(&opts.seed, "seed", 0,
		"Random seed; 0 derives the seed from the start time")
	flag.Int64Var(&opts.simulatedStartTime, "simulated_start_time", 0,
		"Simulated epoch start in unix seconds; 0 uses the wall clock")
	flag.Float64Var(&opts.eventsPerSecond, "events_per_second", 0,
		"Pace output at this rate; 0 emits as fast as possible")
	flag.StringVar(&opts.logLevel, "log_level", defaultLogLevel,
		"Log threshold: debug, info, warn or error")
	flag.Parse()
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
