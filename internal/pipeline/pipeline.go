// Package pipeline runs the per-center event pipeline: five stages fed by a
// center's input stream, maintaining package state tables, the shared
// next-expected index, and the trouble stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/config"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/telemetry"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
	libtelemetry "github.com/bkc/dell-unbounded-hackathon-2021/lib/telemetry"
)

// Stage is one step of the pipeline. Stages see every event in stream order
// and may observe state written by earlier stages for the same event.
type Stage interface {
	Process(ctx context.Context, ev *schema.Event) error
}

// Config assembles a worker's collaborators and run options.
type Config struct {
	Center   schema.CenterCode
	Streams  *stream.Client
	Tables   kvtable.Store
	Coord    *coord.Store
	Trouble  TroublePublisher
	Tunables config.Tunables
	Logger   *zap.Logger

	// WaitForEvents keeps an empty input stream open until the first record.
	WaitForEvents bool
	// ReportLostPackages turns on the terminal lost-package sweep. Exactly
	// one worker per run should set it.
	ReportLostPackages bool
	// MaxEventCount stops the run after that many events; 0 means drain.
	MaxEventCount int64
	// MarkEventFrequency logs progress every N events; 0 disables.
	MarkEventFrequency int64
	// CutHook, when set, receives each hour-boundary stream position hint.
	CutHook CutHook
}

// Worker drains one center's input stream through the stage chain.
type Worker struct {
	cfg    Config
	log    *zap.Logger
	stages []Stage
	delay  *DelayStage
}

// NewWorker validates the configuration and assembles the stage chain.
func NewWorker(cfg Config) (*Worker, error) {
	if !cfg.Center.Valid() {
		return nil, fmt.Errorf("unknown sorting center %q", string(cfg.Center))
	}
	if cfg.Streams == nil {
		return nil, fmt.Errorf("stream client required")
	}
	if cfg.Tables == nil {
		return nil, fmt.Errorf("table store required")
	}
	if cfg.Coord == nil {
		return nil, fmt.Errorf("coordination store required")
	}
	if cfg.Trouble == nil {
		return nil, fmt.Errorf("trouble publisher required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("worker-" + string(cfg.Center))

	delay := NewDelayStage(cfg.Center, cfg.Coord, cfg.Trouble, cfg.Tunables, log)
	stages := []Stage{
		NewHintStage(cfg.Center, cfg.CutHook, log),
		NewAttributesStage(cfg.Tables, cfg.Trouble, log),
		NewTrackingStage(cfg.Tables),
		NewScheduleStage(cfg.Coord),
		delay,
	}
	return &Worker{cfg: cfg, log: log, stages: stages, delay: delay}, nil
}

// Run processes the center's input stream until it drains, the event budget
// is spent, or the context is cancelled. With ReportLostPackages set, a
// drained stream triggers the lost-package sweep before returning.
func (w *Worker) Run(ctx context.Context) error {
	name := schema.InputStreamName(w.cfg.Center)
	if err := w.cfg.Streams.EnsureStream(ctx, name); err != nil {
		return err
	}
	reader, err := w.cfg.Streams.Reader(ctx, name, w.cfg.WaitForEvents)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reader.Close(context.WithoutCancel(ctx)); cerr != nil {
			w.log.Warn("close reader", zap.Error(cerr))
		}
	}()

	var processed int64
	for {
		payload, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		ev, err := schema.DecodeEvent(payload)
		if err != nil {
			// A malformed record poisons every downstream table; stop
			// instead of guessing.
			w.log.Error("malformed event", zap.ByteString("payload", payload), zap.Error(err))
			return err
		}
		for _, stage := range w.stages {
			if err := stage.Process(ctx, ev); err != nil {
				return err
			}
		}
		processed++
		recordEventMetric(ctx, ev)
		if w.cfg.MarkEventFrequency > 0 && processed%w.cfg.MarkEventFrequency == 0 {
			w.log.Info("progress",
				zap.Int64("events", processed),
				zap.Int64("event_time", ev.EventTime))
		}
		if w.cfg.MaxEventCount > 0 && processed >= w.cfg.MaxEventCount {
			w.log.Info("event budget reached", zap.Int64("events", processed))
			return nil
		}
	}

	w.log.Info("input drained", zap.Int64("events", processed))
	if w.cfg.ReportLostPackages {
		return w.delay.ReportLost(ctx)
	}
	return nil
}

// RunAll runs one worker per sorting center concurrently against the same
// stores. ReportLostPackages, when set, is given to the center A worker only.
func RunAll(ctx context.Context, base Config) error {
	var mu sync.Mutex
	var workerErrs []error
	p := pool.New().WithMaxGoroutines(len(schema.CenterCodes))
	for _, center := range schema.CenterCodes {
		cfg := base
		cfg.Center = center
		cfg.ReportLostPackages = base.ReportLostPackages && center == schema.CenterA
		worker, err := NewWorker(cfg)
		if err != nil {
			return err
		}
		p.Go(func() {
			if err := worker.Run(ctx); err != nil {
				mu.Lock()
				workerErrs = append(workerErrs, fmt.Errorf("center %s: %w", string(cfg.Center), err))
				mu.Unlock()
			}
		})
	}
	p.Wait()
	return errors.Join(workerErrs...)
}

var (
	eventCounter   metric.Int64Counter
	eventCounterMu sync.Once
)

func recordEventMetric(ctx context.Context, ev *schema.Event) {
	eventCounterMu.Do(func() {
		meter := otel.Meter("pipeline")
		counter, err := meter.Int64Counter("tracker_events_processed_total",
			metric.WithDescription("Scan events processed by pipeline workers"),
			metric.WithUnit("{event}"))
		if err == nil {
			eventCounter = counter
		}
	})
	if eventCounter == nil {
		return
	}
	eventCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.EventAttributes(libtelemetry.Environment(), string(ev.SortingCenter), string(ev.ScannerID))...))
}
