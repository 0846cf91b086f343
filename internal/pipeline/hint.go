package pipeline

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/telemetry"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
	libtelemetry "github.com/bkc/dell-unbounded-hackathon-2021/lib/telemetry"
)

var (
	hintCounter   metric.Int64Counter
	hintCounterMu sync.Once
)

// CutHook receives each hour-boundary hint: the center and the unix time of
// the hour that just started. Callers that record stream positions wire one
// in; nil keeps hints log-only.
type CutHook func(center schema.CenterCode, hourStart int64)

// HintStage watches announced event times and flags each simulated-hour
// rollover as a point where the input stream could be cut for archival.
// The hint is advisory: it is logged and counted, nothing is truncated here.
type HintStage struct {
	center schema.CenterCode
	hook   CutHook
	log    *zap.Logger

	initialized bool
	currentHour int64
}

// NewHintStage builds the stage for one center's input stream. hook may be
// nil.
func NewHintStage(center schema.CenterCode, hook CutHook, log *zap.Logger) *HintStage {
	if log == nil {
		log = zap.NewNop()
	}
	return &HintStage{center: center, hook: hook, log: log}
}

func (s *HintStage) Process(ctx context.Context, ev *schema.Event) error {
	if ev.IsSentinel() {
		return nil
	}
	hour := ev.EventTime / 3600
	if !s.initialized {
		s.initialized = true
		s.currentHour = hour
		return nil
	}
	if hour == s.currentHour {
		return nil
	}
	s.currentHour = hour
	if s.hook != nil {
		s.hook(s.center, hour*3600)
	}
	// TODO: persist the reader's stream position here so Extract can seek to
	// the hour boundary instead of replaying the whole stream.
	s.log.Debug("stream cut hint",
		zap.String("center", string(s.center)),
		zap.Int64("hour_start", hour*3600))
	recordHintMetric(ctx, s.center)
	return nil
}

func recordHintMetric(ctx context.Context, center schema.CenterCode) {
	hintCounterMu.Do(func() {
		meter := otel.Meter("pipeline")
		counter, err := meter.Int64Counter("tracker_stream_cut_hints_total",
			metric.WithDescription("Hour rollovers observed on center input streams"),
			metric.WithUnit("{hint}"))
		if err == nil {
			hintCounter = counter
		}
	})
	if hintCounter == nil {
		return
	}
	hintCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(libtelemetry.Environment()),
		telemetry.AttrCenter.String(string(center)),
		telemetry.AttrStream.String(schema.InputStreamName(center))))
}
