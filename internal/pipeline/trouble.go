package pipeline

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/stream"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/telemetry"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
	libtelemetry "github.com/bkc/dell-unbounded-hackathon-2021/lib/telemetry"
)

// TroublePublisher sinks trouble events raised by pipeline stages.
type TroublePublisher interface {
	PublishTrouble(ctx context.Context, tev *schema.TroubleEvent) error
}

var (
	troubleCounter   metric.Int64Counter
	troubleCounterMu sync.Once
)

// StreamTroublePublisher appends trouble events to the shared trouble stream,
// partitioned by center code.
type StreamTroublePublisher struct {
	writer *stream.Writer
	log    *zap.Logger
}

var _ TroublePublisher = (*StreamTroublePublisher)(nil)

// NewStreamTroublePublisher binds a publisher to the trouble stream.
func NewStreamTroublePublisher(client *stream.Client, log *zap.Logger) *StreamTroublePublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamTroublePublisher{writer: client.Writer(schema.TroubleStreamName), log: log}
}

func (p *StreamTroublePublisher) PublishTrouble(ctx context.Context, tev *schema.TroubleEvent) error {
	payload, err := tev.Encode()
	if err != nil {
		return err
	}
	if err := p.writer.Publish(ctx, string(tev.SortingCenter), payload); err != nil {
		return err
	}
	p.log.Info("trouble event",
		zap.String("type", string(tev.EventType)),
		zap.String("package_id", tev.PackageID),
		zap.Int64("event_time", tev.EventTime))
	recordTroubleMetric(ctx, tev)
	return nil
}

func recordTroubleMetric(ctx context.Context, tev *schema.TroubleEvent) {
	troubleCounterMu.Do(func() {
		meter := otel.Meter("pipeline")
		counter, err := meter.Int64Counter("tracker_trouble_events_total",
			metric.WithDescription("Trouble events emitted by pipeline workers"),
			metric.WithUnit("{event}"))
		if err == nil {
			troubleCounter = counter
		}
	})
	if troubleCounter == nil {
		return
	}
	troubleCounter.Add(ctx, 1, metric.WithAttributes(
		telemetry.TroubleAttributes(libtelemetry.Environment(), string(tev.SortingCenter), string(tev.EventType))...))
}
