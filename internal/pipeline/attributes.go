package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// AttributesStage maintains the package-attributes table from intake,
// weighing, and output scans. Output scans additionally check the recorded
// delivery estimate and raise a late_delivery trouble event when the package
// arrived after it.
type AttributesStage struct {
	tables  kvtable.Store
	trouble TroublePublisher
	log     *zap.Logger
}

// NewAttributesStage wires the stage to its table store and trouble sink.
func NewAttributesStage(tables kvtable.Store, trouble TroublePublisher, log *zap.Logger) *AttributesStage {
	if log == nil {
		log = zap.NewNop()
	}
	return &AttributesStage{tables: tables, trouble: trouble, log: log}
}

func (s *AttributesStage) Process(ctx context.Context, ev *schema.Event) error {
	switch ev.Kind() {
	case schema.KindIntake, schema.KindWeighing, schema.KindOutput:
	default:
		return nil
	}

	attrs, err := s.load(ctx, ev.PackageID)
	if err != nil {
		return err
	}

	switch ev.Kind() {
	case schema.KindIntake:
		attrs.IntakeTime = ev.EventTime
		attrs.Origin = ev.SortingCenter
		attrs.Destination = ev.Destination
		attrs.DeclaredValue = ev.DeclaredValue
		attrs.EstimatedDeliveryTime = ev.EstimatedDeliveryTime
	case schema.KindWeighing:
		attrs.Weight = ev.Weight
	case schema.KindOutput:
		attrs.DeliveredTime = ev.EventTime
	}

	payload, err := attrs.Encode()
	if err != nil {
		return fmt.Errorf("encode attributes for %q: %w", ev.PackageID, err)
	}
	if err := s.tables.Put(ctx, schema.TablePackageAttributes, ev.PackageID, payload); err != nil {
		return err
	}

	if ev.Kind() == schema.KindOutput {
		return s.checkLateDelivery(ctx, ev, attrs)
	}
	return nil
}

// checkLateDelivery compares the delivery time against the estimate captured
// at intake. Missing estimates (package entered mid-stream) are not flagged.
func (s *AttributesStage) checkLateDelivery(ctx context.Context, ev *schema.Event, attrs *schema.PackageAttributes) error {
	if attrs.EstimatedDeliveryTime <= 0 || attrs.DeliveredTime <= attrs.EstimatedDeliveryTime {
		return nil
	}
	tev := &schema.TroubleEvent{
		EventTime:         ev.EventTime,
		EventType:         schema.TroubleLateDelivery,
		PackageID:         ev.PackageID,
		SortingCenter:     ev.SortingCenter,
		ExpectedEventTime: attrs.EstimatedDeliveryTime,
	}
	s.log.Debug("late delivery",
		zap.String("package_id", ev.PackageID),
		zap.Int64("delivered", attrs.DeliveredTime),
		zap.Int64("estimated", attrs.EstimatedDeliveryTime))
	return s.trouble.PublishTrouble(ctx, tev)
}

func (s *AttributesStage) load(ctx context.Context, packageID string) (*schema.PackageAttributes, error) {
	raw, err := s.tables.Get(ctx, schema.TablePackageAttributes, packageID)
	if kvtable.IsNotFound(err) {
		return &schema.PackageAttributes{}, nil
	}
	if err != nil {
		return nil, err
	}
	return schema.DecodeAttributes(raw)
}
