package pipeline

import (
	"context"
	"fmt"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// TrackingStage appends customer-visible scans (intake, receiving, holding,
// output) to the package-events table. Replayed events dedup on event_time,
// so re-running a stream leaves the tracking record unchanged.
type TrackingStage struct {
	tables kvtable.Store
}

// NewTrackingStage wires the stage to its table store.
func NewTrackingStage(tables kvtable.Store) *TrackingStage {
	return &TrackingStage{tables: tables}
}

func (s *TrackingStage) Process(ctx context.Context, ev *schema.Event) error {
	if !ev.ScannerID.Public() {
		return nil
	}

	list, err := s.load(ctx, ev.PackageID)
	if err != nil {
		return err
	}
	list, inserted := list.Insert(schema.PublicEvent{
		EventTime:     ev.EventTime,
		SortingCenter: ev.SortingCenter,
		ScannerID:     ev.ScannerID,
	})
	if !inserted {
		return nil
	}
	payload, err := list.Encode()
	if err != nil {
		return fmt.Errorf("encode tracking list for %q: %w", ev.PackageID, err)
	}
	return s.tables.Put(ctx, schema.TablePackageEvents, ev.PackageID, payload)
}

func (s *TrackingStage) load(ctx context.Context, packageID string) (schema.TrackingList, error) {
	raw, err := s.tables.Get(ctx, schema.TablePackageEvents, packageID)
	if kvtable.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return schema.DecodeTrackingList(raw)
}
