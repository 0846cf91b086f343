package pipeline

import (
	"context"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// ScheduleStage maintains the shared next-expected index: for every package
// still in flight, the announced time of its next scan and the scanner that
// will perform it. A fresh announcement also clears the package from the
// late set, so a recovered package stops being reported delayed.
type ScheduleStage struct {
	coord *coord.Store
}

// NewScheduleStage wires the stage to the coordination store.
func NewScheduleStage(store *coord.Store) *ScheduleStage {
	return &ScheduleStage{coord: store}
}

func (s *ScheduleStage) Process(ctx context.Context, ev *schema.Event) error {
	if ev.IsSentinel() {
		return nil
	}
	if !ev.HasNext() {
		// Terminal scan: the package left the network, drop its entries.
		if err := s.coord.ZRem(ctx, coord.KeyNextPackageEvent, ev.PackageID); err != nil {
			return err
		}
		if err := s.coord.HDel(ctx, coord.KeyNextPackageScanner, ev.PackageID); err != nil {
			return err
		}
		return s.coord.SRem(ctx, coord.KeyLatePackages, ev.PackageID)
	}

	if err := s.coord.ZAdd(ctx, coord.KeyNextPackageEvent, ev.PackageID, ev.NextEventTime); err != nil {
		return err
	}
	location := string(ev.NextCenter()) + "/" + string(ev.NextScannerID)
	if err := s.coord.HSet(ctx, coord.KeyNextPackageScanner, ev.PackageID, location); err != nil {
		return err
	}
	return s.coord.SRem(ctx, coord.KeyLatePackages, ev.PackageID)
}
