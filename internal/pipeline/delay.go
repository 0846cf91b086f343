package pipeline

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bkc/dell-unbounded-hackathon-2021/config"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// DelayStage raises delayed_package trouble events for packages whose
// announced next scan never happened. Detection is driven by simulated time:
// whenever the event clock crosses a check boundary the stage sweeps the
// shared next-expected index for entries older than the lateness threshold.
//
// Workers for different centers each run their own DelayStage against the
// same coordination store. The clock_sync sorted set acts as a barrier: a
// worker whose stream runs ahead of its peers clamps its sweep to the
// slowest peer's clock, so a package is never declared delayed merely
// because one center's events arrived faster.
type DelayStage struct {
	center  schema.CenterCode
	coord   *coord.Store
	trouble TroublePublisher
	log     *zap.Logger

	checkFrequency int64
	minimumLate    int64
	syncThreshold  int64
	sleep          time.Duration

	haveBucket    bool
	bucket        int64
	lastEventTime int64
}

// NewDelayStage wires the stage for one center.
func NewDelayStage(center schema.CenterCode, store *coord.Store, trouble TroublePublisher, tun config.Tunables, log *zap.Logger) *DelayStage {
	if log == nil {
		log = zap.NewNop()
	}
	return &DelayStage{
		center:         center,
		coord:          store,
		trouble:        trouble,
		log:            log,
		checkFrequency: tun.CheckFrequencySeconds,
		minimumLate:    tun.MinimumLateSeconds,
		syncThreshold:  tun.SyncThresholdSeconds,
		sleep:          tun.SleepProcessTime,
	}
}

func (s *DelayStage) Process(ctx context.Context, ev *schema.Event) error {
	if ev.IsSentinel() {
		// Sentinels carry a synthetic future time; folding it into the
		// clock would let every parked deadline fire at once.
		return nil
	}
	s.lastEventTime = ev.EventTime
	bucket := ev.EventTime / s.checkFrequency
	if !s.haveBucket {
		s.haveBucket = true
		s.bucket = bucket
		return nil
	}
	if bucket == s.bucket {
		return nil
	}
	s.bucket = bucket
	return s.reportDelayed(ctx, ev.EventTime)
}

func (s *DelayStage) reportDelayed(ctx context.Context, eventTime int64) error {
	if err := s.coord.ZAdd(ctx, coord.KeyClockSync, string(s.center), eventTime); err != nil {
		return err
	}
	clocks, err := s.coord.ZRangeByScore(ctx, coord.KeyClockSync, 0, eventTime)
	if err != nil {
		return err
	}
	if len(clocks) > 0 && eventTime-clocks[0].Score > s.syncThreshold {
		// A peer is behind: yield briefly, then sweep at its clock so we
		// never report a package the slower worker is about to see.
		time.Sleep(s.sleep)
		eventTime = clocks[0].Score
	}

	candidates, err := s.coord.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, eventTime)
	if err != nil {
		return err
	}
	var removal []string
	for _, cand := range candidates {
		if eventTime-cand.Score < s.minimumLate {
			continue
		}
		wasNew, err := s.coord.SAdd(ctx, coord.KeyLatePackages, cand.Value)
		if err != nil {
			return err
		}
		if !wasNew {
			// Another worker beat us to this one.
			continue
		}
		location, _, err := s.coord.HGet(ctx, coord.KeyNextPackageScanner, cand.Value)
		if err != nil {
			return err
		}
		tev := &schema.TroubleEvent{
			EventTime:         eventTime,
			EventType:         schema.TroubleDelayedPackage,
			PackageID:         cand.Value,
			SortingCenter:     s.center,
			ExpectedEventTime: cand.Score,
			NextScannerID:     location,
		}
		if err := s.trouble.PublishTrouble(ctx, tev); err != nil {
			return err
		}
		removal = append(removal, cand.Value)
	}
	if len(removal) == 0 {
		return nil
	}
	// Dropping reported packages keeps them from firing on every sweep; a
	// later on-time event re-adds them with a fresh deadline.
	return s.coord.ZRem(ctx, coord.KeyNextPackageEvent, removal...)
}

// ReportLost emits one lost_package trouble event for every package still
// marked late once the stream has drained: declared delayed, never refreshed.
// Members are reported in sorted order and cleared afterwards so a re-run
// against preserved state stays quiet.
func (s *DelayStage) ReportLost(ctx context.Context) error {
	members, err := s.coord.SMembers(ctx, coord.KeyLatePackages)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return nil
	}
	sort.Strings(members)
	eventTime := s.lastEventTime
	if eventTime == 0 {
		eventTime = time.Now().Unix()
	}
	for _, packageID := range members {
		tev := &schema.TroubleEvent{
			EventTime:     eventTime,
			EventType:     schema.TroubleLostPackage,
			PackageID:     packageID,
			SortingCenter: s.center,
		}
		if err := s.trouble.PublishTrouble(ctx, tev); err != nil {
			return err
		}
	}
	return s.coord.SRem(ctx, coord.KeyLatePackages, members...)
}
