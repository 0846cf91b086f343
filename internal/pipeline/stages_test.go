package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bkc/dell-unbounded-hackathon-2021/config"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/domain/kvtable"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/infra/coord"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*schema.TroubleEvent
}

func (c *capturePublisher) PublishTrouble(_ context.Context, tev *schema.TroubleEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := *tev
	c.events = append(c.events, &clone)
	return nil
}

func (c *capturePublisher) all() []*schema.TroubleEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*schema.TroubleEvent(nil), c.events...)
}

func testTunables() config.Tunables {
	return config.Tunables{
		ReadTimeout:           50 * time.Millisecond,
		CheckFrequencySeconds: 60,
		MinimumLateSeconds:    60,
		SyncThresholdSeconds:  90,
		SleepProcessTime:      time.Millisecond,
	}
}

func testCoord(t *testing.T) *coord.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return coord.New(rdb, "tracking")
}

func scanAt(center schema.CenterCode, scanner schema.ScannerID, pkg string, at int64) *schema.Event {
	return &schema.Event{
		EventTime:     at,
		SortingCenter: center,
		PackageID:     pkg,
		ScannerID:     scanner,
	}
}

func TestAttributesStageRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	trouble := &capturePublisher{}
	stage := NewAttributesStage(tables, trouble, zap.NewNop())

	declared := decimal.New(12550, -2)
	weight := decimal.New(342, -2)

	intake := scanAt(schema.CenterA, schema.ScannerIntake, "1", 1000)
	intake.Destination = schema.CenterB
	intake.DeclaredValue = &declared
	intake.EstimatedDeliveryTime = 90000
	require.NoError(t, stage.Process(ctx, intake))

	weighing := scanAt(schema.CenterA, schema.ScannerWeighing, "1", 1100)
	weighing.Weight = &weight
	require.NoError(t, stage.Process(ctx, weighing))

	// Transit scans leave the record alone.
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 1200)))

	output := scanAt(schema.CenterB, schema.ScannerOutput, "1", 80000)
	require.NoError(t, stage.Process(ctx, output))

	raw, err := tables.Get(ctx, schema.TablePackageAttributes, "1")
	require.NoError(t, err)
	rec, err := schema.DecodeAttributes(raw)
	require.NoError(t, err)

	require.Equal(t, int64(1000), rec.IntakeTime)
	require.Equal(t, schema.CenterA, rec.Origin)
	require.Equal(t, schema.CenterB, rec.Destination)
	require.True(t, rec.DeclaredValue.Equal(declared))
	require.Equal(t, int64(90000), rec.EstimatedDeliveryTime)
	require.True(t, rec.Weight.Equal(weight))
	require.Equal(t, int64(80000), rec.DeliveredTime)
	require.Empty(t, trouble.all())
}

func TestAttributesStageFlagsLateDelivery(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	trouble := &capturePublisher{}
	stage := NewAttributesStage(tables, trouble, zap.NewNop())

	intake := scanAt(schema.CenterA, schema.ScannerIntake, "7", 1000)
	intake.Destination = schema.CenterA
	intake.EstimatedDeliveryTime = 5000
	require.NoError(t, stage.Process(ctx, intake))

	output := scanAt(schema.CenterA, schema.ScannerOutput, "7", 5001)
	require.NoError(t, stage.Process(ctx, output))

	events := trouble.all()
	require.Len(t, events, 1)
	require.Equal(t, schema.TroubleLateDelivery, events[0].EventType)
	require.Equal(t, "7", events[0].PackageID)
	require.Equal(t, int64(5001), events[0].EventTime)
	require.Equal(t, int64(5000), events[0].ExpectedEventTime)
	require.Empty(t, events[0].NextScannerID)
}

func TestAttributesStageOnTimeDeliveryStaysQuiet(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	trouble := &capturePublisher{}
	stage := NewAttributesStage(tables, trouble, zap.NewNop())

	intake := scanAt(schema.CenterA, schema.ScannerIntake, "7", 1000)
	intake.EstimatedDeliveryTime = 5000
	require.NoError(t, stage.Process(ctx, intake))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerOutput, "7", 5000)))

	require.Empty(t, trouble.all())
}

func TestAttributesStageSkipsLateCheckWithoutEstimate(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	trouble := &capturePublisher{}
	stage := NewAttributesStage(tables, trouble, zap.NewNop())

	// Package entered mid-stream: no intake record, only the output scan.
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerOutput, "9", 5001)))

	raw, err := tables.Get(ctx, schema.TablePackageAttributes, "9")
	require.NoError(t, err)
	rec, err := schema.DecodeAttributes(raw)
	require.NoError(t, err)
	require.Equal(t, int64(5001), rec.DeliveredTime)
	require.Empty(t, trouble.all())
}

func TestTrackingStageRecordsPublicScansOnly(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	stage := NewTrackingStage(tables)

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerIntake, "1", 1000)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerWeighing, "1", 1100)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.HoldingFor(schema.CenterB), "1", 1200)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterB, schema.ScannerReceiving, "1", 5000)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterB, schema.ScannerOutput, "1", 9000)))

	raw, err := tables.Get(ctx, schema.TablePackageEvents, "1")
	require.NoError(t, err)
	list, err := schema.DecodeTrackingList(raw)
	require.NoError(t, err)

	require.Len(t, list, 4)
	require.Equal(t, schema.ScannerIntake, list[0].ScannerID)
	require.Equal(t, schema.HoldingFor(schema.CenterB), list[1].ScannerID)
	require.Equal(t, schema.ScannerReceiving, list[2].ScannerID)
	require.Equal(t, schema.ScannerOutput, list[3].ScannerID)
	for i := 1; i < len(list); i++ {
		require.Greater(t, list[i].EventTime, list[i-1].EventTime)
	}
}

func TestTrackingStageReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tables := kvtable.NewMemory()
	stage := NewTrackingStage(tables)

	events := []*schema.Event{
		scanAt(schema.CenterA, schema.ScannerIntake, "1", 1000),
		scanAt(schema.CenterA, schema.ScannerOutput, "1", 5000),
	}
	for _, ev := range events {
		require.NoError(t, stage.Process(ctx, ev))
	}
	first, err := tables.Get(ctx, schema.TablePackageEvents, "1")
	require.NoError(t, err)

	for _, ev := range events {
		require.NoError(t, stage.Process(ctx, ev))
	}
	second, err := tables.Get(ctx, schema.TablePackageEvents, "1")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestScheduleStageTracksNextExpected(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	stage := NewScheduleStage(store)

	ev := scanAt(schema.CenterA, schema.ScannerRouting, "4", 1000)
	ev.NextScannerID = schema.ScannerReceiving
	ev.NextEventTime = 5000
	ev.NextSortingCenter = schema.CenterB
	require.NoError(t, stage.Process(ctx, ev))

	members, err := store.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, 10000)
	require.NoError(t, err)
	require.Equal(t, []coord.Member{{Value: "4", Score: 5000}}, members)

	location, ok, err := store.HGet(ctx, coord.KeyNextPackageScanner, "4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B/receiving", location)
}

func TestScheduleStageFreshUpdateClearsLateness(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	stage := NewScheduleStage(store)

	wasNew, err := store.SAdd(ctx, coord.KeyLatePackages, "4")
	require.NoError(t, err)
	require.True(t, wasNew)

	ev := scanAt(schema.CenterB, schema.ScannerReceiving, "4", 6000)
	ev.NextScannerID = schema.ScannerPreRouting
	ev.NextEventTime = 6200
	require.NoError(t, stage.Process(ctx, ev))

	late, err := store.SMembers(ctx, coord.KeyLatePackages)
	require.NoError(t, err)
	require.Empty(t, late)

	location, ok, err := store.HGet(ctx, coord.KeyNextPackageScanner, "4")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B/pre-routing", location)
}

func TestScheduleStageTerminalScanDropsEntries(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	stage := NewScheduleStage(store)

	ev := scanAt(schema.CenterA, schema.ScannerRouting, "4", 1000)
	ev.NextScannerID = schema.ScannerOutput
	ev.NextEventTime = 1500
	require.NoError(t, stage.Process(ctx, ev))

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerOutput, "4", 1500)))

	members, err := store.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, 10000)
	require.NoError(t, err)
	require.Empty(t, members)
	_, ok, err := store.HGet(ctx, coord.KeyNextPackageScanner, "4")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDelayStageLatenessBoundary(t *testing.T) {
	cases := []struct {
		name      string
		checkTime int64
		reported  bool
	}{
		{name: "one second early", checkTime: 1059, reported: false},
		{name: "exactly late enough", checkTime: 1060, reported: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			store := testCoord(t)
			trouble := &capturePublisher{}
			stage := NewDelayStage(schema.CenterA, store, trouble, testTunables(), zap.NewNop())

			require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "7", 1000))
			require.NoError(t, store.HSet(ctx, coord.KeyNextPackageScanner, "7", "B/receiving"))

			require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 940)))
			require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "2", tc.checkTime)))

			events := trouble.all()
			if !tc.reported {
				require.Empty(t, events)
				remaining, err := store.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, 10000)
				require.NoError(t, err)
				require.Len(t, remaining, 1)
				return
			}
			require.Len(t, events, 1)
			require.Equal(t, schema.TroubleDelayedPackage, events[0].EventType)
			require.Equal(t, "7", events[0].PackageID)
			require.Equal(t, tc.checkTime, events[0].EventTime)
			require.Equal(t, int64(1000), events[0].ExpectedEventTime)
			require.Equal(t, "B/receiving", events[0].NextScannerID)
			require.Equal(t, schema.CenterA, events[0].SortingCenter)

			remaining, err := store.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, 10000)
			require.NoError(t, err)
			require.Empty(t, remaining)
			late, err := store.SMembers(ctx, coord.KeyLatePackages)
			require.NoError(t, err)
			require.Equal(t, []string{"7"}, late)
		})
	}
}

func TestDelayStageReportsEachEpisodeOnce(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	trouble := &capturePublisher{}
	stage := NewDelayStage(schema.CenterA, store, trouble, testTunables(), zap.NewNop())

	require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "7", 1000))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 940)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "2", 1060)))
	require.Len(t, trouble.all(), 1)

	// Same deadline resurfaces while the package is still marked late, e.g.
	// a peer worker re-published it between our sweep and its zrem.
	require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "7", 1000))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "3", 1120)))
	require.Len(t, trouble.all(), 1)
}

func TestDelayStageClockBarrierClampsSweep(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	trouble := &capturePublisher{}
	stage := NewDelayStage(schema.CenterA, store, trouble, testTunables(), zap.NewNop())

	// Worker B's clock lags at 1000 while this worker races to 1200.
	require.NoError(t, store.ZAdd(ctx, coord.KeyClockSync, "B", 1000))
	// Deadline inside the contested window (1000, 1200]: not actually late
	// from B's point of view.
	require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "9", 1100))
	// Deadline before B's clock: late for everyone.
	require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "5", 900))
	require.NoError(t, store.HSet(ctx, coord.KeyNextPackageScanner, "5", "A/receiving"))

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 940)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "2", 1200)))

	events := trouble.all()
	require.Len(t, events, 1)
	require.Equal(t, "5", events[0].PackageID)
	// The sweep ran at the slow peer's clock, not our own.
	require.Equal(t, int64(1000), events[0].EventTime)
	require.Equal(t, int64(900), events[0].ExpectedEventTime)

	remaining, err := store.ZRangeByScore(ctx, coord.KeyNextPackageEvent, 0, 10000)
	require.NoError(t, err)
	require.Equal(t, []coord.Member{{Value: "9", Score: 1100}}, remaining)
}

func TestDelayStageIgnoresSentinels(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	trouble := &capturePublisher{}
	stage := NewDelayStage(schema.CenterA, store, trouble, testTunables(), zap.NewNop())

	require.NoError(t, store.ZAdd(ctx, coord.KeyNextPackageEvent, "7", 1000))

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 940)))
	sentinel := &schema.Event{
		EventTime:     999999,
		SortingCenter: schema.CenterA,
		ScannerID:     schema.ScannerEndOfStream,
	}
	require.NoError(t, stage.Process(ctx, sentinel))

	require.Empty(t, trouble.all())
	clocks, err := store.ZRangeByScore(ctx, coord.KeyClockSync, 0, 1<<40)
	require.NoError(t, err)
	require.Empty(t, clocks)
}

func TestReportLostSweepsLateSet(t *testing.T) {
	ctx := context.Background()
	store := testCoord(t)
	trouble := &capturePublisher{}
	stage := NewDelayStage(schema.CenterA, store, trouble, testTunables(), zap.NewNop())

	for _, pkg := range []string{"3", "1", "2"} {
		_, err := store.SAdd(ctx, coord.KeyLatePackages, pkg)
		require.NoError(t, err)
	}
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 7000)))
	// The sentinel's synthetic time must not leak into the reports.
	sentinel := &schema.Event{EventTime: 999999, SortingCenter: schema.CenterA, ScannerID: schema.ScannerEndOfStream}
	require.NoError(t, stage.Process(ctx, sentinel))

	require.NoError(t, stage.ReportLost(ctx))

	events := trouble.all()
	require.Len(t, events, 3)
	for i, want := range []string{"1", "2", "3"} {
		require.Equal(t, schema.TroubleLostPackage, events[i].EventType)
		require.Equal(t, want, events[i].PackageID)
		require.Equal(t, int64(7000), events[i].EventTime)
		require.Zero(t, events[i].ExpectedEventTime)
		require.Empty(t, events[i].NextScannerID)
	}

	late, err := store.SMembers(ctx, coord.KeyLatePackages)
	require.NoError(t, err)
	require.Empty(t, late)
}

func TestHintStageFlagsHourRollover(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)

	type hint struct {
		center    schema.CenterCode
		hourStart int64
	}
	var hints []hint
	hook := func(center schema.CenterCode, hourStart int64) {
		hints = append(hints, hint{center, hourStart})
	}
	stage := NewHintStage(schema.CenterA, hook, zap.New(core))

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerIntake, "1", 3600)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerWeighing, "1", 3700)))
	require.Equal(t, 0, logs.FilterMessage("stream cut hint").Len())
	require.Empty(t, hints)

	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterA, schema.ScannerRouting, "1", 7200)))
	require.Equal(t, 1, logs.FilterMessage("stream cut hint").Len())
	require.Equal(t, []hint{{schema.CenterA, 7200}}, hints)

	sentinel := &schema.Event{EventTime: 999999, SortingCenter: schema.CenterA, ScannerID: schema.ScannerEndOfStream}
	require.NoError(t, stage.Process(ctx, sentinel))
	require.Equal(t, 1, logs.FilterMessage("stream cut hint").Len())
	require.Len(t, hints, 1)
}

func TestHintStageNilHookStaysQuiet(t *testing.T) {
	ctx := context.Background()
	stage := NewHintStage(schema.CenterB, nil, zap.NewNop())
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterB, schema.ScannerIntake, "1", 100)))
	require.NoError(t, stage.Process(ctx, scanAt(schema.CenterB, schema.ScannerOutput, "1", 7300)))
}
