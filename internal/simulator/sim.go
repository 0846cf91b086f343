// Package simulator generates deterministic package scan-event sequences:
// the exact input contract consumed by the sorting-center pipeline. Given the
// same seed and parameters the output is byte-identical.
package simulator

import (
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

// jitterSeconds bounds how far ahead of the announced time a scan happens.
const jitterSeconds = 60

// delaySeconds is the time shift injected for a delayed package (two hours).
const delaySeconds = 2 * secondsPerHour

// Config parameterizes one simulation run.
type Config struct {
	// SimulatedRunTime is the simulated horizon in minutes; packages whose
	// next scan would land beyond it are halted.
	SimulatedRunTime int64
	// IntakeRunTime is the window in minutes over which package intakes are
	// spread evenly.
	IntakeRunTime int64
	// PackageCount is the number of packages to simulate.
	PackageCount int
	// DelayedPackageCount packages get a two-hour shift injected mid-route.
	DelayedPackageCount int
	// LostPackageCount of the delayed packages stop emitting entirely.
	LostPackageCount int
	// SimulatedStartTime is the simulated epoch start; zero means wall clock
	// now.
	SimulatedStartTime int64
	// Seed fixes the random source; zero derives it from the start time.
	Seed int64
}

func (c Config) validate() error {
	if c.PackageCount < 1 {
		return errs.New("simulator", errs.CodeConfig, errs.WithMessage("package_count must be at least 1"))
	}
	if c.SimulatedRunTime < 1 || c.IntakeRunTime < 1 {
		return errs.New("simulator", errs.CodeConfig, errs.WithMessage("run times must be at least 1 minute"))
	}
	if c.LostPackageCount < 0 || c.DelayedPackageCount < 0 {
		return errs.New("simulator", errs.CodeConfig, errs.WithMessage("injection counts must not be negative"))
	}
	if c.LostPackageCount > c.DelayedPackageCount {
		return errs.New("simulator", errs.CodeConfig,
			errs.WithMessage("lost_package_count must not exceed delayed_package_count"))
	}
	if c.DelayedPackageCount >= c.PackageCount {
		return errs.New("simulator", errs.CodeConfig,
			errs.WithMessage("delayed_package_count must be less than package_count"))
	}
	return nil
}

// Disruption describes one injected fault: at which emitted event index the
// package goes wrong, and whether it disappears entirely.
type Disruption struct {
	Lost       bool
	EventIndex int
}

// Simulator produces the scan-event sequence for one run. All randomness is
// drawn from a single seeded source in a fixed order, so equal configs yield
// equal output.
type Simulator struct {
	cfg         Config
	rng         *rand.Rand
	start       int64
	horizon     int64
	paths       map[schema.CenterCode]*centerPaths
	disruptions map[string]Disruption
}

// New draws the per-center path tables and the disruption plan.
func New(cfg Config) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	start := cfg.SimulatedStartTime
	if start == 0 {
		start = time.Now().Unix()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = start
	}
	rng := rand.New(rand.NewSource(seed))

	paths := make(map[schema.CenterCode]*centerPaths, len(schema.CenterCodes))
	for _, center := range schema.CenterCodes {
		paths[center] = drawCenterPaths(rng)
	}

	s := &Simulator{
		cfg:         cfg,
		rng:         rng,
		start:       start,
		horizon:     start + cfg.SimulatedRunTime*secondsPerMinute,
		paths:       paths,
		disruptions: map[string]Disruption{},
	}
	s.drawDisruptions()
	return s, nil
}

// eventIndexBag biases injected faults toward the routing scan (index 3 of a
// package's emitted sequence).
var eventIndexBag = []int{3, 3, 3, 3, 1, 2, 4}

func (s *Simulator) drawDisruptions() {
	if s.cfg.DelayedPackageCount == 0 {
		return
	}
	picked := s.rng.Perm(s.cfg.PackageCount)[:s.cfg.DelayedPackageCount]
	for i, idx := range picked {
		id := strconv.Itoa(idx + 1)
		s.disruptions[id] = Disruption{
			Lost:       i < s.cfg.LostPackageCount,
			EventIndex: eventIndexBag[s.rng.Intn(len(eventIndexBag))],
		}
	}
}

// Disruptions returns the injected fault plan keyed by package id.
func (s *Simulator) Disruptions() map[string]Disruption {
	out := make(map[string]Disruption, len(s.disruptions))
	for id, d := range s.disruptions {
		out[id] = d
	}
	return out
}

// StartTime returns the simulated epoch start used for this run.
func (s *Simulator) StartTime() int64 {
	return s.start
}

// Events generates every package lifecycle, applies the disruption plan, and
// returns the merged sequence ordered by event time. Call once per Simulator;
// repeated calls would re-draw from the shared random source.
func (s *Simulator) Events() []schema.Event {
	var all []schema.Event
	for id := 1; id <= s.cfg.PackageCount; id++ {
		events := s.packageLifecycle(id)
		events = s.applyDisruption(strconv.Itoa(id), events)
		all = append(all, events...)
	}
	// Stable sort keeps per-package order for simultaneous events.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].EventTime < all[j].EventTime
	})
	return all
}

func (s *Simulator) packageLifecycle(id int) []schema.Event {
	pkgID := strconv.Itoa(id)
	origin := s.randomCenter()
	dest := s.randomCenter()
	declared := s.drawDeclaredValue()
	weight := s.drawWeight()

	intakeTime := s.start + (int64(id-1)*s.cfg.IntakeRunTime*secondsPerMinute)/int64(s.cfg.PackageCount)
	eta := intakeTime + estimateDeliverySeconds(s.paths[origin], s.paths[dest], TruckMinutes(origin, dest))

	var events []schema.Event
	now := intakeTime
	scanner := schema.ScannerIntake
	center := origin

	emit := func(next schema.ScannerID, nextCenter schema.CenterCode, nextTime int64) {
		ev := schema.Event{
			EventTime:     now,
			SortingCenter: center,
			PackageID:     pkgID,
			ScannerID:     scanner,
		}
		if next != "" {
			ev.NextScannerID = next
			ev.NextEventTime = nextTime
			if nextCenter != center {
				ev.NextSortingCenter = nextCenter
			}
		}
		switch scanner {
		case schema.ScannerIntake:
			ev.Destination = dest
			ev.DeclaredValue = &declared
			ev.EstimatedDeliveryTime = eta
		case schema.ScannerWeighing:
			ev.Weight = &weight
		}
		events = append(events, ev)
	}

	// advance moves the cursor to the actual scan time of the next event,
	// strictly at or just before the announced time. Reports false when the
	// package would outlive the simulation horizon.
	advance := func(next schema.ScannerID, announced int64) bool {
		scanTime := announced - s.rng.Int63n(jitterSeconds+1)
		if scanTime > s.horizon {
			return false
		}
		now = scanTime
		scanner = next
		return true
	}

	for _, h := range s.paths[origin].originWalk(origin, dest) {
		emit(h.next, origin, now+h.travel)
		if !advance(h.next, now+h.travel) {
			return events
		}
	}

	if dest == origin {
		emit("", "", 0) // terminal output scan
		return events
	}

	// Hand-off: the holding_<dest> scan announces arrival at the destination
	// after the next top-of-the-hour truck plus its travel time.
	arrival := topOfNextHour(now) + TruckMinutes(origin, dest)*secondsPerMinute
	emit(schema.ScannerReceiving, dest, arrival)
	if !advance(schema.ScannerReceiving, arrival) {
		return events
	}
	center = dest

	for _, h := range s.paths[dest].destinationWalk() {
		emit(h.next, dest, now+h.travel)
		if !advance(h.next, now+h.travel) {
			return events
		}
	}
	emit("", "", 0) // terminal output scan
	return events
}

func (s *Simulator) applyDisruption(pkgID string, events []schema.Event) []schema.Event {
	d, ok := s.disruptions[pkgID]
	if !ok || d.EventIndex >= len(events) {
		return events
	}
	if d.Lost {
		// The event at the fault index still announces its next scan; it
		// simply never happens.
		return events[:d.EventIndex+1]
	}
	// Delayed: every event after the fault index slips by two hours. The
	// fault event keeps its original announcement, so the expected time on
	// record predates the late scan.
	for i := d.EventIndex + 1; i < len(events); i++ {
		events[i].EventTime += delaySeconds
		if events[i].NextEventTime != 0 {
			events[i].NextEventTime += delaySeconds
		}
	}
	return events
}

func (s *Simulator) randomCenter() schema.CenterCode {
	return schema.CenterCodes[s.rng.Intn(len(schema.CenterCodes))]
}

// drawDeclaredValue picks a customs value between $1.00 and $1000.00.
func (s *Simulator) drawDeclaredValue() decimal.Decimal {
	cents := s.rng.Int63n(99901) + 100
	return decimal.New(cents, -2)
}

// drawWeight picks a parcel weight between 0.10 and 75.00 kg.
func (s *Simulator) drawWeight() decimal.Decimal {
	hundredths := s.rng.Int63n(7491) + 10
	return decimal.New(hundredths, -2)
}
