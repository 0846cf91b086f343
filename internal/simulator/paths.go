package simulator

import (
	"math/rand"

	"github.com/bkc/dell-unbounded-hackathon-2021/internal/schema"
)

const (
	secondsPerMinute = 60
	secondsPerHour   = 3600
)

// truckTravelMinutes is the fixed inter-center truck schedule. Same-center
// entries are zero; a zero means no hand-off leg.
var truckTravelMinutes = map[schema.CenterCode]map[schema.CenterCode]int64{
	schema.CenterA: {schema.CenterA: 0, schema.CenterB: 1440, schema.CenterC: 2880, schema.CenterD: 7200},
	schema.CenterB: {schema.CenterA: 1440, schema.CenterB: 0, schema.CenterC: 1440, schema.CenterD: 7200},
	schema.CenterC: {schema.CenterA: 2880, schema.CenterB: 1440, schema.CenterC: 0, schema.CenterD: 7200},
	schema.CenterD: {schema.CenterA: 7200, schema.CenterB: 7200, schema.CenterC: 7200, schema.CenterD: 0},
}

// TruckMinutes returns the truck travel time between two centers in minutes.
func TruckMinutes(from, to schema.CenterCode) int64 {
	return truckTravelMinutes[from][to]
}

// hop is one conveyor link, named by the scanner the package reaches next.
type hop struct {
	next   schema.ScannerID
	travel int64 // seconds
}

// centerPaths holds one center's conveyor travel times, drawn once per run.
// The leading self-check entries of each leg are used only for delivery
// estimates; the walk starts at the second entry.
type centerPaths struct {
	intakeLeg    []hop
	receivingLeg []hop
	outputHop    hop
	holdingHop   hop
}

func drawCenterPaths(rng *rand.Rand) *centerPaths {
	minutes := func(lo, hi int64) int64 {
		return (lo + rng.Int63n(hi-lo+1)) * secondsPerMinute
	}
	return &centerPaths{
		intakeLeg: []hop{
			{next: schema.ScannerIntake, travel: minutes(2, 5)},
			{next: schema.ScannerWeighing, travel: minutes(2, 5)},
			{next: schema.ScannerPreRouting, travel: minutes(2, 5)},
			{next: schema.ScannerRouting, travel: minutes(5, 10)},
		},
		receivingLeg: []hop{
			{next: schema.ScannerReceiving, travel: minutes(2, 5)},
			{next: schema.ScannerPreRouting, travel: minutes(2, 5)},
			{next: schema.ScannerRouting, travel: minutes(5, 10)},
		},
		outputHop:  hop{next: schema.ScannerOutput, travel: minutes(5, 15)},
		holdingHop: hop{next: schema.ScannerHolding, travel: minutes(5, 15)},
	}
}

// originWalk lists the hops actually scanned at the origin center: the intake
// leg, then either the output hop (local delivery) or the holding hop renamed
// for the destination.
func (p *centerPaths) originWalk(origin, dest schema.CenterCode) []hop {
	walk := append([]hop(nil), p.intakeLeg[1:]...)
	if dest == origin {
		return append(walk, p.outputHop)
	}
	handoff := p.holdingHop
	handoff.next = schema.HoldingFor(dest)
	return append(walk, handoff)
}

// destinationWalk lists the hops scanned at the destination center after the
// truck arrives: the receiving leg, the holding buffer, then output.
func (p *centerPaths) destinationWalk() []hop {
	walk := append([]hop(nil), p.receivingLeg[1:]...)
	return append(walk, p.holdingHop, p.outputHop)
}

func legSeconds(leg []hop) int64 {
	var total int64
	for _, h := range leg {
		total += h.travel
	}
	return total
}

// estimateDeliverySeconds is the advertised door-to-door duration: the summed
// leg times plus the truck ride, rounded up to a whole hour, plus a 30-minute
// safety pad.
func estimateDeliverySeconds(origin, dest *centerPaths, truckMin int64) int64 {
	var raw int64
	if truckMin == 0 {
		raw = legSeconds(origin.intakeLeg) + origin.outputHop.travel
	} else {
		raw = legSeconds(origin.intakeLeg) + origin.holdingHop.travel +
			truckMin*secondsPerMinute +
			legSeconds(dest.receivingLeg) + dest.outputHop.travel
	}
	return roundUpHour(raw) + 30*secondsPerMinute
}

func roundUpHour(seconds int64) int64 {
	return (seconds + secondsPerHour - 1) / secondsPerHour * secondsPerHour
}

func topOfNextHour(t int64) int64 {
	return (t/secondsPerHour + 1) * secondsPerHour
}
