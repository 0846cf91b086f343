// Package schema defines the scan-event, trouble-event, and package-record
// shapes shared by the simulator, importer, pipeline, and reporter.
package schema

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// CenterCode identifies one of the four sorting centers.
type CenterCode string

const (
	CenterA CenterCode = "A"
	CenterB CenterCode = "B"
	CenterC CenterCode = "C"
	CenterD CenterCode = "D"
)

// CenterCodes lists every sorting center in canonical order.
var CenterCodes = []CenterCode{CenterA, CenterB, CenterC, CenterD}

// Valid reports whether the code names a known sorting center.
func (c CenterCode) Valid() bool {
	switch c {
	case CenterA, CenterB, CenterC, CenterD:
		return true
	default:
		return false
	}
}

// ScannerID identifies one scanner station inside a sorting center.
type ScannerID string

const (
	// ScannerIntake is the first scan of a package entering the network.
	ScannerIntake ScannerID = "intake"
	// ScannerWeighing records the package weight.
	ScannerWeighing ScannerID = "weighing"
	// ScannerPreRouting precedes the routing belt.
	ScannerPreRouting ScannerID = "pre-routing"
	// ScannerRouting decides between local delivery and an outbound truck.
	ScannerRouting ScannerID = "routing"
	// ScannerHolding is the destination-side holding area before output.
	ScannerHolding ScannerID = "holding"
	// ScannerReceiving is the first scan after a truck arrives.
	ScannerReceiving ScannerID = "receiving"
	// ScannerOutput is the terminal delivery scan.
	ScannerOutput ScannerID = "output"
	// ScannerEndOfStream marks the importer's drain sentinel; not a real scan.
	ScannerEndOfStream ScannerID = "end-of-stream"
)

// HoldingFor returns the origin-side holding scanner for an outbound truck,
// suffixed with the destination center (e.g. holding_B).
func HoldingFor(dest CenterCode) ScannerID {
	return ScannerID("holding_" + string(dest))
}

// Valid reports whether the scanner id is one of the known stations.
func (s ScannerID) Valid() bool {
	switch s {
	case ScannerIntake, ScannerWeighing, ScannerPreRouting, ScannerRouting,
		ScannerHolding, ScannerReceiving, ScannerOutput, ScannerEndOfStream:
		return true
	}
	if rest, ok := strings.CutPrefix(string(s), "holding_"); ok {
		return CenterCode(rest).Valid()
	}
	return false
}

// Public reports whether scans from this station appear in the
// customer-visible tracking record.
func (s ScannerID) Public() bool {
	switch s {
	case ScannerIntake, ScannerReceiving, ScannerOutput:
		return true
	}
	if rest, ok := strings.CutPrefix(string(s), "holding_"); ok {
		return CenterCode(rest).Valid()
	}
	return false
}

// Stream and table names shared by every tool.
const (
	// TroubleStreamName carries delayed/late/lost trouble events.
	TroubleStreamName = "trouble-events"
	// TablePackageAttributes is the per-package attribute KV table.
	TablePackageAttributes = "package-attributes"
	// TablePackageEvents is the per-package public tracking KV table.
	TablePackageEvents = "package-events"
)

// InputStreamName returns the per-center scan-event stream name.
func InputStreamName(center CenterCode) string {
	return "sorting-center-input-" + string(center)
}

// Event is a single scanner observation. Optional fields are omitted from
// the wire form when absent; next_event_time is present iff next_scanner_id
// is.
type Event struct {
	EventTime             int64            `json:"event_time"`
	SortingCenter         CenterCode       `json:"sorting_center"`
	PackageID             string           `json:"package_id"`
	ScannerID             ScannerID        `json:"scanner_id"`
	NextScannerID         ScannerID        `json:"next_scanner_id,omitempty"`
	NextEventTime         int64            `json:"next_event_time,omitempty"`
	NextSortingCenter     CenterCode       `json:"next_sorting_center,omitempty"`
	Destination           CenterCode       `json:"destination,omitempty"`
	DeclaredValue         *decimal.Decimal `json:"declared_value,omitempty"`
	EstimatedDeliveryTime int64            `json:"estimated_delivery_time,omitempty"`
	Weight                *decimal.Decimal `json:"weight,omitempty"`
}

// EventKind tags the shape of an event so stages can switch on it instead of
// probing optional fields.
type EventKind int

const (
	KindTransit EventKind = iota
	KindIntake
	KindWeighing
	KindHandoff
	KindOutput
	KindEndOfStream
)

// Kind classifies the event by its scanner. Hand-offs are the origin-side
// holding_<X> scans; pre-routing, routing, plain holding, and receiving are
// transit.
func (e *Event) Kind() EventKind {
	switch e.ScannerID {
	case ScannerEndOfStream:
		return KindEndOfStream
	case ScannerIntake:
		return KindIntake
	case ScannerWeighing:
		return KindWeighing
	case ScannerOutput:
		return KindOutput
	}
	if strings.HasPrefix(string(e.ScannerID), "holding_") {
		return KindHandoff
	}
	return KindTransit
}

// IsSentinel reports whether the event is the importer's drain marker.
func (e *Event) IsSentinel() bool {
	return e.ScannerID == ScannerEndOfStream
}

// HasNext reports whether the event predicts a follow-up scan.
func (e *Event) HasNext() bool {
	return e.NextScannerID != ""
}

// NextCenter is the center where the next scan is expected: the hand-off
// target when set, the current center otherwise.
func (e *Event) NextCenter() CenterCode {
	if e.NextSortingCenter != "" {
		return e.NextSortingCenter
	}
	return e.SortingCenter
}

// Validate checks the structural constraints the pipeline depends on.
func (e *Event) Validate() error {
	if e.EventTime <= 0 {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithMessage("event_time required"))
	}
	if !e.SortingCenter.Valid() {
		return errs.New("schema/event", errs.CodeInvalid,
			errs.WithMessage("unknown sorting_center"), errs.WithField("sorting_center", string(e.SortingCenter)))
	}
	if !e.ScannerID.Valid() {
		return errs.New("schema/event", errs.CodeInvalid,
			errs.WithMessage("unknown scanner_id"), errs.WithField("scanner_id", string(e.ScannerID)))
	}
	if e.PackageID == "" && !e.IsSentinel() {
		return errs.New("schema/event", errs.CodeInvalid, errs.WithMessage("package_id required"))
	}
	if (e.NextScannerID == "") != (e.NextEventTime == 0) {
		return errs.New("schema/event", errs.CodeInvalid,
			errs.WithMessage("next_scanner_id and next_event_time must be set together"))
	}
	if e.NextScannerID != "" && !e.NextScannerID.Valid() {
		return errs.New("schema/event", errs.CodeInvalid,
			errs.WithMessage("unknown next_scanner_id"), errs.WithField("next_scanner_id", string(e.NextScannerID)))
	}
	if e.NextSortingCenter != "" && !e.NextSortingCenter.Valid() {
		return errs.New("schema/event", errs.CodeInvalid,
			errs.WithMessage("unknown next_sorting_center"), errs.WithField("next_sorting_center", string(e.NextSortingCenter)))
	}
	return nil
}

// Encode renders the canonical JSON wire form.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errs.New("schema/event", errs.CodeInvalid, errs.WithMessage("encode event"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeEvent parses and validates one wire-form event.
func DecodeEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errs.New("schema/event", errs.CodeMalformed,
			errs.WithMessage("decode event"), errs.WithField("payload", string(data)), errs.WithCause(err))
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
