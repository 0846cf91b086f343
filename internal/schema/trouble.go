package schema

import (
	json "github.com/goccy/go-json"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// TroubleType classifies a trouble event.
type TroubleType string

const (
	// TroubleDelayedPackage fires when a package misses its expected next scan.
	TroubleDelayedPackage TroubleType = "delayed_package"
	// TroubleLateDelivery fires when a package is delivered after its ETA.
	TroubleLateDelivery TroubleType = "late_delivery"
	// TroubleLostPackage fires at drain for packages declared late and never
	// seen again.
	TroubleLostPackage TroubleType = "lost_package"
)

// Valid reports whether the trouble type is known.
func (t TroubleType) Valid() bool {
	switch t {
	case TroubleDelayedPackage, TroubleLateDelivery, TroubleLostPackage:
		return true
	default:
		return false
	}
}

// TroubleEvent is one record on the trouble-events stream. ExpectedEventTime
// is set for delayed_package and late_delivery; NextScannerID (the
// "<center>/<scanner>" value stored in the next-scanner hash) only for
// delayed_package.
type TroubleEvent struct {
	EventTime         int64       `json:"event_time"`
	EventType         TroubleType `json:"event_type"`
	PackageID         string      `json:"package_id"`
	SortingCenter     CenterCode  `json:"sorting_center"`
	ExpectedEventTime int64       `json:"expected_event_time,omitempty"`
	NextScannerID     string      `json:"next_scanner_id,omitempty"`
}

// Validate checks the structural constraints the reporter depends on.
func (t *TroubleEvent) Validate() error {
	if t.EventTime <= 0 {
		return errs.New("schema/trouble", errs.CodeInvalid, errs.WithMessage("event_time required"))
	}
	if !t.EventType.Valid() {
		return errs.New("schema/trouble", errs.CodeInvalid,
			errs.WithMessage("unknown event_type"), errs.WithField("event_type", string(t.EventType)))
	}
	if t.PackageID == "" {
		return errs.New("schema/trouble", errs.CodeInvalid, errs.WithMessage("package_id required"))
	}
	if !t.SortingCenter.Valid() {
		return errs.New("schema/trouble", errs.CodeInvalid,
			errs.WithMessage("unknown sorting_center"), errs.WithField("sorting_center", string(t.SortingCenter)))
	}
	return nil
}

// Encode renders the canonical JSON wire form.
func (t *TroubleEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, errs.New("schema/trouble", errs.CodeInvalid, errs.WithMessage("encode trouble event"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeTroubleEvent parses and validates one wire-form trouble event.
func DecodeTroubleEvent(data []byte) (*TroubleEvent, error) {
	var ev TroubleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errs.New("schema/trouble", errs.CodeMalformed,
			errs.WithMessage("decode trouble event"), errs.WithField("payload", string(data)), errs.WithCause(err))
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}
