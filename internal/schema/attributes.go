package schema

import (
	"sort"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/bkc/dell-unbounded-hackathon-2021/errs"
)

// PackageAttributes is the package-attributes KV record (key = package_id).
// Created by the first intake scan, mutated by weighing and output, never
// deleted. Absent fields stay out of the stored JSON object.
type PackageAttributes struct {
	IntakeTime            int64            `json:"intake_time,omitempty"`
	Origin                CenterCode       `json:"origin,omitempty"`
	Destination           CenterCode       `json:"destination,omitempty"`
	DeclaredValue         *decimal.Decimal `json:"declared_value,omitempty"`
	EstimatedDeliveryTime int64            `json:"estimated_delivery_time,omitempty"`
	Weight                *decimal.Decimal `json:"weight,omitempty"`
	DeliveredTime         int64            `json:"delivered_time,omitempty"`
}

// Encode renders the stored JSON object.
func (a *PackageAttributes) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, errs.New("schema/attributes", errs.CodeInvalid, errs.WithMessage("encode attributes"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeAttributes parses a stored attribute record.
func DecodeAttributes(data []byte) (*PackageAttributes, error) {
	var rec PackageAttributes
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.New("schema/attributes", errs.CodeMalformed,
			errs.WithMessage("decode attributes"), errs.WithField("payload", string(data)), errs.WithCause(err))
	}
	return &rec, nil
}

// PublicEvent is one customer-visible tracking entry.
type PublicEvent struct {
	EventTime     int64      `json:"event_time"`
	SortingCenter CenterCode `json:"sorting_center"`
	ScannerID     ScannerID  `json:"scanner_id"`
}

// TrackingList is the package-events KV record: public scans sorted
// ascending by event_time, at most one entry per event_time.
type TrackingList []PublicEvent

// Insert returns the list with ev added in sorted position, or the list
// unchanged when an entry with the same event_time already exists. The bool
// reports whether an insert happened; dedup-by-event-time is what makes
// replaying a stream over a preserved table a no-op.
func (l TrackingList) Insert(ev PublicEvent) (TrackingList, bool) {
	i := sort.Search(len(l), func(i int) bool { return l[i].EventTime >= ev.EventTime })
	if i < len(l) && l[i].EventTime == ev.EventTime {
		return l, false
	}
	out := make(TrackingList, 0, len(l)+1)
	out = append(out, l[:i]...)
	out = append(out, ev)
	out = append(out, l[i:]...)
	return out, true
}

// Encode renders the stored JSON array.
func (l TrackingList) Encode() ([]byte, error) {
	if l == nil {
		l = TrackingList{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, errs.New("schema/tracking", errs.CodeInvalid, errs.WithMessage("encode tracking list"), errs.WithCause(err))
	}
	return data, nil
}

// DecodeTrackingList parses a stored tracking record.
func DecodeTrackingList(data []byte) (TrackingList, error) {
	var list TrackingList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, errs.New("schema/tracking", errs.CodeMalformed,
			errs.WithMessage("decode tracking list"), errs.WithField("payload", string(data)), errs.WithCause(err))
	}
	return list, nil
}
