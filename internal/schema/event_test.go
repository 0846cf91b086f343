package schema

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestDecodeEventRoundTripIntake(t *testing.T) {
	ev := &Event{
		EventTime:             1_600_000_000,
		SortingCenter:         CenterA,
		PackageID:             "42",
		ScannerID:             ScannerIntake,
		NextScannerID:         ScannerWeighing,
		NextEventTime:         1_600_000_180,
		Destination:           CenterB,
		DeclaredValue:         decPtr("123.45"),
		EstimatedDeliveryTime: 1_600_100_000,
	}
	data, err := ev.Encode()
	require.NoError(t, err)

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	require.Equal(t, ev.EventTime, got.EventTime)
	require.Equal(t, ev.PackageID, got.PackageID)
	require.Equal(t, ScannerIntake, got.ScannerID)
	require.Equal(t, CenterB, got.Destination)
	require.True(t, got.DeclaredValue.Equal(*ev.DeclaredValue))
	require.True(t, got.HasNext())
	require.False(t, got.IsSentinel())

	again, err := got.Encode()
	require.NoError(t, err)
	require.Equal(t, data, again, "encode must be stable across a round trip")
}

func TestDecodeEventOmitsAbsentFields(t *testing.T) {
	ev := &Event{
		EventTime:     1_600_000_500,
		SortingCenter: CenterC,
		PackageID:     "7",
		ScannerID:     ScannerOutput,
	}
	data, err := ev.Encode()
	require.NoError(t, err)
	require.NotContains(t, string(data), "next_scanner_id")
	require.NotContains(t, string(data), "next_event_time")
	require.NotContains(t, string(data), "declared_value")
	require.NotContains(t, string(data), "weight")

	got, err := DecodeEvent(data)
	require.NoError(t, err)
	require.False(t, got.HasNext())
	require.Nil(t, got.DeclaredValue)
}

func TestDecodeEventHandoff(t *testing.T) {
	raw := `{"event_time":1600003600,"sorting_center":"A","package_id":"9",` +
		`"scanner_id":"holding_B","next_scanner_id":"receiving",` +
		`"next_event_time":1600093200,"next_sorting_center":"B"}`
	ev, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, HoldingFor(CenterB), ev.ScannerID)
	require.Equal(t, ScannerReceiving, ev.NextScannerID)
	require.Equal(t, CenterB, ev.NextCenter())
}

func TestNextCenterDefaultsToCurrent(t *testing.T) {
	ev := &Event{SortingCenter: CenterD, NextScannerID: ScannerRouting, NextEventTime: 10}
	require.Equal(t, CenterD, ev.NextCenter())
}

func TestDecodeEventSentinel(t *testing.T) {
	raw := `{"event_time":1600086400,"sorting_center":"D","scanner_id":"end-of-stream"}`
	ev, err := DecodeEvent([]byte(raw))
	require.NoError(t, err)
	require.True(t, ev.IsSentinel())
	require.Empty(t, ev.PackageID)
}

func TestDecodeEventRejectsMalformedPayload(t *testing.T) {
	_, err := DecodeEvent([]byte("{not json"))
	require.Error(t, err)
}

func TestValidateRejectsBrokenEvents(t *testing.T) {
	cases := map[string]Event{
		"missing event_time": {SortingCenter: CenterA, PackageID: "1", ScannerID: ScannerIntake},
		"unknown center":     {EventTime: 1, SortingCenter: "E", PackageID: "1", ScannerID: ScannerIntake},
		"unknown scanner":    {EventTime: 1, SortingCenter: CenterA, PackageID: "1", ScannerID: "conveyor"},
		"missing package":    {EventTime: 1, SortingCenter: CenterA, ScannerID: ScannerIntake},
		"next pair split": {
			EventTime: 1, SortingCenter: CenterA, PackageID: "1",
			ScannerID: ScannerIntake, NextScannerID: ScannerWeighing,
		},
		"bad holding suffix": {
			EventTime: 1, SortingCenter: CenterA, PackageID: "1", ScannerID: "holding_Z",
		},
	}
	for name, ev := range cases {
		require.Error(t, ev.Validate(), name)
	}
}

func TestScannerPublicSet(t *testing.T) {
	public := []ScannerID{
		ScannerIntake, HoldingFor(CenterA), HoldingFor(CenterB),
		HoldingFor(CenterC), HoldingFor(CenterD), ScannerReceiving, ScannerOutput,
	}
	for _, s := range public {
		require.True(t, s.Public(), string(s))
	}
	private := []ScannerID{
		ScannerWeighing, ScannerPreRouting, ScannerRouting, ScannerHolding, ScannerEndOfStream,
	}
	for _, s := range private {
		require.False(t, s.Public(), string(s))
	}
}

func TestInputStreamName(t *testing.T) {
	require.Equal(t, "sorting-center-input-B", InputStreamName(CenterB))
}
