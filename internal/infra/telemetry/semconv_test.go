package telemetry

import "testing"

func TestEventAttributes(t *testing.T) {
	attrs := EventAttributes("development", "A", "intake")
	if len(attrs) != 3 {
		t.Fatalf("expected 3 attributes, got %d", len(attrs))
	}
	if attrs[1].Key != AttrCenter || attrs[1].Value.AsString() != "A" {
		t.Fatalf("unexpected center attribute: %v", attrs[1])
	}
}

func TestTroubleAttributes(t *testing.T) {
	attrs := TroubleAttributes("development", "B", "delayed_package")
	if attrs[2].Key != AttrTroubleType || attrs[2].Value.AsString() != "delayed_package" {
		t.Fatalf("unexpected trouble type attribute: %v", attrs[2])
	}
}
