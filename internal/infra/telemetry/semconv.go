// Package telemetry provides semantic conventions for tracker observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for tracker-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name

const (
	// AttrCenter identifies the sorting center a signal originated from.
	AttrCenter = attribute.Key("center")
	// AttrScanner labels signals with the scanner position that produced them.
	AttrScanner = attribute.Key("scanner")
	// AttrTroubleType classifies emitted trouble events (delayed_package, late_delivery, lost_package).
	AttrTroubleType = attribute.Key("trouble.type")
	// AttrStream names the stream a record was read from or appended to.
	AttrStream = attribute.Key("stream")
	// AttrResult records the outcome of an operation (success, error class, etc.).
	AttrResult = attribute.Key("result")
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
)

// EventAttributes returns common attributes for per-center event metrics.
func EventAttributes(environment, center, scanner string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrCenter.String(center),
		AttrScanner.String(scanner),
	}
}

// TroubleAttributes returns attributes for trouble-event counters.
func TroubleAttributes(environment, center, troubleType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrCenter.String(center),
		AttrTroubleType.String(troubleType),
	}
}
