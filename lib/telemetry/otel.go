// Package telemetry configures the OpenTelemetry metric pipeline for tracker
// binaries.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	apimetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config selects where metrics are exported and how they are labelled.
type Config struct {
	// OTLPEndpoint is the OTLP/HTTP collector address. Empty disables export
	// and installs no-op providers.
	OTLPEndpoint string
	// ServiceName labels exported metrics; defaults to "parcel-tracker".
	ServiceName string
	// Environment tags metrics with a deployment environment name.
	Environment string
}

// Providers groups telemetry provider handles.
type Providers struct {
	MeterProvider apimetric.MeterProvider
}

var (
	environmentMu sync.RWMutex
	environment   string
)

// Init configures the OpenTelemetry metric exporter based on the provided
// configuration. The returned shutdown func flushes pending metrics.
func Init(ctx context.Context, cfg Config) (Providers, func(context.Context) error, error) {
	setEnvironment(cfg.Environment)

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "parcel-tracker"
	}

	if endpoint == "" {
		noopProviders := Providers{MeterProvider: noop.NewMeterProvider()}
		otel.SetMeterProvider(noopProviders.MeterProvider)
		return noopProviders, func(context.Context) error { return nil }, nil
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return Providers{}, nil, err
	}

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return Providers{}, nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	providers := Providers{MeterProvider: mp}
	shutdown := func(ctx context.Context) error {
		return mp.Shutdown(ctx)
	}
	return providers, shutdown, nil
}

// Environment returns the configured environment name for use in metric
// labels.
func Environment() string {
	environmentMu.RLock()
	defer environmentMu.RUnlock()
	if environment == "" {
		return "development"
	}
	return environment
}

func setEnvironment(name string) {
	environmentMu.Lock()
	defer environmentMu.Unlock()
	environment = strings.TrimSpace(name)
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
