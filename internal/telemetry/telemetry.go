// Package telemetry bridges otel instruments onto the service's prometheus registry.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/mohammad-safakhou/kernelplanner/config"
)

// Telemetry owns the otel meter provider.
type Telemetry struct {
	mp *sdkmetric.MeterProvider
}

// Options names the service in exported resource attributes.
type Options struct {
	ServiceName    string
	ServiceVersion string
}

// Setup installs a global meter provider whose instruments are exported through reg.
// With telemetry disabled it leaves the no-op global provider in place.
func Setup(ctx context.Context, cfg config.TelemetryConfig, reg prometheus.Registerer, opts Options) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			attribute.String("service.namespace", "kernelplanner"),
			attribute.String("service.version", opts.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("resource init: %w", err)
	}
	exporter, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("prom exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	return &Telemetry{mp: mp}, nil
}

// Shutdown flushes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.mp == nil {
		return nil
	}
	return t.mp.Shutdown(ctx)
}
