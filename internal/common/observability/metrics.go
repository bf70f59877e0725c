// internal/common/observability/metrics.go
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider    *metric.MeterProvider
	meter            otelmetric.Meter
	disburseCounter  otelmetric.Int64Counter
	disburseDuration otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}
	return NewWithReader(serviceName, exporter)
}

// NewWithReader builds the pipeline over a caller-supplied reader. Tests use
// a manual reader here to assert on recorded values.
func NewWithReader(serviceName string, reader metric.Reader) *Observability {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	disburseCounter, _ := meter.Int64Counter(
		"disbursements.processed",
		otelmetric.WithDescription("Number of disbursement calls processed"),
	)

	disburseDuration, _ := meter.Float64Histogram(
		"disbursements.duration",
		otelmetric.WithDescription("Disbursement call duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider:    provider,
		meter:            meter,
		disburseCounter:  disburseCounter,
		disburseDuration: disburseDuration,
	}
}

func (o *Observability) RecordDisbursement(ctx context.Context, outcome string) {
	if o.disburseCounter != nil {
		o.disburseCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) RecordDisbursementDuration(ctx context.Context, duration time.Duration, outcome string) {
	if o.disburseDuration != nil {
		o.disburseDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
