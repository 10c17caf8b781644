package processor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/eleven-am/perception-backend/processor"

var tracer = otel.Tracer(meterName)

type instruments struct {
	events           metric.Int64Counter
	providerCalls    metric.Int64Counter
	providerDuration metric.Float64Histogram
	evictions        metric.Int64Counter
}

// newInstruments binds to the global meter provider. Instrument creation
// errors leave a no-op instrument in place.
func newInstruments() instruments {
	m := otel.Meter(meterName)
	events, _ := m.Int64Counter("perception.events",
		metric.WithDescription("Pipeline events emitted, by type"))
	calls, _ := m.Int64Counter("perception.provider.calls",
		metric.WithDescription("Full analysis calls, by outcome"))
	duration, _ := m.Float64Histogram("perception.provider.duration_ms",
		metric.WithDescription("Full analysis latency"),
		metric.WithUnit("ms"))
	evictions, _ := m.Int64Counter("perception.streams.evicted",
		metric.WithDescription("Stream states evicted by the stream cap"))
	return instruments{events: events, providerCalls: calls, providerDuration: duration, evictions: evictions}
}

func (i instruments) event(ctx context.Context, ev Event) {
	if i.events == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("type", string(ev.Type))}
	if ev.Reason != "" {
		attrs = append(attrs, attribute.String("reason", string(ev.Reason)))
	}
	i.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (i instruments) providerCall(ctx context.Context, ms float64, outcome string) {
	if i.providerCalls == nil {
		return
	}
	i.providerCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	i.providerDuration.Record(ctx, ms)
}

func (i instruments) evicted(ctx context.Context) {
	if i.evictions == nil {
		return
	}
	i.evictions.Add(ctx, 1)
}
