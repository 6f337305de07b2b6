package realtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName scopes the broadcaster's instruments.
const InstrumentationName = "github.com/thebtf/synapse/internal/worker/realtime"

// metrics holds the broadcaster's OpenTelemetry instruments.
type metrics struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	dropped      metric.Int64Counter
	relayed      metric.Int64Counter
	connections  metric.Int64UpDownCounter
	tickPanics   metric.Int64Counter
}

// newMetrics registers instruments on meter, or on the global provider when
// meter is nil.
func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &metrics{}
	var err error

	m.ticks, err = meter.Int64Counter(
		"synapse.realtime.ticks_total",
		metric.WithDescription("Simulation ticks executed per workspace"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, err
	}

	m.tickDuration, err = meter.Float64Histogram(
		"synapse.realtime.tick_duration_ms",
		metric.WithDescription("Time to step every active workspace and fan out updates"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.dropped, err = meter.Int64Counter(
		"synapse.realtime.dropped_messages_total",
		metric.WithDescription("Outbound messages dropped because a send buffer was full"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	m.relayed, err = meter.Int64Counter(
		"synapse.realtime.relayed_events_total",
		metric.WithDescription("Client events relayed to room members"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	m.connections, err = meter.Int64UpDownCounter(
		"synapse.realtime.connections",
		metric.WithDescription("Open realtime connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	m.tickPanics, err = meter.Int64Counter(
		"synapse.realtime.tick_panics_total",
		metric.WithDescription("Recovered panics in the tick loop"),
		metric.WithUnit("{panic}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordTick(ctx context.Context, rooms int, elapsed time.Duration) {
	m.ticks.Add(ctx, int64(rooms))
	m.tickDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
}

func (m *metrics) recordRelay(ctx context.Context, event string) {
	m.relayed.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
