// Package observe provides application-wide observability primitives for the
// greeter: OpenTelemetry metrics, distributed tracing, and structured
// logging helpers.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all greeter metrics.
const meterName = "github.com/baominh/greeter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Audio pipeline counters ---

	// UplinkChunks counts encoded microphone chunks sent to the provider.
	UplinkChunks metric.Int64Counter

	// UplinkBytes counts uplink payload bytes.
	UplinkBytes metric.Int64Counter

	// DownlinkChunks counts audio chunks received from the provider.
	DownlinkChunks metric.Int64Counter

	// DownlinkBytes counts downlink payload bytes.
	DownlinkBytes metric.Int64Counter

	// Interruptions counts barge-in events that discarded scheduled playback.
	Interruptions metric.Int64Counter

	// Turns counts completed conversation turns. Use with attribute:
	//   attribute.String("role", ...)
	Turns metric.Int64Counter

	// ProductMentions counts catalog products referenced in model speech. Use
	// with attribute: attribute.String("product", ...)
	ProductMentions metric.Int64Counter

	// SessionReconnects counts automatic session reconnections.
	SessionReconnects metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts live provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Histograms ---

	// SchedulingLag tracks the audible gap when a downlink chunk arrives
	// after the previous one finished playing.
	SchedulingLag metric.Float64Histogram

	// HTTPRequestDuration tracks admin endpoint request latency. Used by
	// [Middleware].
	HTTPRequestDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// Speaking tracks whether each party is audibly speaking. Use with
	// attribute: attribute.String("who", "user"|"assistant")
	Speaking metric.Int64UpDownCounter
}

// lagBuckets defines histogram bucket boundaries (in seconds) sized for
// inter-chunk playback gaps.
var lagBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.UplinkChunks, err = m.Int64Counter("greeter.uplink.chunks",
		metric.WithDescription("Total encoded microphone chunks sent to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.UplinkBytes, err = m.Int64Counter("greeter.uplink.bytes",
		metric.WithDescription("Total uplink payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.DownlinkChunks, err = m.Int64Counter("greeter.downlink.chunks",
		metric.WithDescription("Total audio chunks received from the live provider."),
	); err != nil {
		return nil, err
	}
	if met.DownlinkBytes, err = m.Int64Counter("greeter.downlink.bytes",
		metric.WithDescription("Total downlink payload bytes."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("greeter.playback.interruptions",
		metric.WithDescription("Total barge-in events that discarded scheduled playback."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("greeter.turns",
		metric.WithDescription("Total completed conversation turns by role."),
	); err != nil {
		return nil, err
	}
	if met.ProductMentions, err = m.Int64Counter("greeter.catalog.mentions",
		metric.WithDescription("Total catalog products referenced in model speech."),
	); err != nil {
		return nil, err
	}
	if met.SessionReconnects, err = m.Int64Counter("greeter.session.reconnects",
		metric.WithDescription("Total automatic session reconnections."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("greeter.provider.errors",
		metric.WithDescription("Total live provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SchedulingLag, err = m.Float64Histogram("greeter.playback.lag",
		metric.WithDescription("Audible gap when a downlink chunk arrives late."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("greeter.http.request.duration",
		metric.WithDescription("Admin endpoint request latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("greeter.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}
	if met.Speaking, err = m.Int64UpDownCounter("greeter.speaking",
		metric.WithDescription("Whether a party is audibly speaking, by who."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordUplinkChunk records one uplink chunk and its size.
func (m *Metrics) RecordUplinkChunk(ctx context.Context, bytes int) {
	m.UplinkChunks.Add(ctx, 1)
	m.UplinkBytes.Add(ctx, int64(bytes))
}

// RecordDownlinkChunk records one downlink chunk and its size.
func (m *Metrics) RecordDownlinkChunk(ctx context.Context, bytes int) {
	m.DownlinkChunks.Add(ctx, 1)
	m.DownlinkBytes.Add(ctx, int64(bytes))
}

// RecordInterruption records a barge-in event.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	m.Interruptions.Add(ctx, 1)
}

// RecordTurn records a completed turn for the given role.
func (m *Metrics) RecordTurn(ctx context.Context, role string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordProductMention records a detected catalog product mention.
func (m *Metrics) RecordProductMention(ctx context.Context, product string) {
	m.ProductMentions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("product", product)),
	)
}

// RecordReconnect records an automatic session reconnection.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	m.SessionReconnects.Add(ctx, 1)
}

// RecordProviderError records a live provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSpeakingChange records a speaking state edge for the given party.
func (m *Metrics) RecordSpeakingChange(ctx context.Context, who string, speaking bool) {
	delta := int64(-1)
	if speaking {
		delta = 1
	}
	m.Speaking.Add(ctx, delta,
		metric.WithAttributes(attribute.String("who", who)),
	)
}

// ObserveSchedulingLag records an audible playback gap.
func (m *Metrics) ObserveSchedulingLag(ctx context.Context, lag time.Duration) {
	m.SchedulingLag.Record(ctx, lag.Seconds())
}
