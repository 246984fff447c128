package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the total across all data points of an int64 sum metric.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestAudioChunkCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUplinkChunk(ctx, 4096)
	m.RecordUplinkChunk(ctx, 4096)
	m.RecordDownlinkChunk(ctx, 9600)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "greeter.uplink.chunks"); got != 2 {
		t.Errorf("uplink chunks = %d, want 2", got)
	}
	if got := sumValue(t, rm, "greeter.uplink.bytes"); got != 8192 {
		t.Errorf("uplink bytes = %d, want 8192", got)
	}
	if got := sumValue(t, rm, "greeter.downlink.chunks"); got != 1 {
		t.Errorf("downlink chunks = %d, want 1", got)
	}
	if got := sumValue(t, rm, "greeter.downlink.bytes"); got != 9600 {
		t.Errorf("downlink bytes = %d, want 9600", got)
	}
}

func TestTurnsCounterByRole(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "user")
	m.RecordTurn(ctx, "user")
	m.RecordTurn(ctx, "model")

	rm := collect(t, reader)
	met := findMetric(rm, "greeter.turns")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "role" && kv.Value.AsString() == "user" {
				if dp.Value != 2 {
					t.Errorf("user turns = %d, want 2", dp.Value)
				}
				return
			}
		}
	}
	t.Error("data point with role=user not found")
}

func TestProductMentionsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProductMention(ctx, "Jasmine Rice")
	m.RecordProductMention(ctx, "Jasmine Rice")
	m.RecordProductMention(ctx, "Fish Sauce")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "greeter.catalog.mentions"); got != 3 {
		t.Errorf("product mentions = %d, want 3", got)
	}
}

func TestInterruptionsAndReconnects(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordInterruption(ctx)
	m.RecordReconnect(ctx)
	m.RecordReconnect(ctx)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "greeter.playback.interruptions"); got != 1 {
		t.Errorf("interruptions = %d, want 1", got)
	}
	if got := sumValue(t, rm, "greeter.session.reconnects"); got != 2 {
		t.Errorf("reconnects = %d, want 2", got)
	}
}

func TestSpeakingUpDownCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSpeakingChange(ctx, "user", true)
	m.RecordSpeakingChange(ctx, "assistant", true)
	m.RecordSpeakingChange(ctx, "assistant", false)

	rm := collect(t, reader)
	met := findMetric(rm, "greeter.speaking")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}

	values := map[string]int64{}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == "who" {
				values[kv.Value.AsString()] = dp.Value
			}
		}
	}
	if values["user"] != 1 {
		t.Errorf("user speaking = %d, want 1", values["user"])
	}
	if values["assistant"] != 0 {
		t.Errorf("assistant speaking = %d, want 0", values["assistant"])
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "gemini-live", "receive")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "greeter.provider.errors"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestSchedulingLagHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveSchedulingLag(ctx, 30*time.Millisecond)
	m.ObserveSchedulingLag(ctx, 120*time.Millisecond)

	rm := collect(t, reader)
	met := findMetric(rm, "greeter.playback.lag")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 2 {
		t.Errorf("sample count = %d, want 2", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "greeter.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
