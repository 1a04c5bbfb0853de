package metrics

import (
	"math"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fosonet/fosonet/internal/conn"
)

type fakeSource struct {
	snapshots  []conn.Snapshot
	latencies  []float64
	histograms []conn.LatencyHistogram
	temporary  int
}

func (f fakeSource) EstablishedSnapshots() []conn.Snapshot                  { return f.snapshots }
func (f fakeSource) TemporaryCount() int                                   { return f.temporary }
func (f fakeSource) EstablishedLatencies() []float64                       { return f.latencies }
func (f fakeSource) EstablishedLatencyHistograms() []conn.LatencyHistogram { return f.histograms }

func TestCollectorReportsAggregates(t *testing.T) {
	source := fakeSource{
		snapshots: []conn.Snapshot{
			{PacketsSent: 10, PacketsRecv: 8, BytesSent: 1000, BytesRecv: 800, Dropped: 1},
			{PacketsSent: 5, PacketsRecv: 5, BytesSent: 500, BytesRecv: 500, Dropped: 0},
		},
		latencies: []float64{0.01, 0.02},
		histograms: []conn.LatencyHistogram{
			{Buckets: map[float64]uint64{0.01: 1, 0.05: 3}, Count: 3, Sum: 0.07},
			{Buckets: map[float64]uint64{0.01: 0, 0.05: 2}, Count: 2, Sum: 0.08},
		},
		temporary: 3,
	}
	collector := NewCollector(source)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	if v := findGaugeValue(t, families, "fosonet_connections_established"); v != 2 {
		t.Errorf("fosonet_connections_established = %v, want 2", v)
	}
	if v := findGaugeValue(t, families, "fosonet_connections_temporary"); v != 3 {
		t.Errorf("fosonet_connections_temporary = %v, want 3", v)
	}
	if v := findCounterValue(t, families, "fosonet_packets_sent_total"); v != 15 {
		t.Errorf("fosonet_packets_sent_total = %v, want 15", v)
	}
	if v := findCounterValue(t, families, "fosonet_bytes_received_total"); v != 1300 {
		t.Errorf("fosonet_bytes_received_total = %v, want 1300", v)
	}
	if v := findCounterValue(t, families, "fosonet_packets_dropped_total"); v != 1 {
		t.Errorf("fosonet_packets_dropped_total = %v, want 1", v)
	}

	hist := findHistogram(t, families, "fosonet_latency_seconds")
	if hist.GetSampleCount() != 5 {
		t.Errorf("fosonet_latency_seconds sample count = %d, want 5", hist.GetSampleCount())
	}
	if math.Abs(hist.GetSampleSum()-0.15) > 1e-9 {
		t.Errorf("fosonet_latency_seconds sample sum = %v, want 0.15", hist.GetSampleSum())
	}
	var gotBucket1 uint64
	for _, b := range hist.GetBucket() {
		if b.GetUpperBound() == 0.05 {
			gotBucket1 = b.GetCumulativeCount()
		}
	}
	if gotBucket1 != 5 {
		t.Errorf("fosonet_latency_seconds bucket le=0.05 = %d, want 5", gotBucket1)
	}
}

func findGaugeValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric family %s not found", name)
	return 0
}

func findCounterValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric family %s not found", name)
	return 0
}

func findHistogram(t *testing.T, families []*dto.MetricFamily, name string) *dto.Histogram {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetHistogram()
		}
	}
	t.Fatalf("metric family %s not found", name)
	return nil
}
