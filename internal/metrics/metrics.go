// Package metrics exposes a fosonet server's connection table as
// Prometheus metrics: a custom Collector walks the live connection
// tables on every scrape rather than duplicating counters that
// internal/conn already owns.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fosonet/fosonet/internal/conn"
)

// ConnectionSource is the subset of *server.Context a Collector needs:
// snapshots of every live connection's stats, without metrics needing
// to import internal/server (which would create an import cycle once
// the server wires the collector in).
type ConnectionSource interface {
	EstablishedSnapshots() []conn.Snapshot
	TemporaryCount() int
	EstablishedLatencies() []float64
	EstablishedLatencyHistograms() []conn.LatencyHistogram
}

// Collector implements prometheus.Collector by walking a
// ConnectionSource's tables at scrape time.
type Collector struct {
	source ConnectionSource

	established    *prometheus.Desc
	temporary      *prometheus.Desc
	packetsSent    *prometheus.Desc
	packetsRecv    *prometheus.Desc
	bytesSent      *prometheus.Desc
	bytesRecv      *prometheus.Desc
	dropped        *prometheus.Desc
	latencySeconds *prometheus.Desc
	latencyHist    *prometheus.Desc
}

// NewCollector builds a Collector reading from source.
func NewCollector(source ConnectionSource) *Collector {
	return &Collector{
		source: source,
		established: prometheus.NewDesc(
			"fosonet_connections_established", "Number of established connections.", nil, nil),
		temporary: prometheus.NewDesc(
			"fosonet_connections_temporary", "Number of in-handshake connections.", nil, nil),
		packetsSent: prometheus.NewDesc(
			"fosonet_packets_sent_total", "Lifetime packets sent, summed across established connections.", nil, nil),
		packetsRecv: prometheus.NewDesc(
			"fosonet_packets_received_total", "Lifetime packets received, summed across established connections.", nil, nil),
		bytesSent: prometheus.NewDesc(
			"fosonet_bytes_sent_total", "Lifetime bytes sent, summed across established connections.", nil, nil),
		bytesRecv: prometheus.NewDesc(
			"fosonet_bytes_received_total", "Lifetime bytes received, summed across established connections.", nil, nil),
		dropped: prometheus.NewDesc(
			"fosonet_packets_dropped_total", "Lifetime dropped datagrams, summed across established connections.", nil, nil),
		latencySeconds: prometheus.NewDesc(
			"fosonet_connection_latency_seconds", "Per-connection EMA of half the round-trip time.", []string{"connection"}, nil),
		latencyHist: prometheus.NewDesc(
			"fosonet_latency_seconds", "Distribution of half round-trip latency samples, summed across established connections.", nil, nil),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.established
	descs <- c.temporary
	descs <- c.packetsSent
	descs <- c.packetsRecv
	descs <- c.bytesSent
	descs <- c.bytesRecv
	descs <- c.dropped
	descs <- c.latencySeconds
	descs <- c.latencyHist
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	snapshots := c.source.EstablishedSnapshots()

	var packetsSent, packetsRecv, bytesSent, bytesRecv, dropped uint64
	for _, s := range snapshots {
		packetsSent += s.PacketsSent
		packetsRecv += s.PacketsRecv
		bytesSent += s.BytesSent
		bytesRecv += s.BytesRecv
		dropped += s.Dropped
	}

	metrics <- prometheus.MustNewConstMetric(c.established, prometheus.GaugeValue, float64(len(snapshots)))
	metrics <- prometheus.MustNewConstMetric(c.temporary, prometheus.GaugeValue, float64(c.source.TemporaryCount()))
	metrics <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(packetsSent))
	metrics <- prometheus.MustNewConstMetric(c.packetsRecv, prometheus.CounterValue, float64(packetsRecv))
	metrics <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(bytesSent))
	metrics <- prometheus.MustNewConstMetric(c.bytesRecv, prometheus.CounterValue, float64(bytesRecv))
	metrics <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(dropped))

	// The "connection" label is the connection's position in this
	// scrape's list, so each gauge sample is a distinct series.
	for i, latency := range c.source.EstablishedLatencies() {
		metrics <- prometheus.MustNewConstMetric(c.latencySeconds, prometheus.GaugeValue, latency, strconv.Itoa(i))
	}

	histograms := c.source.EstablishedLatencyHistograms()
	if len(histograms) > 0 {
		var totalCount uint64
		var totalSum float64
		buckets := make(map[float64]uint64, len(histograms[0].Buckets))
		for _, h := range histograms {
			totalCount += h.Count
			totalSum += h.Sum
			for le, n := range h.Buckets {
				buckets[le] += n
			}
		}
		metrics <- prometheus.MustNewConstHistogram(c.latencyHist, totalCount, totalSum, buckets)
	}
}

// Serve registers collector against a fresh registry and blocks serving
// /metrics on addr until the listener fails.
func Serve(addr string, collector *Collector) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
