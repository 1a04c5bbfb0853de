package conn

import (
	"sync"
	"sync/atomic"
)

// latencyBuckets are the cumulative upper bounds (seconds) of the
// half round-trip latency histogram, matching prometheus.DefBuckets.
var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Stats accumulates lifetime counters and a cumulative latency
// histogram, all touched only from the scheduler thread that owns the
// connection. Snapshot and LatencyHistogram return immutable copies for
// any reader outside that thread (e.g. a metrics collector) rather than
// reading live Stats fields.
type Stats struct {
	packetsSent uint64
	packetsRecv uint64
	bytesSent   uint64
	bytesRecv   uint64
	dropped     uint64

	mu            sync.Mutex
	latencyCounts []uint64
	latencySum    float64
	latencyCount  uint64
}

// NewStats constructs an empty Stats.
func NewStats() *Stats {
	return &Stats{latencyCounts: make([]uint64, len(latencyBuckets))}
}

// RecordSent updates the lifetime counters for one sent packet of n
// bytes.
func (s *Stats) RecordSent(n int) {
	atomic.AddUint64(&s.packetsSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(n))
}

// RecordRecv updates the lifetime counters for one received (and
// accepted) packet of n bytes.
func (s *Stats) RecordRecv(n int) {
	atomic.AddUint64(&s.packetsRecv, 1)
	atomic.AddUint64(&s.bytesRecv, uint64(n))
}

// RecordDropped increments the dropped-datagram counter (AEAD failure,
// CRC failure, or duplicate packet seq).
func (s *Stats) RecordDropped() {
	atomic.AddUint64(&s.dropped, 1)
}

// RecordLatency folds one half round-trip latency sample (seconds) into the
// cumulative latency histogram.
func (s *Stats) RecordLatency(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencySum += seconds
	s.latencyCount++
	for i, le := range latencyBuckets {
		if seconds <= le {
			s.latencyCounts[i]++
		}
	}
}

// Dropped returns the lifetime dropped-datagram count.
func (s *Stats) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Snapshot is an immutable copy of a connection's lifetime counters,
// safe to read from any goroutine (it is a value, not a pointer into
// live state).
type Snapshot struct {
	PacketsSent uint64
	PacketsRecv uint64
	BytesSent   uint64
	BytesRecv   uint64
	Dropped     uint64
}

// Snapshot copies the lifetime counters out. Callers outside the
// scheduler thread (metrics, diagnostics) must use this rather than
// reading the live Stats fields directly.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		PacketsSent: atomic.LoadUint64(&s.packetsSent),
		PacketsRecv: atomic.LoadUint64(&s.packetsRecv),
		BytesSent:   atomic.LoadUint64(&s.bytesSent),
		BytesRecv:   atomic.LoadUint64(&s.bytesRecv),
		Dropped:     atomic.LoadUint64(&s.dropped),
	}
}

// LatencyHistogram is an immutable snapshot of one connection's
// cumulative half round-trip latency distribution, shaped for
// prometheus.NewConstHistogram (bucket upper bound -> cumulative count
// of samples at or below it).
type LatencyHistogram struct {
	Buckets map[float64]uint64
	Count   uint64
	Sum     float64
}

// LatencyHistogram copies the cumulative latency histogram out.
func (s *Stats) LatencyHistogram() LatencyHistogram {
	s.mu.Lock()
	defer s.mu.Unlock()
	buckets := make(map[float64]uint64, len(latencyBuckets))
	for i, le := range latencyBuckets {
		buckets[le] = s.latencyCounts[i]
	}
	return LatencyHistogram{Buckets: buckets, Count: s.latencyCount, Sum: s.latencySum}
}
