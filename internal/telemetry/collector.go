// Package telemetry implements the Metrics Collector & Latency Monitor:
// per-stream counters and rolling latency windows, the derived trend
// classification and optimisation hints, and a combined JSON export. A
// Prometheus registry is kept alongside the in-memory snapshot so the same
// counters are also scrapeable, following the ManuGH-xg2g retrieval pack's
// use of github.com/prometheus/client_golang for stream-facing gauges.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const latencyWindowCap = 100

// Collector aggregates StreamMetrics per stream id and the process-wide
// ServerMetrics. The top-level map is guarded by a dedicated RWMutex;
// individual stream records own their own RWMutex so a metrics export never
// blocks a concurrent counter update for an unrelated stream.
type Collector struct {
	mu      sync.RWMutex
	streams map[string]*streamState

	startTime        time.Time
	targetLatency    time.Duration
	totalConnections counterI64
	totalBytesServed counterI64
	serverAvgLatency averageF64 // across active streams, per spec.md §4.6

	depHealth map[string]bool

	prom *promMetrics
}

type streamState struct {
	mu sync.RWMutex

	segments        uint64
	parts           uint64
	totalBytes      uint64
	droppedSegments uint64

	avgSegmentSeconds averageF64
	avgPartSeconds    averageF64

	startTime       time.Time
	lastSegmentTime time.Time

	latency []LatencyMeasurement
}

// averageF64 tracks a running mean via avgₙ = (avgₙ₋₁·(n−1) + xₙ)/n.
type averageF64 struct {
	value float64
	n     uint64
}

func (a *averageF64) observe(x float64) {
	a.n++
	a.value = (a.value*float64(a.n-1) + x) / float64(a.n)
}

// counterI64 is a plain mutex-free counter; callers already hold the
// Collector-level lock whenever they touch one, so no atomics are needed.
type counterI64 uint64

// NewCollector constructs an empty Collector. targetLatency feeds the
// optimisation-hint thresholds (spec.md §4.6).
func NewCollector(targetLatency time.Duration) *Collector {
	return &Collector{
		streams:       make(map[string]*streamState),
		startTime:     time.Now(),
		targetLatency: targetLatency,
		depHealth:     make(map[string]bool),
		prom:          newPromMetrics(),
	}
}

// SetDependencyHealth records the last-observed liveness of an external
// collaborator (e.g. "auth_gateway", "object_store") by name, surfaced
// verbatim in the server snapshot's dependency_health map.
func (c *Collector) SetDependencyHealth(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.depHealth[name] = healthy
}

// Registry exposes the Prometheus registry backing this collector so the
// caller can mount promhttp.HandlerFor on it.
func (c *Collector) Registry() *prometheus.Registry {
	return c.prom.registry
}

// RegisterStream begins tracking a new stream's metrics from zero.
func (c *Collector) RegisterStream(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.streams[streamID]; exists {
		return
	}
	now := time.Now()
	c.streams[streamID] = &streamState{startTime: now}
	c.prom.activeStreams.Set(float64(len(c.streams)))
}

// RemoveStream stops tracking a stream and drops its accumulated state.
func (c *Collector) RemoveStream(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, streamID)
	c.prom.activeStreams.Set(float64(len(c.streams)))
}

// RecordConnection increments the process-wide connection counter.
func (c *Collector) RecordConnection() {
	c.mu.Lock()
	c.totalConnections++
	c.mu.Unlock()
	c.prom.connectionsTotal.Inc()
}

func (c *Collector) stream(streamID string) *streamState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streams[streamID]
}

// RecordSegment accounts for one emitted segment: its duration (seconds),
// its byte size, and the wall-clock time it was produced.
func (c *Collector) RecordSegment(streamID string, durationSeconds float64, bytes uint64, producedAt time.Time) {
	st := c.stream(streamID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.segments++
	st.totalBytes += bytes
	st.lastSegmentTime = producedAt
	st.avgSegmentSeconds.observe(durationSeconds)
	st.mu.Unlock()

	c.mu.Lock()
	c.totalBytesServed += counterI64(bytes)
	c.mu.Unlock()

	c.prom.segmentsTotal.Inc()
	c.prom.bytesTotal.Add(float64(bytes))
}

// RecordPart accounts for one emitted LL-HLS part's duration (seconds).
func (c *Collector) RecordPart(streamID string, durationSeconds float64) {
	st := c.stream(streamID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.parts++
	st.avgPartSeconds.observe(durationSeconds)
	st.mu.Unlock()
	c.prom.partsTotal.Inc()
}

// RecordDroppedSegment increments the dropped-segment counter for a stream.
func (c *Collector) RecordDroppedSegment(streamID string) {
	st := c.stream(streamID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.droppedSegments++
	st.mu.Unlock()
	c.prom.droppedTotal.Inc()
}

// RecordLatency appends a latency sample to the stream's FIFO window,
// evicting the oldest entry once the window exceeds latencyWindowCap, and
// folds the sample into the server-wide running average latency.
func (c *Collector) RecordLatency(streamID string, m LatencyMeasurement) {
	st := c.stream(streamID)
	if st == nil {
		return
	}
	st.mu.Lock()
	st.latency = append(st.latency, m)
	if len(st.latency) > latencyWindowCap {
		st.latency = st.latency[len(st.latency)-latencyWindowCap:]
	}
	st.mu.Unlock()

	c.mu.Lock()
	active := float64(len(c.streams))
	c.serverAvgLatency.value = (c.serverAvgLatency.value*active + m.LatencyMs) / (active + 1)
	c.mu.Unlock()

	c.prom.latencyMs.Observe(m.LatencyMs)
}

// average returns the mean latency of samples newer than now-windowSeconds,
// or (0, false) when no such sample exists.
func (s *streamState) average(windowSeconds float64, now time.Time) (float64, bool) {
	cutoff := now.Add(-time.Duration(windowSeconds * float64(time.Second)))
	var sum float64
	var n int
	for _, m := range s.latency {
		if m.Timestamp.After(cutoff) {
			sum += m.LatencyMs
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// trend classifies the stream's latency direction per spec.md §4.6.
func (s *streamState) trend() Trend {
	n := len(s.latency)
	if n < 10 {
		return TrendStable
	}
	recent := s.latency[n-5:]
	previous := s.latency[n-10 : n-5]
	recentMean := meanOf(recent)
	previousMean := meanOf(previous)
	if previousMean == 0 {
		return TrendStable
	}
	change := (recentMean - previousMean) / previousMean
	switch {
	case change > 0.10:
		return TrendIncreasing
	case change < -0.10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func meanOf(ms []LatencyMeasurement) float64 {
	var sum float64
	for _, m := range ms {
		sum += m.LatencyMs
	}
	return sum / float64(len(ms))
}

// hints derives optimisation hints from the average latency against the
// collector's configured target, per spec.md §4.6.
func (c *Collector) hints(avgLatencyMs float64, trend Trend) []Hint {
	targetMs := float64(c.targetLatency.Milliseconds())
	if targetMs <= 0 {
		return nil
	}
	var hints []Hint
	if avgLatencyMs > 1.5*targetMs {
		hints = append(hints, HintReduceSegmentDuration)
	}
	if avgLatencyMs > 2*targetMs {
		hints = append(hints, HintReducePartDuration)
	}
	if avgLatencyMs > 3*targetMs {
		hints = append(hints, HintEnableServerPush)
	}
	switch trend {
	case TrendIncreasing:
		hints = append(hints, HintCheckNetwork)
	case TrendDecreasing:
		hints = append(hints, HintLatencyImproving)
	}
	return hints
}

// bitrate computes bits/sec from total bytes and elapsed wall-clock time;
// reports 0 when elapsed is not positive.
func bitrate(totalBytes uint64, startTime, lastSegmentTime time.Time) float64 {
	elapsed := lastSegmentTime.Sub(startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(totalBytes) * 8 / elapsed
}

// StreamSnapshot renders the current StreamMetrics for one stream.
func (c *Collector) StreamSnapshot(streamID string) (StreamMetrics, bool) {
	st := c.stream(streamID)
	if st == nil {
		return StreamMetrics{}, false
	}
	st.mu.RLock()
	defer st.mu.RUnlock()

	now := time.Now()
	avgLatency, _ := st.average(10, now)
	trend := st.trend()

	return StreamMetrics{
		StreamID:              streamID,
		Segments:              st.segments,
		Parts:                 st.parts,
		TotalBytes:            st.totalBytes,
		DroppedSegments:       st.droppedSegments,
		AverageSegmentSeconds: st.avgSegmentSeconds.value,
		AveragePartSeconds:    st.avgPartSeconds.value,
		CurrentBitrateBps:     bitrate(st.totalBytes, st.startTime, st.lastSegmentTime),
		LastSegmentTime:       st.lastSegmentTime,
		AverageLatencyMs:      avgLatency,
		Trend:                 trend,
		Hints:                 c.hints(avgLatency, trend),
	}, true
}

// ServerSnapshot renders the current process-wide ServerMetrics.
func (c *Collector) ServerSnapshot() ServerMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uptime := time.Since(c.startTime)
	health := make(map[string]bool, len(c.depHealth))
	for name, ok := range c.depHealth {
		health[name] = ok
	}
	return ServerMetrics{
		ActiveStreams:    len(c.streams),
		TotalConnections: uint64(c.totalConnections),
		TotalBytesServed: uint64(c.totalBytesServed),
		AverageLatencyMs: c.serverAvgLatency.value,
		Uptime:           uptime,
		UptimeSeconds:    uptime.Seconds(),
		StartTime:        c.startTime,
		DependencyHealth: health,
	}
}

// Export renders the combined JSON snapshot described in spec.md §4.6.
func (c *Collector) Export() Snapshot {
	c.mu.RLock()
	ids := make([]string, 0, len(c.streams))
	for id := range c.streams {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	streams := make(map[string]StreamMetrics, len(ids))
	for _, id := range ids {
		if snap, ok := c.StreamSnapshot(id); ok {
			streams[id] = snap
		}
	}

	return Snapshot{
		Server:  c.ServerSnapshot(),
		Streams: streams,
	}
}
