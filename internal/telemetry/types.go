package telemetry

import "time"

// Trend classifies the recent direction of a stream's latency.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Hint is an optimisation suggestion derived from how far average latency has
// drifted from the stream's configured target.
type Hint string

const (
	HintReduceSegmentDuration Hint = "reduce_segment_duration"
	HintReducePartDuration    Hint = "reduce_part_duration"
	HintEnableServerPush      Hint = "enable_server_push"
	HintCheckNetwork          Hint = "check_network"
	HintLatencyImproving      Hint = "latency_improving"
)

// LatencyMeasurement is one sample in a stream's rolling latency window.
type LatencyMeasurement struct {
	Timestamp time.Time
	LatencyMs float64
	// SegmentSeq is the sequence number of the segment this sample belongs to.
	SegmentSeq uint64
	// PartSeq is set when the measurement is for a part rather than a whole segment.
	PartSeq *uint64
	// ApproximateReference is true when the sample was computed against
	// wall-clock receipt time because the segment carried no
	// program_date_time to measure against. See spec.md §9.
	ApproximateReference bool
}

// StreamMetrics is the exportable snapshot of one stream's counters and
// derived statistics.
type StreamMetrics struct {
	StreamID              string    `json:"stream_id"`
	Segments              uint64    `json:"segments"`
	Parts                 uint64    `json:"parts"`
	TotalBytes            uint64    `json:"total_bytes"`
	DroppedSegments       uint64    `json:"dropped_segments"`
	AverageSegmentSeconds float64   `json:"average_segment_duration"`
	AveragePartSeconds    float64   `json:"average_part_duration"`
	CurrentBitrateBps     float64   `json:"current_bitrate_bps"`
	LastSegmentTime       time.Time `json:"last_segment_time"`
	AverageLatencyMs      float64   `json:"average_latency_ms"`
	Trend                 Trend     `json:"latency_trend"`
	Hints                 []Hint    `json:"optimization_hints"`
}

// ServerMetrics is the exportable snapshot of process-wide counters.
type ServerMetrics struct {
	ActiveStreams    int             `json:"active_streams"`
	TotalConnections uint64          `json:"total_connections"`
	TotalBytesServed uint64          `json:"total_bytes_served"`
	AverageLatencyMs float64         `json:"average_latency_ms"`
	Uptime           time.Duration   `json:"-"`
	UptimeSeconds    float64         `json:"uptime_seconds"`
	StartTime        time.Time       `json:"start_time"`
	DependencyHealth map[string]bool `json:"dependency_health"`
}

// Snapshot is the combined JSON export document described in spec.md §4.6.
type Snapshot struct {
	Server  ServerMetrics            `json:"server"`
	Streams map[string]StreamMetrics `json:"streams"`
}
