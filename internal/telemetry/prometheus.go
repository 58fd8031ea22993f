package telemetry

import "github.com/prometheus/client_golang/prometheus"

// promMetrics mirrors the in-memory counters above as real Prometheus
// collectors so the same numbers are scrapeable without re-deriving them
// from the JSON snapshot.
type promMetrics struct {
	registry *prometheus.Registry

	activeStreams    prometheus.Gauge
	connectionsTotal prometheus.Counter
	bytesTotal       prometheus.Counter
	segmentsTotal    prometheus.Counter
	partsTotal       prometheus.Counter
	droppedTotal     prometheus.Counter
	latencyMs        prometheus.Histogram
}

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()

	m := &promMetrics{
		registry: registry,
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "streampack",
			Name:      "active_streams",
			Help:      "Number of streams currently publishing.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampack",
			Name:      "connections_total",
			Help:      "Total number of publish sessions accepted.",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampack",
			Name:      "bytes_total",
			Help:      "Total bytes emitted across all segments.",
		}),
		segmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampack",
			Name:      "segments_total",
			Help:      "Total segments emitted across all streams.",
		}),
		partsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampack",
			Name:      "parts_total",
			Help:      "Total LL-HLS parts emitted across all streams.",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "streampack",
			Name:      "dropped_segments_total",
			Help:      "Total segments dropped across all streams.",
		}),
		latencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "streampack",
			Name:      "latency_milliseconds",
			Help:      "Observed end-to-end latency samples, in milliseconds.",
			Buckets:   []float64{200, 500, 1000, 2000, 3000, 5000, 10000},
		}),
	}

	registry.MustRegister(
		m.activeStreams,
		m.connectionsTotal,
		m.bytesTotal,
		m.segmentsTotal,
		m.partsTotal,
		m.droppedTotal,
		m.latencyMs,
	)

	return m
}
