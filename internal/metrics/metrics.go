// Package metrics exposes the Housekeeper's PerformanceMetrics (§4.12) as
// Prometheus gauges, in the style grounded by other_examples' vector_clock.go
// (aidenlippert-zerostate), which registers promauto counters next to its
// vector-clock logic. client_golang is carried from the arx-os-arxos member
// of the pack.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"whiteboardcore/internal/model"
)

// Registry wraps the gauges/counters the engine updates on every Housekeeper
// sweep and conflict resolution.
type Registry struct {
	OperationCount        prometheus.Counter
	AvgLatencyMs          prometheus.Gauge
	MaxLatencyMs          prometheus.Gauge
	ConflictRate          prometheus.Gauge
	ResolutionSuccessRate prometheus.Gauge
	ThroughputPerSecond   prometheus.Gauge
	MemoryBytes           prometheus.Gauge
	ActiveUsers           prometheus.Gauge
	QueueSize             prometheus.Gauge

	ConflictsDetected prometheus.Counter
	BackpressureTrips prometheus.Counter
	RateLimited       prometheus.Counter
}

// New registers a fresh set of metrics against reg. Pass prometheus.NewRegistry()
// in tests to avoid colliding with the global default registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		OperationCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_core_operations_total",
			Help: "Total element operations processed by the OT engine.",
		}),
		AvgLatencyMs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_avg_latency_ms",
			Help: "Average operation processing latency over the current sample window.",
		}),
		MaxLatencyMs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_max_latency_ms",
			Help: "Maximum operation processing latency over the current sample window.",
		}),
		ConflictRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_conflict_rate",
			Help: "Fraction of processed operations that produced a conflict.",
		}),
		ResolutionSuccessRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_resolution_success_rate",
			Help: "Fraction of detected conflicts resolved without manual intervention.",
		}),
		ThroughputPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_throughput_per_second",
			Help: "Operations committed per second over the current sample window.",
		}),
		MemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_memory_bytes",
			Help: "Approximate memory held by caches and the spatial index.",
		}),
		ActiveUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_active_users",
			Help: "Users with a non-expired selection in the last sweep.",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whiteboard_core_queue_size",
			Help: "Current depth of the per-whiteboard operation queue.",
		}),
		ConflictsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_core_conflicts_detected_total",
			Help: "Total conflicts detected across all conflict types.",
		}),
		BackpressureTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_core_backpressure_trips_total",
			Help: "Times the queue handler shed load due to saturation.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "whiteboard_core_rate_limited_total",
			Help: "Requests rejected by the per-client token bucket.",
		}),
	}
}

// Observe updates the gauges from a freshly computed snapshot. Counters are
// incremented by their own call sites, not here.
func (r *Registry) Observe(m model.PerformanceMetrics) {
	r.AvgLatencyMs.Set(m.AvgLatencyMs)
	r.MaxLatencyMs.Set(m.MaxLatencyMs)
	r.ConflictRate.Set(m.ConflictRate)
	r.ResolutionSuccessRate.Set(m.ResolutionSuccessRate)
	r.ThroughputPerSecond.Set(m.ThroughputPerSecond)
	r.MemoryBytes.Set(float64(m.MemoryBytes))
	r.ActiveUsers.Set(float64(m.ActiveUsers))
	r.QueueSize.Set(float64(m.QueueSize))
}
