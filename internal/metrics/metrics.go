// Package metrics wires Prometheus instrumentation through the server: a
// nil *Registry is a safe no-op everywhere, mirroring the teacher's
// nil-safe *hooks.HookManager methods, so components can take a
// *metrics.Registry field without a constructor having to special-case the
// "no metrics configured" path.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every collector the server exposes. Register it with a
// prometheus.Registerer (or promhttp.Handler's default registry) once at
// startup.
type Registry struct {
	ResourceQueueDepth    *prometheus.GaugeVec
	FramesSent            *prometheus.CounterVec
	FramesPending         *prometheus.GaugeVec
	FramesReleased        *prometheus.CounterVec
	FramesDropped         *prometheus.CounterVec
	SharedMemoryUsedBytes *prometheus.GaugeVec
	SharedMemoryFreeBytes *prometheus.GaugeVec
	ClientReconnects      prometheus.Counter
	ConnectionsActive     prometheus.Gauge
}

// New constructs a Registry and registers every collector with reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ResourceQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "senscord_multiserver",
			Name:      "resource_queue_depth",
			Help:      "Pending messages in a resource adapter's standard or lock_unlock queue.",
		}, []string{"resource_kind", "queue"}),
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "senscord_multiserver",
			Name:      "frames_sent_total",
			Help:      "Frames handed to a client component via SendFrame.",
		}, []string{"resource_kind"}),
		FramesPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "senscord_multiserver",
			Name:      "frames_pending",
			Help:      "Frames sent but not yet released by the client component.",
		}, []string{"resource_kind"}),
		FramesReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "senscord_multiserver",
			Name:      "frames_released_total",
			Help:      "Frames released via ReleaseFrame.",
		}, []string{"resource_kind"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "senscord_multiserver",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by a buffering policy before delivery.",
		}, []string{"resource_kind", "policy"}),
		SharedMemoryUsedBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "senscord_multiserver",
			Name:      "shm_used_bytes",
			Help:      "Bytes currently allocated in a shared-memory region.",
		}, []string{"allocator_key"}),
		SharedMemoryFreeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "senscord_multiserver",
			Name:      "shm_free_bytes",
			Help:      "Bytes currently free in a shared-memory region.",
		}, []string{"allocator_key"}),
		ClientReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "senscord_multiserver",
			Name:      "client_reconnects_total",
			Help:      "Client component reconnect attempts to a listener.",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "senscord_multiserver",
			Name:      "connections_active",
			Help:      "Currently accepted client adapter connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			r.ResourceQueueDepth, r.FramesSent, r.FramesPending, r.FramesReleased,
			r.FramesDropped, r.SharedMemoryUsedBytes, r.SharedMemoryFreeBytes,
			r.ClientReconnects, r.ConnectionsActive,
		)
	}
	return r
}

// SetQueueDepth is a nil-safe helper for resource.Adapter's two FIFOs.
func (r *Registry) SetQueueDepth(resourceKind, queue string, depth int) {
	if r == nil {
		return
	}
	r.ResourceQueueDepth.WithLabelValues(resourceKind, queue).Set(float64(depth))
}

// AddFramesSent is a nil-safe counter increment.
func (r *Registry) AddFramesSent(resourceKind string, n int) {
	if r == nil {
		return
	}
	r.FramesSent.WithLabelValues(resourceKind).Add(float64(n))
}

// SetFramesPending is a nil-safe gauge set.
func (r *Registry) SetFramesPending(resourceKind string, n int) {
	if r == nil {
		return
	}
	r.FramesPending.WithLabelValues(resourceKind).Set(float64(n))
}

// AddFramesReleased is a nil-safe counter increment.
func (r *Registry) AddFramesReleased(resourceKind string, n int) {
	if r == nil {
		return
	}
	r.FramesReleased.WithLabelValues(resourceKind).Add(float64(n))
}

// AddFramesDropped is a nil-safe counter increment.
func (r *Registry) AddFramesDropped(resourceKind, policy string, n int) {
	if r == nil {
		return
	}
	r.FramesDropped.WithLabelValues(resourceKind, policy).Add(float64(n))
}

// SetSharedMemory is a nil-safe pair of gauge sets.
func (r *Registry) SetSharedMemory(allocatorKey string, usedBytes, freeBytes int64) {
	if r == nil {
		return
	}
	r.SharedMemoryUsedBytes.WithLabelValues(allocatorKey).Set(float64(usedBytes))
	r.SharedMemoryFreeBytes.WithLabelValues(allocatorKey).Set(float64(freeBytes))
}

// IncClientReconnects is a nil-safe counter increment.
func (r *Registry) IncClientReconnects() {
	if r == nil {
		return
	}
	r.ClientReconnects.Inc()
}

// SetConnectionsActive is a nil-safe gauge set.
func (r *Registry) SetConnectionsActive(n int) {
	if r == nil {
		return
	}
	r.ConnectionsActive.Set(float64(n))
}
