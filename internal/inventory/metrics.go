package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts committed and failed movements.
type Metrics struct {
	movements *prometheus.CounterVec
	units     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics registers the movement collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apotheca_inventory_movements_total",
			Help: "Committed stock movements by kind.",
		}, []string{"kind"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apotheca_inventory_units_moved_total",
			Help: "Packs moved by committed movements, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apotheca_inventory_movement_failures_total",
			Help: "Rejected or failed movements by kind and reason.",
		}, []string{"kind", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apotheca_inventory_movement_duration_seconds",
			Help:    "Time from request to commit per movement kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.movements, m.units, m.failures, m.duration)
	}
	return m
}

func (m *Metrics) observe(evt MovementEvent, elapsed time.Duration) {
	if m == nil {
		return
	}
	kind := string(evt.Kind)
	m.movements.WithLabelValues(kind).Inc()
	m.units.WithLabelValues(kind).Add(float64(evt.Units()))
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) failed(kind MovementKind, err error) {
	if m == nil || err == nil {
		return
	}
	reason := "internal"
	if e, ok := AsError(err); ok {
		reason = string(e.Kind)
	}
	m.failures.WithLabelValues(string(kind), reason).Inc()
}
