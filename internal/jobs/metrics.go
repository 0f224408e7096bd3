package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds the collectors shared by every background job.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	lastSuccess  *prometheus.GaugeVec
	expiringLots prometheus.Gauge
	purgedKeys   prometheus.Counter
	now          func() time.Time
}

var (
	processOnce    sync.Once
	processMetrics *Metrics
)

// NewMetrics registers the collectors on reg. A nil reg yields a single
// process-wide instance on the default registerer, so repeated calls do not
// panic on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg != nil {
		return register(reg)
	}
	processOnce.Do(func() { processMetrics = register(prometheus.DefaultRegisterer) })
	return processMetrics
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apotheca",
			Name:      "jobs_total",
			Help:      "Job runs by job name and outcome.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apotheca",
			Name:      "jobs_failures_total",
			Help:      "Failed job runs by job name.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apotheca",
			Name:      "job_duration_seconds",
			Help:      "Wall time of a job run.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "apotheca",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
		expiringLots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "apotheca",
			Subsystem: "inventory",
			Name:      "expiring_lots",
			Help:      "Warehouse lots with stock expiring inside the warning window.",
		}),
		purgedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apotheca",
			Subsystem: "idempotency",
			Name:      "keys_purged_total",
			Help:      "Idempotency keys removed after retention.",
		}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.lastSuccess, m.expiringLots, m.purgedKeys)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	began time.Time
}

// Track starts timing a run of job. Safe on a nil receiver.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, began: time.Now()}
}

// End records the outcome and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil || t.job == "" {
		return err
	}
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.began).Seconds())
	if err != nil {
		t.m.runs.WithLabelValues(t.job, outcomeFailure).Inc()
		t.m.failures.WithLabelValues(t.job).Inc()
		return err
	}
	t.m.runs.WithLabelValues(t.job, outcomeSuccess).Inc()
	t.m.lastSuccess.WithLabelValues(t.job).Set(float64(t.m.now().Unix()))
	return nil
}

// SetExpiringLots publishes the lot count found by the latest expiry scan.
func (m *Metrics) SetExpiringLots(count int) {
	if m != nil {
		m.expiringLots.Set(float64(count))
	}
}

func (m *Metrics) AddPurgedKeys(count int64) {
	if m != nil && count > 0 {
		m.purgedKeys.Add(float64(count))
	}
}
