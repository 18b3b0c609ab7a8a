package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the engine
// side effects they drive.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lowStock    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	dropped     *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddLowStockAlerts counts low-stock notifications created with severity.
func (m *Metrics) AddLowStockAlerts(severity string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.lowStock.WithLabelValues(severity).Add(float64(count))
}

// AddMenuTransition counts availability flips. direction is "eighty_sixed" or "restored".
func (m *Metrics) AddMenuTransition(direction string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(direction).Inc()
}

// AddBroadcastDropped counts events the dispatcher could not enqueue.
func (m *Metrics) AddBroadcastDropped(event string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(event).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mise_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lowStock := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_low_stock_alerts_total",
		Help: "Low-stock notifications created, by severity.",
	}, []string{"severity"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_menu_transitions_total",
		Help: "Menu availability transitions, by direction.",
	}, []string{"direction"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mise_broadcast_dropped_total",
		Help: "Broadcast events dropped before reaching any transport.",
	}, []string{"event"})
	registerer.MustRegister(runs, failures, duration, lowStock, transitions, dropped)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		duration:    duration,
		lowStock:    lowStock,
		transitions: transitions,
		dropped:     dropped,
	}
}
