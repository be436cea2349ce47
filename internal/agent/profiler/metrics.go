package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "gprofiler"

// Metrics are the supervisor's Prometheus instruments. A nil *Metrics records nothing.
type Metrics struct {
	sessions         *prometheus.CounterVec
	crashes          prometheus.Counter
	activeSessions   prometheus.Gauge
	discovered       prometheus.Gauge
	snapshotDuration prometheus.Histogram
	samples          prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "java",
			Name:      "sessions_total",
			Help:      "Profiling sessions by result.",
		}, []string{"result"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "java",
			Name:      "crashes_total",
			Help:      "Profiled JVMs that crashed with a hotspot error log.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "java",
			Name:      "active_sessions",
			Help:      "Sessions currently attached.",
		}),
		discovered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "java",
			Name:      "discovered_processes",
			Help:      "Processes found by the last discovery.",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_duration_seconds",
			Help:      "Wall time of a profiling cycle.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "java",
			Name:      "samples_total",
			Help:      "Stack samples collected.",
		}),
	}

	for _, c := range []prometheus.Collector{m.sessions, m.crashes, m.activeSessions, m.discovered, m.snapshotDuration, m.samples} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeResult(r *ProcessResult) {
	if m == nil {
		return
	}
	result := "ok"
	if r.Failure != nil {
		result = string(r.Failure.Kind)
	} else if r.Profile != nil {
		m.samples.Add(float64(r.Profile.Total()))
	}
	m.sessions.WithLabelValues(result).Inc()
	if r.Crash != nil {
		m.crashes.Inc()
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.activeSessions.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.activeSessions.Dec()
	}
}

func (m *Metrics) observeSnapshot(r *SnapshotResult, discovered int) {
	if m == nil {
		return
	}
	m.discovered.Set(float64(discovered))
	m.snapshotDuration.Observe(r.End.Sub(r.Start).Seconds())
}
