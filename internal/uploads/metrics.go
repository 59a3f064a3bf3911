package uploads

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes upload counters. A nil *Metrics records nothing.
type Metrics struct {
	Started   prometheus.Counter
	Coalesced prometheus.Counter
	Completed *prometheus.CounterVec
	Duration  prometheus.Histogram
}

// NewMetrics creates upload metrics and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "uploads",
			Name:      "started_total",
			Help:      "Physical uploads started.",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "uploads",
			Name:      "coalesced_total",
			Help:      "Acquire calls attached to an existing upload task.",
		}),
		Completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "uploads",
			Name:      "completed_total",
			Help:      "Uploads that reached a terminal state, by result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "groupcast",
			Subsystem: "uploads",
			Name:      "duration_seconds",
			Help:      "Time from upload start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Started, m.Coalesced, m.Completed, m.Duration)
	}
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.Started.Inc()
}

func (m *Metrics) coalesced() {
	if m == nil {
		return
	}
	m.Coalesced.Inc()
}

func (m *Metrics) finished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Completed.WithLabelValues(result).Inc()
	m.Duration.Observe(elapsed.Seconds())
}
