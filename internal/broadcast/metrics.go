package broadcast

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes broadcast counters. A nil *Metrics records nothing.
type Metrics struct {
	Broadcasts       *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	Invalid          prometheus.Counter
}

// NewMetrics creates broadcast metrics and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "broadcast",
			Name:      "outcomes_total",
			Help:      "Broadcast sends and retries by classification.",
		}, []string{"classification"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "broadcast",
			Name:      "deliveries_total",
			Help:      "Per-target delivery attempts by result.",
		}, []string{"result"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "groupcast",
			Subsystem: "broadcast",
			Name:      "delivery_duration_seconds",
			Help:      "Latency of a single delivery attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		Invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "groupcast",
			Subsystem: "broadcast",
			Name:      "invalid_requests_total",
			Help:      "Requests rejected before any upload or delivery.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Broadcasts, m.Deliveries, m.DeliveryDuration, m.Invalid)
	}
	return m
}

func (m *Metrics) outcome(c Classification) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(string(c)).Inc()
}

func (m *Metrics) delivery(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(result).Inc()
	m.DeliveryDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) invalid() {
	if m == nil {
		return
	}
	m.Invalid.Inc()
}
