package timeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fetch kinds reported by Metrics.
const (
	FetchKindInitial = "initial"
	FetchKindOlder   = "older"
	FetchKindThread  = "thread"
)

// Metrics exports engine counters to prometheus.
type Metrics struct {
	eventsApplied *prometheus.CounterVec
	duplicates    prometheus.Counter
	fetchLatency  *prometheus.HistogramVec
	sendFailures  prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "events_applied_total",
			Help:      "Change feed events applied to an open view, by kind.",
		}, []string{"kind"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "duplicate_inserts_total",
			Help:      "Live inserts dropped because the message was already loaded.",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "threadline",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of message page fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "threadline",
			Name:      "send_failures_total",
			Help:      "Messages whose create request failed.",
		}),
	}
	reg.MustRegister(m.eventsApplied, m.duplicates, m.fetchLatency, m.sendFailures)
	return m
}

func (m *Metrics) EventApplied(kind string) {
	m.eventsApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) DuplicateDropped() {
	m.duplicates.Inc()
}

func (m *Metrics) FetchObserved(kind string, elapsed time.Duration) {
	m.fetchLatency.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) SendFailed() {
	m.sendFailures.Inc()
}
