// Package metrics exposes Prometheus collectors for chat and
// escalation activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports conversation throughput, escalation outcomes, and
// session population.
type Metrics struct {
	chatRequests   *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	turnDuration   *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

var (
	defaultOnce   sync.Once
	sharedMetrics *Metrics
)

// Default returns the package-level metrics instance registered with
// the global Prometheus registry. Collectors are created once so
// repeated construction (tests, multiple servers) does not panic on
// duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs a Metrics instance using the provided registerer.
// Pass a fresh registry in tests that need isolated collectors. A
// registration error panics, matching promauto semantics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	chatRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total chat turns processed, labelled by transport and status.",
		},
		[]string{"transport", "status"},
	)
	escalations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Subsystem: "chat",
			Name:      "escalations_total",
			Help:      "Total turns that triggered a human escalation, by reason.",
		},
		[]string{"reason"},
	)
	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end latency of a chat turn including reasoning.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport"},
	)
	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "concierge",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions currently held in the store.",
		},
	)

	collectors := []prometheus.Collector{chatRequests, escalations, turnDuration, activeSessions}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case chatRequests:
						chatRequests = already.ExistingCollector.(*prometheus.CounterVec)
					case escalations:
						escalations = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case *prometheus.HistogramVec:
					turnDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case prometheus.Gauge:
					activeSessions = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		chatRequests:   chatRequests,
		escalations:    escalations,
		turnDuration:   turnDuration,
		activeSessions: activeSessions,
	}
}

// IncChatRequest counts a processed turn for the given transport
// ("http" or "websocket") and status ("ok", "error", "rejected").
func (m *Metrics) IncChatRequest(transport, status string) {
	if m == nil || m.chatRequests == nil {
		return
	}
	m.chatRequests.WithLabelValues(transport, status).Inc()
}

// IncEscalation counts a turn that asked for a human, by reason.
func (m *Metrics) IncEscalation(reason string) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.WithLabelValues(reason).Inc()
}

// ObserveTurnDuration records the end-to-end latency of a turn.
func (m *Metrics) ObserveTurnDuration(transport string, d time.Duration) {
	if m == nil || m.turnDuration == nil {
		return
	}
	m.turnDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// SetActiveSessions updates the session population gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
