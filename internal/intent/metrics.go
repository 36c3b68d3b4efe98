package intent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the Intent Engine's monitoring contract (spec.md §4.2,
// "Engine statistics") as Prometheus series, grounded on the teacher's
// promauto.NewCounterVec/NewGaugeVec usage in its former
// internal/escrow/metrics.go.
type Metrics struct {
	intentsTotal    *prometheus.CounterVec
	bidsReceived    prometheus.Counter
	failoversTotal  prometheus.Counter
	cleanupRuns     prometheus.Counter
	intentsEvicted  prometheus.Counter
	activeIntents   prometheus.Gauge
	activeTimers    prometheus.Gauge
}

// NewMetrics registers the Intent Engine's series against reg. Pass
// prometheus.DefaultRegisterer for process-wide export, or a fresh
// registry per test to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		intentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "intents_total",
			Help:      "Intents by terminal/creation outcome.",
		}, []string{"outcome"}),
		bidsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "bids_received_total",
			Help:      "Bids accepted by submit_bid.",
		}),
		failoversTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "failovers_total",
			Help:      "Failover handoffs performed.",
		}),
		cleanupRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "cleanup_runs_total",
			Help:      "Memory-reclamation passes run.",
		}),
		intentsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "intents_evicted_total",
			Help:      "Terminal intents evicted by retention or cap.",
		}),
		activeIntents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "active_intents",
			Help:      "Intents currently held in memory.",
		}),
		activeTimers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "synapse",
			Subsystem: "intent_engine",
			Name:      "active_timers",
			Help:      "Armed (non-cancelled) scheduler entries.",
		}),
	}
}

func (m *Metrics) observeCreated()                 { m.intentsTotal.WithLabelValues("created").Inc() }
func (m *Metrics) observeCompleted()               { m.intentsTotal.WithLabelValues("completed").Inc() }
func (m *Metrics) observeFailed()                  { m.intentsTotal.WithLabelValues("failed").Inc() }
func (m *Metrics) observeCancelled()               { m.intentsTotal.WithLabelValues("cancelled").Inc() }
func (m *Metrics) observeBidReceived()             { m.bidsReceived.Inc() }
func (m *Metrics) observeFailover()                { m.failoversTotal.Inc() }
func (m *Metrics) observeCleanupRun(evicted int)    {
	m.cleanupRuns.Inc()
	if evicted > 0 {
		m.intentsEvicted.Add(float64(evicted))
	}
}
func (m *Metrics) setGauges(activeIntents, activeTimers int) {
	m.activeIntents.Set(float64(activeIntents))
	m.activeTimers.Set(float64(activeTimers))
}
