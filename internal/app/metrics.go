package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the session engine.
type Metrics struct {
	SessionsStarted     prometheus.Counter
	SessionsAbandoned   prometheus.Counter
	ActiveSessions      prometheus.Gauge
	Answers             *prometheus.CounterVec
	Timeouts            prometheus.Counter
	Completions         prometheus.Counter
	PersistenceFailures prometheus.Counter
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Quiz sessions started",
		}),
		SessionsAbandoned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "abandoned_total",
			Help:      "Live sessions replaced by a new start",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently in progress on this instance",
		}),
		Answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "answers_total",
			Help:      "Answer submissions by outcome",
		}, []string{"outcome"}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "timeouts_total",
			Help:      "Questions advanced by the expiry timer",
		}),
		Completions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Attempts written to the result store",
		}),
		PersistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "results",
			Name:      "write_failures_total",
			Help:      "Failed attempt writes",
		}),
	}
}
