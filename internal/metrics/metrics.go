// Package metrics exposes prometheus counters for the balance engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

type Metrics struct {
	EventsProcessed   *prometheus.CounterVec
	EventsDuplicate   *prometheus.CounterVec
	EventsRejected    *prometheus.CounterVec
	InsufficientFunds prometheus.Counter
	VersionConflicts  prometheus.Counter
	OutboxPublished   prometheus.Counter
	OutboxFailures    prometheus.Counter
	DispatchDuration  *prometheus.HistogramVec
}

func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors against reg. Tests pass their own
// registry so parallel packages do not collide on the default one.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointledger_events_processed_total",
			Help: "Inbound events applied to a balance, by kind.",
		}, []string{"kind"}),
		EventsDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointledger_events_duplicate_total",
			Help: "Inbound events skipped because they were already processed.",
		}, []string{"kind"}),
		EventsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pointledger_events_rejected_total",
			Help: "Inbound events rejected as malformed, by kind.",
		}, []string{"kind"}),
		InsufficientFunds: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointledger_insufficient_balance_total",
			Help: "Debits refused because the balance could not cover the cost.",
		}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointledger_version_conflicts_total",
			Help: "Conditional balance writes lost to a concurrent writer.",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointledger_outbox_published_total",
			Help: "Outbox events delivered to the broker.",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pointledger_outbox_failures_total",
			Help: "Outbox publish attempts that failed.",
		}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pointledger_dispatch_duration_seconds",
			Help:    "Wall time of one router dispatch, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

var Module = fx.Module("metrics",
	fx.Provide(New),
)
