// Package metrics exports ledger activity as Prometheus metrics.
//
// Metrics is an engine.Listener: it only counts events that were
// committed, so a failed save never shows up as a payout.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/warp/task-ledger/engine"
)

const namespace = "taskledger"

// Metrics holds every collector the service exports.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	TasksCompleted   prometheus.Counter
	TasksAbandoned   prometheus.Counter
	RewardsCredited  prometheus.Counter
	Withdrawals      *prometheus.CounterVec
	WithdrawalAmount *prometheus.CounterVec
	AccountEvents    *prometheus.CounterVec
	CatalogEvents    *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	TickDuration     prometheus.Histogram
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Total task sessions started.",
		}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "completed_total",
			Help:      "Total task sessions that ran to completion and were paid.",
		}),
		TasksAbandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "abandoned_total",
			Help:      "Total task sessions cleared without reward.",
		}),
		RewardsCredited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rewards_credited_total",
			Help:      "Sum of rewards credited to balances.",
		}),
		Withdrawals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "total",
			Help:      "Withdrawal requests by lifecycle step.",
		}, []string{"status"}),
		WithdrawalAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "withdrawals",
			Name:      "amount_total",
			Help:      "Withdrawal amounts by lifecycle step.",
		}, []string{"status"}),
		AccountEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "users",
			Name:      "events_total",
			Help:      "Account changes by kind.",
		}, []string{"event"}),
		CatalogEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "events_total",
			Help:      "Task catalog and settings changes by kind.",
		}, []string{"event"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions active at the last ticker pass.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "tick_pass_seconds",
			Help:      "Duration of one ticker pass over all active sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
}

// OnEvent implements engine.Listener.
func (m *Metrics) OnEvent(e engine.Event) {
	amount := e.Amount.InexactFloat64()

	switch e.Kind {
	case engine.EventSessionStarted:
		m.SessionsStarted.Inc()
	case engine.EventTaskCompleted:
		m.TasksCompleted.Inc()
		m.RewardsCredited.Add(amount)
	case engine.EventTaskAbandoned:
		m.TasksAbandoned.Inc()

	case engine.EventWithdrawalSubmitted:
		m.withdrawal("submitted", amount)
	case engine.EventWithdrawalApproved:
		m.withdrawal("approved", amount)
	case engine.EventWithdrawalRejected:
		m.withdrawal("rejected", amount)

	case engine.EventUserRegistered, engine.EventUserApproved, engine.EventUserBlocked,
		engine.EventUserDeleted, engine.EventPasswordChanged:
		m.AccountEvents.WithLabelValues(string(e.Kind)).Inc()

	case engine.EventTaskCreated, engine.EventTaskEdited, engine.EventTaskDeleted,
		engine.EventSettingsUpdated:
		m.CatalogEvents.WithLabelValues(string(e.Kind)).Inc()
	}
}

func (m *Metrics) withdrawal(status string, amount float64) {
	m.Withdrawals.WithLabelValues(status).Inc()
	m.WithdrawalAmount.WithLabelValues(status).Add(amount)
}

// ObserveTickPass records one ticker pass.
func (m *Metrics) ObserveTickPass(active int, took time.Duration) {
	m.ActiveSessions.Set(float64(active))
	m.TickDuration.Observe(took.Seconds())
}

var _ engine.Listener = (*Metrics)(nil)
