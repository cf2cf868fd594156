package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued tracks retry jobs accepted by the engine
	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_jobs_enqueued_total",
			Help: "Total number of retry jobs enqueued",
		},
		[]string{"action", "priority"},
	)

	// AttemptsTotal tracks job attempts by result
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_attempts_total",
			Help: "Total number of job attempts",
		},
		[]string{"result"},
	)

	// TerminalJobs tracks jobs reaching a terminal state
	TerminalJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_jobs_terminal_total",
			Help: "Total number of jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	// CooldownResets tracks timeout cooldown requeues
	CooldownResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "copyflow_cooldown_resets_total",
			Help: "Total number of timeout cooldown attempt-cycle resets",
		},
	)

	// IdempotentSkips tracks attempts resolved by the on-chain state check
	IdempotentSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_idempotent_skips_total",
			Help: "Attempts resolved without resubmission because the prior attempt had landed",
		},
		[]string{"action"},
	)

	// ActiveJobs tracks the in-memory active set size
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copyflow_active_jobs",
			Help: "Number of jobs in the active retry set",
		},
	)

	// ObligationsCreated tracks deferred profit-share IOUs
	ObligationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_obligations_created_total",
			Help: "Total number of profit-share obligations recorded",
		},
		[]string{"step"},
	)

	// SettlementsCompleted tracks fully settled profit shares
	SettlementsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "copyflow_settlements_completed_total",
			Help: "Total number of profit-share settlements completed end to end",
		},
	)

	// RecoveredJobs tracks jobs rehydrated at startup
	RecoveredJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "copyflow_recovered_jobs_total",
			Help: "Jobs rehydrated from the durable store at startup",
		},
	)

	// DiscardedJobs tracks jobs discarded at startup
	DiscardedJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copyflow_discarded_jobs_total",
			Help: "Persisted jobs discarded at startup",
		},
		[]string{"reason"},
	)
)
