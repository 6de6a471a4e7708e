// Package metrics exposes Prometheus collectors for the caseworker
// engine's operational counters: proposals planned/executed, runs
// started/failed, waitpoint expirations, and lock contention. Wired with
// github.com/prometheus/client_golang, a direct dependency of the teacher
// module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the engine registers. Construct once
// per process and pass by reference into components that need to record
// against it.
type Metrics struct {
	RunsStarted      *prometheus.CounterVec
	RunsFinished     *prometheus.CounterVec
	ProposalsPlanned *prometheus.CounterVec
	ProposalsGated   prometheus.Counter
	ProposalsAuto    prometheus.Counter
	ExecutionErrors  *prometheus.CounterVec
	LockContention   prometheus.Counter
	WaitpointExpired prometheus.Counter
	ActiveCases      prometheus.Gauge
}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "runs_started_total",
			Help:      "AgentRuns started, labeled by trigger_type.",
		}, []string{"trigger_type"}),
		RunsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "runs_finished_total",
			Help:      "AgentRuns finished, labeled by terminal status.",
		}, []string{"status"}),
		ProposalsPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "proposals_planned_total",
			Help:      "Proposals planned, labeled by action_type.",
		}, []string{"action_type"}),
		ProposalsGated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "proposals_gated_total",
			Help:      "Proposals routed to a human gate.",
		}),
		ProposalsAuto: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "proposals_auto_executed_total",
			Help:      "Proposals auto-executed without a human gate.",
		}),
		ExecutionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "execution_errors_total",
			Help:      "Executor failures, labeled by error kind.",
		}, []string{"kind"}),
		LockContention: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "lock_contention_total",
			Help:      "CaseOperationLock acquisitions that found an unexpired holder.",
		}),
		WaitpointExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "caseworker",
			Name:      "waitpoints_expired_total",
			Help:      "Waitpoints auto-dismissed by the Reaper after their TTL elapsed.",
		}),
		ActiveCases: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "caseworker",
			Name:      "active_cases",
			Help:      "Cases not in a terminal status.",
		}),
	}

	reg.MustRegister(
		m.RunsStarted, m.RunsFinished, m.ProposalsPlanned, m.ProposalsGated,
		m.ProposalsAuto, m.ExecutionErrors, m.LockContention, m.WaitpointExpired,
		m.ActiveCases,
	)
	return m
}
