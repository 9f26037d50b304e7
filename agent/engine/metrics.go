package engine

import "sync/atomic"

// Metrics are cheap process-local counters for the admin surface.
type Metrics struct {
	runs            atomic.Int64
	repliesSent     atomic.Int64
	actionsExecuted atomic.Int64
	actionsFailed   atomic.Int64
	escalations     atomic.Int64
	fatalRuns       atomic.Int64
}

type MetricsSnapshot struct {
	Runs            int64 `json:"runs"`
	RepliesSent     int64 `json:"replies_sent"`
	ActionsExecuted int64 `json:"actions_executed"`
	ActionsFailed   int64 `json:"actions_failed"`
	Escalations     int64 `json:"escalations"`
	FatalRuns       int64 `json:"fatal_runs"`
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Runs:            m.runs.Load(),
		RepliesSent:     m.repliesSent.Load(),
		ActionsExecuted: m.actionsExecuted.Load(),
		ActionsFailed:   m.actionsFailed.Load(),
		Escalations:     m.escalations.Load(),
		FatalRuns:       m.fatalRuns.Load(),
	}
}
