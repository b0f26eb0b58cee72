package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Core counters exposed on /metrics. The contamination counter in
// particular exists so that a guard trip, which is deliberately invisible
// to API consumers, is still observable by operators.
var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querydesk_messages_appended_total",
		Help: "Chat and system messages appended to query threads.",
	})
	DuplicatesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querydesk_duplicate_messages_suppressed_total",
		Help: "Appends suppressed by the idempotent duplicate window.",
	})
	ContaminationTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querydesk_contamination_guard_trips_total",
		Help: "Reads that would have leaked a message from another query.",
	})
	ActionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "querydesk_actions_recorded_total",
		Help: "Query action records written.",
	})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_broadcasts_total",
		Help: "Update events published, by result.",
	}, []string{"result"})
	CleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "querydesk_cleanup_runs_total",
		Help: "Downstream sanctioned-case cleanup attempts, by result.",
	}, []string{"result"})
)
