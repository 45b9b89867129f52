package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var TasksIngested = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_ingest_tasks_total",
	Help: "The total number of new tasks created from ledger events",
})

var DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_ingest_duplicate_events_total",
	Help: "The total number of TaskCreated events absorbed as duplicates",
})

var IngestCursor = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_ingest_cursor",
	Help: "The highest task id below which every task was ingested",
})

var LedgerVotes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_ingest_ledger_votes_total",
	Help: "The total number of ledger votes mirrored into the task store",
})

var IngestReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_ingest_reconnects_total",
	Help: "The total number of ledger stream reconnect attempts",
})

var Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_pipeline_evaluations_total",
	Help: "The total number of content evaluations by result",
}, []string{"result"})

var InFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_pipeline_in_flight",
	Help: "The number of (task, operator) pairs currently being processed",
})

var Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_submit_attestations_total",
	Help: "The total number of attestation submissions by outcome",
}, []string{"outcome"})

var SubmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "guardian_submit_duration_seconds",
	Help:    "Time from submission request to final outcome, retries included",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
})

var VotesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_tasks_votes_recorded_total",
	Help: "The total number of confirmed votes recorded in the task store",
})

var TasksFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_tasks_finalized_total",
	Help: "The total number of finalized tasks by decision",
}, []string{"decision"})

var RegistrationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_registration_transitions_total",
	Help: "The total number of applied registration transitions by resulting state",
}, []string{"state"})

var EligibleOperators = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_registration_eligible_operators",
	Help: "The number of service-registered operators",
})

var Failures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_failures_total",
	Help: "The total number of failures surfaced for operator attention",
}, []string{"kind"})
