// Package metrics exposes the scheduling diagnostics as Prometheus
// collectors. They are registered on the default registry and served by
// the web package at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MalformedRecords counts records dropped by the normalizer, by kind.
	MalformedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "malformed_records_total",
		Help:      "Records dropped because they had no parseable start time.",
	}, []string{"kind"})

	// SourceFailures counts failed collaborator queries, by kind.
	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "source_failures_total",
		Help:      "Source queries that failed during an aggregation pass.",
	}, []string{"kind"})

	// CacheLookups counts aggregator cache lookups by result (hit|miss).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "cache_lookups_total",
		Help:      "Time-bounded cache lookups made by the aggregator.",
	}, []string{"result"})

	AggregationPasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "aggregation_passes_total",
		Help:      "Completed aggregation passes.",
	})

	StalePasses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "stale_passes_discarded_total",
		Help:      "Aggregation passes discarded because a newer pass was already applied.",
	})

	RemindersEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "reminders_emitted_total",
		Help:      "Reminders emitted by the reminder scheduler.",
	})

	// FeedFailures counts school feeds left out of a pass, by feed ID.
	FeedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "feed_failures_total",
		Help:      "School ICS feeds skipped because they could not be fetched or parsed.",
	}, []string{"feed"})

	// SessionsEvicted counts sessions ended by the idle sweep.
	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "studentcal",
		Name:      "sessions_evicted_total",
		Help:      "Student sessions ended after staying idle past the idle TTL.",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "studentcal",
		Name:      "active_sessions",
		Help:      "Student sessions currently held by the session manager.",
	})
)
