// Package metrics exposes the operational counters for the visit pipeline.
// A visit that cannot be stored is invisible to the requester, so these
// counters are the only place that loss shows up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VisitsRecorded counts visits durably written to the store, by kind.
	VisitsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linktrack_visits_recorded_total",
			Help: "Total number of visits persisted to the link store",
		},
		[]string{"kind"},
	)

	// VisitsDropped counts events discarded because the pipeline buffer was
	// full. The redirect still happened; the log entry did not.
	VisitsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linktrack_visits_dropped_total",
			Help: "Total number of visit events dropped due to a full buffer",
		},
	)

	// VisitStoreFailures counts visits that reached a worker but could not
	// be written.
	VisitStoreFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linktrack_visit_store_failures_total",
			Help: "Total number of visit events that failed to persist",
		},
	)

	// EnrichmentOutcomes counts geolocation lookups by result
	// ("ok", "error", "timeout").
	EnrichmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linktrack_enrichment_total",
			Help: "Total number of geolocation enrichment attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Redirects counts responses served by the public endpoints, by kind and
	// status class.
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linktrack_resolutions_total",
			Help: "Total number of public resolution requests by kind and result",
		},
		[]string{"kind", "result"},
	)
)
