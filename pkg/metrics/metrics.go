// Package metrics provides Prometheus metrics for the Argus service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ColumnProbesTotal tracks schema column probes that reached the database
	ColumnProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "capability",
			Name:      "column_probes_total",
			Help:      "Total number of column existence probes by result",
		},
		[]string{"table", "column", "result"},
	)

	// JSONQueryMode is 1 for the mode the JSON breaker is currently in
	JSONQueryMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "argus",
			Subsystem: "capability",
			Name:      "json_query_mode",
			Help:      "Current JSON query mode (unknown, native, degraded)",
		},
		[]string{"mode"},
	)

	// JSONBreakerTripsTotal tracks transitions into degraded mode
	JSONBreakerTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "capability",
			Name:      "json_breaker_trips_total",
			Help:      "Total number of times JSON path queries were disabled",
		},
	)

	// QueryRetriesTotal tracks queries re-run with the degraded plan
	QueryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "repository",
			Name:      "degraded_retries_total",
			Help:      "Total number of queries retried without JSON path expressions",
		},
		[]string{"entity", "operation"},
	)

	// MalformedDocumentsTotal tracks rows whose document could not be decoded
	MalformedDocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "repository",
			Name:      "malformed_documents_total",
			Help:      "Total number of rows read with an undecodable document",
		},
		[]string{"entity"},
	)

	// StatusChangesTotal tracks status writes by entity, target and result
	StatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "status",
			Name:      "changes_total",
			Help:      "Total number of status changes by entity, target status and result",
		},
		[]string{"entity", "status", "result"},
	)

	// SearchesTotal tracks match searches by backend and result
	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "matching",
			Name:      "searches_total",
			Help:      "Total number of match searches by backend and result",
		},
		[]string{"backend", "result"},
	)

	// SearchDuration tracks match search duration
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "argus",
			Subsystem: "matching",
			Name:      "search_duration_seconds",
			Help:      "Duration of match searches in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend"},
	)

	// EventsPublishedTotal tracks status events sent to the broker
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of status events published by result",
		},
		[]string{"entity", "result"},
	)
)
