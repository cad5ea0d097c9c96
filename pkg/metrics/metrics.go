// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsSaved tracks document saves by status
	DocumentsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "writer",
			Name:      "documents_total",
			Help:      "Total number of document saves by status",
		},
		[]string{"status"},
	)

	// SaveDuration tracks how long a full document save takes
	SaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "writer",
			Name:      "save_duration_seconds",
			Help:      "Duration of document saves in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// PhaseDuration tracks each write phase
	PhaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "writer",
			Name:      "phase_duration_seconds",
			Help:      "Duration of individual write phases in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"phase"},
	)

	// RowsWritten tracks rows inserted per table
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "writer",
			Name:      "rows_total",
			Help:      "Total number of rows written by table",
		},
		[]string{"table"},
	)

	// BatchStatements tracks batched statements issued
	BatchStatements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "batch",
			Name:      "statements_total",
			Help:      "Total number of batched statements by table",
		},
		[]string{"table"},
	)

	// MappingResolutions tracks type mapping outcomes
	MappingResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "mapping",
			Name:      "resolutions_total",
			Help:      "Total number of type mapping resolutions by result",
		},
		[]string{"result"},
	)

	// KafkaMessages tracks consumed messages by outcome
	KafkaMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "kafka",
			Name:      "messages_total",
			Help:      "Total number of consumed Kafka messages by status",
		},
		[]string{"status"},
	)

	// HTTPRequests tracks inbound API requests
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)
)
