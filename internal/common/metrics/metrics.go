// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DisbursementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_disbursements_total",
			Help: "Total number of single-application disbursement calls by outcome",
		},
		[]string{"outcome"},
	)

	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_payout_batches_total",
			Help: "Total number of bulk payout batches by result",
		},
		[]string{"result"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queue_payout_batch_duration_seconds",
			Help:    "Wall-clock duration of bulk payout batches",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	ListQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "queue_list_query_duration_seconds",
			Help: "Duration of application listing queries",
		},
		[]string{"backend"},
	)

	ExportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_export_failures_total",
			Help: "Total number of failed export requests",
		},
	)

	StaleResponsesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_stale_responses_dropped_total",
			Help: "List responses discarded because a newer request superseded them",
		},
	)

	SelectionPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_selection_pruned_total",
			Help: "Selected ids pruned after a refresh because they were gone or ineligible",
		},
	)
)
