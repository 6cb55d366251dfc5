package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event ingestion metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "striem_ingest_events_total",
			Help: "Total number of events received on the gRPC listener",
		},
		[]string{"status"},
	)

	BatchesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "striem_ingest_batches_total",
			Help: "Total number of PushEvents batches received",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "striem_queue_depth",
			Help: "Current depth of the internal fan-out queues",
		},
		[]string{"sink"},
	)

	// Detection metrics
	RuleEvaluations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_detect_rule_evaluations_total",
			Help: "Total number of rule evaluations performed",
		},
	)

	FindingsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "striem_detect_findings_total",
			Help: "Total number of detection findings emitted",
		},
		[]string{"severity"},
	)

	SnapshotSwaps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_detect_snapshot_swaps_total",
			Help: "Total number of rule snapshot swaps",
		},
	)

	// Storage metrics
	WriterFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "striem_storage_flushes_total",
			Help: "Total number of writer flushes by trigger",
		},
		[]string{"trigger"},
	)

	BytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_storage_bytes_written_total",
			Help: "Total bytes materialized as Parquet files",
		},
	)

	RowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_storage_rows_written_total",
			Help: "Total rows materialized as Parquet files",
		},
	)

	TypeMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_storage_type_mismatches_total",
			Help: "Total declared-column type mismatches written as null",
		},
	)

	PartitionsQuarantined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_storage_partitions_quarantined_total",
			Help: "Total partitions quarantined after repeated flush failures",
		},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "striem_storage_events_dropped_total",
			Help: "Total events dropped by quarantined partitions",
		},
		[]string{"partition"},
	)

	// Outbound sink metrics
	WebhookErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "striem_output_errors_total",
			Help: "Total outbound delivery failures",
		},
	)
)
