package archiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_batches_archived_total",
		Help: "Batches written to the object store",
	})

	recordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_records_archived_total",
		Help: "Records contained in archived batches",
	})

	payloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_archiver_payload_bytes",
		Help:    "Size of archived objects in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})

	keyProbesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_key_probes_total",
		Help: "Existence checks made while allocating object keys",
	})

	keyCollisionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_key_collisions_total",
		Help: "Allocated keys that were already taken",
	})

	writeConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_write_conflicts_total",
		Help: "Conditional writes rejected because the key was taken",
	})

	emitErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_emit_errors_total",
		Help: "Failed batch emissions by stage",
	}, []string{"stage"})

	batchStreams = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_archiver_batch_streams",
		Help:    "Estimated distinct tags per archived batch",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	emitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "log_archiver_emit_duration_seconds",
		Help:    "Time to encode, compress and write one batch",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		batchesTotal,
		recordsTotal,
		payloadBytes,
		keyProbesTotal,
		keyCollisionsTotal,
		writeConflictsTotal,
		emitErrorsTotal,
		batchStreams,
		emitDuration,
	)
}
