package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_store_requests_total",
		Help: "Object store requests by operation and result",
	}, []string{"op", "result"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "log_archiver_store_request_duration_seconds",
		Help:    "Object store request latency by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	uploadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_store_uploaded_bytes_total",
		Help: "Bytes successfully written to the object store",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, uploadedBytes)
}

func observe(op, result string, start time.Time) {
	requestsTotal.WithLabelValues(op, result).Inc()
	requestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
