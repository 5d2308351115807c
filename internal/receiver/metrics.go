package receiver

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	receiverErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_receiver_errors_total",
		Help: "Total number of receiver errors",
	}, []string{"type"})

	receiverRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_receiver_requests_total",
		Help: "Total number of requests received",
	}, []string{"protocol"})

	receiverRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_receiver_records_total",
		Help: "Total number of records decoded from requests",
	}, []string{"protocol"})

	receiverLoadSheddingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_receiver_load_shedding_total",
		Help: "Requests rejected because the buffer was full",
	}, []string{"protocol"})
)

func init() {
	prometheus.MustRegister(receiverErrorsTotal)
	prometheus.MustRegister(receiverRequestsTotal)
	prometheus.MustRegister(receiverRecordsTotal)
	prometheus.MustRegister(receiverLoadSheddingTotal)

	// Initialize counters with 0 so they appear in /metrics immediately
	for _, t := range []string{"decode", "auth", "decompress", "read", "too_large"} {
		receiverErrorsTotal.WithLabelValues(t).Add(0)
	}
	for _, p := range []string{"http", "otlp_http", "grpc"} {
		receiverRequestsTotal.WithLabelValues(p).Add(0)
		receiverRecordsTotal.WithLabelValues(p).Add(0)
		receiverLoadSheddingTotal.WithLabelValues(p).Add(0)
	}
}
