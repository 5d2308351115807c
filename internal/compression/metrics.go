package compression

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	compressionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "log_archiver_compression_duration_seconds",
		Help:    "Time spent building a payload, by codec",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"codec"})

	rawBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_compression_raw_bytes_total",
		Help: "Uncompressed bytes fed into the codec",
	}, []string{"codec"})

	payloadBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "log_archiver_compression_payload_bytes_total",
		Help: "Bytes of finished payloads produced by the codec",
	}, []string{"codec"})

	lzopFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "log_archiver_compression_lzop_failures_total",
		Help: "External lzop runs that exited with an error",
	})

	tempFilesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "log_archiver_compression_temp_files",
		Help: "Temporary payload files currently on disk",
	})
)

func init() {
	prometheus.MustRegister(
		compressionDuration,
		rawBytesTotal,
		payloadBytesTotal,
		lzopFailuresTotal,
		tempFilesActive,
	)
}
