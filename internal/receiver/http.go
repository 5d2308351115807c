// Package receiver accepts log records over HTTP and OTLP and hands them to
// the buffer as events.
package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/szibis/log-archiver/internal/buffer"
	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/intern"
	"github.com/szibis/log-archiver/internal/logging"
	"github.com/szibis/log-archiver/internal/record"
)

// DefaultMaxBodyBytes limits decoded request bodies.
const DefaultMaxBodyBytes = 16 * 1024 * 1024

// DefaultTag is used for OTLP logs without a service.name.
const DefaultTag = "otlp"

// Sink receives decoded events. *buffer.SliceBuffer implements it.
type Sink interface {
	Add(events []record.Event) error
}

// HTTPConfig holds the HTTP receiver configuration.
type HTTPConfig struct {
	// Addr is the listen address.
	Addr string
	// MaxBodyBytes limits the decompressed body size.
	MaxBodyBytes int64
	// DefaultTag tags OTLP logs without a service.name.
	DefaultTag string
	// TimeKey names a record field holding the event time (an epoch number
	// in s, ms, us or ns, or RFC 3339). Records without it are stamped with
	// the receive time.
	TimeKey string
	Auth    AuthConfig
	TLS     TLSConfig
}

// HTTPReceiver receives records via HTTP.
type HTTPReceiver struct {
	server *http.Server
	sink   Sink
	cfg    HTTPConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewHTTP creates a new HTTP receiver.
func NewHTTP(cfg HTTPConfig, sink Sink, logger *logging.Logger) *HTTPReceiver {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.DefaultTag == "" {
		cfg.DefaultTag = DefaultTag
	}
	r := &HTTPReceiver{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/records/{tag}", r.handleRecords)
	mux.HandleFunc("POST /v1/logs", r.handleOTLPLogs)

	r.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           authMiddleware(cfg.Auth, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return r
}

// Handler returns the receiver's HTTP handler.
func (r *HTTPReceiver) Handler() http.Handler {
	return r.server.Handler
}

// readBody decodes Content-Encoding and enforces the size limit.
func (r *HTTPReceiver) readBody(w http.ResponseWriter, req *http.Request) ([]byte, bool) {
	defer req.Body.Close()

	body, err := compression.NewReader(req.Header.Get("Content-Encoding"), req.Body)
	if err != nil {
		receiverErrorsTotal.WithLabelValues("decompress").Inc()
		http.Error(w, err.Error(), http.StatusUnsupportedMediaType)
		return nil, false
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, r.cfg.MaxBodyBytes+1))
	if err != nil {
		receiverErrorsTotal.WithLabelValues("read").Inc()
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(data)) > r.cfg.MaxBodyBytes {
		receiverErrorsTotal.WithLabelValues("too_large").Inc()
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

// add forwards events to the sink and maps a full buffer to 503.
func (r *HTTPReceiver) add(w http.ResponseWriter, protocol string, events []record.Event) bool {
	receiverRecordsTotal.WithLabelValues(protocol).Add(float64(len(events)))
	if err := r.sink.Add(events); err != nil {
		if errors.Is(err, buffer.ErrBufferFull) {
			receiverLoadSheddingTotal.WithLabelValues(protocol).Inc()
			w.Header().Set("Retry-After", "5")
			http.Error(w, "Buffer full, retry later", http.StatusServiceUnavailable)
			return false
		}
		r.logger.Error("failed to buffer records", logging.F("error", err.Error(), "protocol", protocol))
		http.Error(w, "Failed to buffer records", http.StatusInternalServerError)
		return false
	}
	return true
}

// handleRecords accepts a JSON object, a JSON array of objects, or NDJSON.
func (r *HTTPReceiver) handleRecords(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("http").Inc()

	tag := intern.Tags.Intern(req.PathValue("tag"))
	data, ok := r.readBody(w, req)
	if !ok {
		return
	}

	records, err := record.DecodeAll(bytes.NewReader(data))
	if err != nil {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		http.Error(w, "Failed to decode records: "+err.Error(), http.StatusBadRequest)
		return
	}

	now := r.now()
	events := make([]record.Event, 0, len(records))
	for _, rec := range records {
		events = append(events, record.Event{Time: eventTime(rec, r.cfg.TimeKey, now), Tag: tag, Record: rec})
	}
	if !r.add(w, "http", events) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]int{"accepted": len(events)})
}

// handleOTLPLogs handles OTLP/HTTP log export requests in protobuf or JSON.
func (r *HTTPReceiver) handleOTLPLogs(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("otlp_http").Inc()

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	var (
		unmarshal func([]byte, proto.Message) error
		marshal   func(proto.Message) ([]byte, error)
	)
	switch mediaType {
	case "application/x-protobuf":
		unmarshal, marshal = proto.Unmarshal, proto.Marshal
	case "application/json":
		unmarshal, marshal = protojson.Unmarshal, protojson.Marshal
	default:
		http.Error(w, "Unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	data, ok := r.readBody(w, req)
	if !ok {
		return
	}

	var exportReq collogspb.ExportLogsServiceRequest
	if err := unmarshal(data, &exportReq); err != nil {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		http.Error(w, "Failed to unmarshal logs", http.StatusBadRequest)
		return
	}

	events := LogsToEvents(exportReq.GetResourceLogs(), r.cfg.DefaultTag, r.now())
	if !r.add(w, "otlp_http", events) {
		return
	}

	respBytes, err := marshal(&collogspb.ExportLogsServiceResponse{})
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBytes)
}

// Start starts the HTTP server.
func (r *HTTPReceiver) Start() error {
	r.logger.Info("HTTP receiver started", logging.F("addr", r.cfg.Addr, "tls", r.cfg.TLS.Enabled()))
	if r.cfg.TLS.Enabled() {
		tlsCfg, err := r.cfg.TLS.serverConfig()
		if err != nil {
			return err
		}
		r.server.TLSConfig = tlsCfg
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (r *HTTPReceiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
