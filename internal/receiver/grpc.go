package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/klauspost/compress/zstd"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor
	"google.golang.org/grpc/status"

	"github.com/szibis/log-archiver/internal/buffer"
	"github.com/szibis/log-archiver/internal/logging"
)

func init() {
	// Register zstd compressor for gRPC
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor implements grpc encoding.Compressor for zstd.
type zstdCompressor struct{}

func (zstdCompressor) Name() string { return "zstd" }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &closingZstdReader{Decoder: dec}, nil
}

// closingZstdReader releases the decoder once the message is fully read.
type closingZstdReader struct {
	*zstd.Decoder
}

func (c *closingZstdReader) Read(b []byte) (int, error) {
	n, err := c.Decoder.Read(b)
	if err == io.EOF {
		c.Decoder.Close()
	}
	return n, err
}

// GRPCConfig holds the gRPC receiver configuration.
type GRPCConfig struct {
	// Addr is the listen address.
	Addr string
	// MaxRecvMsgSize limits a single export request.
	MaxRecvMsgSize int
	// DefaultTag tags logs without a service.name.
	DefaultTag string
	Auth       AuthConfig
	TLS        TLSConfig
}

// GRPCReceiver receives logs via OTLP gRPC.
type GRPCReceiver struct {
	collogspb.UnimplementedLogsServiceServer
	server *grpc.Server
	sink   Sink
	cfg    GRPCConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewGRPC creates a new gRPC receiver.
func NewGRPC(cfg GRPCConfig, sink Sink, logger *logging.Logger) (*GRPCReceiver, error) {
	if cfg.MaxRecvMsgSize <= 0 {
		cfg.MaxRecvMsgSize = 64 * 1024 * 1024 // 64MB
	}
	if cfg.DefaultTag == "" {
		cfg.DefaultTag = DefaultTag
	}

	opts := []grpc.ServerOption{grpc.MaxRecvMsgSize(cfg.MaxRecvMsgSize)}
	if cfg.TLS.Enabled() {
		tlsCfg, err := cfg.TLS.serverConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}
	if cfg.Auth.Enabled() {
		opts = append(opts, grpc.UnaryInterceptor(authInterceptor(cfg.Auth)))
	}

	r := &GRPCReceiver{
		server: grpc.NewServer(opts...),
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	collogspb.RegisterLogsServiceServer(r.server, r)
	return r, nil
}

// Export implements the OTLP LogsService Export method.
func (r *GRPCReceiver) Export(_ context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	receiverRequestsTotal.WithLabelValues("grpc").Inc()

	events := LogsToEvents(req.GetResourceLogs(), r.cfg.DefaultTag, r.now())
	receiverRecordsTotal.WithLabelValues("grpc").Add(float64(len(events)))
	if err := r.sink.Add(events); err != nil {
		if errors.Is(err, buffer.ErrBufferFull) {
			receiverLoadSheddingTotal.WithLabelValues("grpc").Inc()
			return nil, status.Error(codes.ResourceExhausted, "buffer full, retry later")
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &collogspb.ExportLogsServiceResponse{}, nil
}

// Serve serves gRPC on an existing listener.
func (r *GRPCReceiver) Serve(lis net.Listener) error {
	return r.server.Serve(lis)
}

// Start starts the gRPC server.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.cfg.Addr)
	if err != nil {
		return err
	}
	r.logger.Info("gRPC receiver started", logging.F("addr", r.cfg.Addr, "tls", r.cfg.TLS.Enabled()))
	return r.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (r *GRPCReceiver) Stop() {
	r.server.GracefulStop()
}
