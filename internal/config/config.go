// Package config loads the archiver configuration from command-line flags
// and an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/szibis/log-archiver/internal/archiver"
	"github.com/szibis/log-archiver/internal/buffer"
	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/keytemplate"
	"github.com/szibis/log-archiver/internal/receiver"
	"github.com/szibis/log-archiver/internal/store"
	"github.com/szibis/log-archiver/internal/telemetry"
)

// version is set at build time via ldflags
var version = "dev"

// Version returns the build version.
func Version() string { return version }

// Storage backends.
const (
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	ConfigFile string

	// Receiver settings
	HTTPListenAddr      string
	GRPCListenAddr      string
	ReceiverMaxBodySize int64
	ReceiverMaxRecvSize int64
	ReceiverDefaultTag  string
	ReceiverTimeKey     string

	// Receiver TLS settings
	ReceiverTLSCertFile string
	ReceiverTLSKeyFile  string
	ReceiverTLSCAFile   string

	// Receiver Auth settings
	ReceiverAuthBearerToken   string
	ReceiverAuthBasicUsername string
	ReceiverAuthBasicPassword string

	// Buffer settings
	SliceFormat        string
	SliceWait          time.Duration
	FlushInterval      time.Duration
	MaxSliceRecords    int
	MaxPendingRecords  int
	EmitConcurrency    int
	FailoverMaxBatches int
	FailoverMaxBytes   int64
	DrainInterval      time.Duration

	// Archive settings
	KeyFormat         string
	Path              string
	Format            string
	TimeFormat        string
	Localtime         bool
	CSVSeparator      string
	CSVSort           bool
	IncludeTag        bool
	TagKey            string
	IncludeTime       bool
	TimeKey           string
	HexRandomLength   int
	ReducedRedundancy bool
	ConditionalWrites bool

	// Compression settings
	Compression      string
	CompressionLevel int
	LzopCommand      string
	TempDir          string

	// Storage settings
	StorageBackend     string
	S3Bucket           string
	S3Region           string
	S3Endpoint         string
	S3UseSSL           bool
	S3ForcePathStyle   bool
	S3AccessKeyID      string
	S3SecretAccessKey  string
	S3SessionToken     string
	S3ProxyURI         string
	S3Timeout          time.Duration
	AutoCreateBucket   bool
	CheckAPIKeyOnStart bool

	// Stats settings
	StatsAddr string

	// Telemetry settings
	TelemetryEndpoint     string
	TelemetryProtocol     string
	TelemetryInsecure     bool
	TelemetryPushInterval time.Duration

	// Memory limit settings
	MemoryLimitRatio float64

	// Flags
	ShowHelp    bool
	ShowVersion bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		HTTPListenAddr:        ":4318",
		GRPCListenAddr:        ":4317",
		ReceiverMaxBodySize:   receiver.DefaultMaxBodyBytes,
		ReceiverMaxRecvSize:   64 * 1024 * 1024,
		ReceiverDefaultTag:    receiver.DefaultTag,
		SliceFormat:           buffer.DefaultSliceFormat,
		SliceWait:             10 * time.Minute,
		FlushInterval:         time.Second,
		MaxPendingRecords:     1_000_000,
		EmitConcurrency:       4,
		FailoverMaxBatches:    100,
		FailoverMaxBytes:      256 * 1024 * 1024,
		DrainInterval:         5 * time.Second,
		KeyFormat:             keytemplate.DefaultFormat,
		Format:                string(format.TypeJSON),
		CSVSeparator:          format.DefaultCSVSeparator,
		CSVSort:               true,
		TagKey:                "tag",
		TimeKey:               "time",
		HexRandomLength:       archiver.DefaultHexRandomLength,
		Compression:           string(compression.TypeGzip),
		LzopCommand:           compression.DefaultLzopCommand,
		StorageBackend:        BackendS3,
		S3Region:              store.DefaultRegion,
		S3UseSSL:              true,
		S3Timeout:             time.Minute,
		AutoCreateBucket:      true,
		CheckAPIKeyOnStart:    true,
		StatsAddr:             ":9090",
		TelemetryProtocol:     "grpc",
		TelemetryPushInterval: 30 * time.Second,
		MemoryLimitRatio:      0.9,
	}
}

// registerFlags binds every flag to a field of cfg. The current field values
// become the flag defaults.
func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "Path to YAML configuration file")

	// Receiver flags
	fs.StringVar(&cfg.HTTPListenAddr, "http-listen", cfg.HTTPListenAddr, "HTTP receiver listen address (empty disables)")
	fs.StringVar(&cfg.GRPCListenAddr, "grpc-listen", cfg.GRPCListenAddr, "OTLP gRPC receiver listen address (empty disables)")
	fs.Int64Var(&cfg.ReceiverMaxBodySize, "receiver-max-body-size", cfg.ReceiverMaxBodySize, "Maximum decoded HTTP request body size in bytes")
	fs.Int64Var(&cfg.ReceiverMaxRecvSize, "receiver-max-recv-size", cfg.ReceiverMaxRecvSize, "Maximum gRPC message size in bytes")
	fs.StringVar(&cfg.ReceiverDefaultTag, "receiver-default-tag", cfg.ReceiverDefaultTag, "Tag for OTLP logs without service.name")
	fs.StringVar(&cfg.ReceiverTimeKey, "receiver-time-key", cfg.ReceiverTimeKey, "Record field holding the event time (epoch seconds or RFC 3339)")
	fs.StringVar(&cfg.ReceiverTLSCertFile, "receiver-tls-cert", cfg.ReceiverTLSCertFile, "Receiver TLS certificate file")
	fs.StringVar(&cfg.ReceiverTLSKeyFile, "receiver-tls-key", cfg.ReceiverTLSKeyFile, "Receiver TLS key file")
	fs.StringVar(&cfg.ReceiverTLSCAFile, "receiver-tls-ca", cfg.ReceiverTLSCAFile, "CA file for receiver client certificate verification")
	fs.StringVar(&cfg.ReceiverAuthBearerToken, "receiver-auth-bearer-token", cfg.ReceiverAuthBearerToken, "Bearer token required by receivers")
	fs.StringVar(&cfg.ReceiverAuthBasicUsername, "receiver-auth-basic-username", cfg.ReceiverAuthBasicUsername, "Basic auth username required by receivers")
	fs.StringVar(&cfg.ReceiverAuthBasicPassword, "receiver-auth-basic-password", cfg.ReceiverAuthBasicPassword, "Basic auth password required by receivers")

	// Buffer flags
	fs.StringVar(&cfg.SliceFormat, "slice-format", cfg.SliceFormat, "strftime format of the time slice token")
	fs.DurationVar(&cfg.SliceWait, "slice-wait", cfg.SliceWait, "How long a slice stays open after its end for late events")
	fs.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "How often closed slices are checked for flushing")
	fs.IntVar(&cfg.MaxSliceRecords, "max-slice-records", cfg.MaxSliceRecords, "Flush a slice early at this many records (0 = unlimited)")
	fs.IntVar(&cfg.MaxPendingRecords, "max-pending-records", cfg.MaxPendingRecords, "Reject intake above this many buffered records (0 = unlimited)")
	fs.IntVar(&cfg.EmitConcurrency, "emit-concurrency", cfg.EmitConcurrency, "Maximum concurrent batch emissions")
	fs.IntVar(&cfg.FailoverMaxBatches, "failover-max-batches", cfg.FailoverMaxBatches, "Failed batches kept for re-emission (0 disables)")
	fs.Int64Var(&cfg.FailoverMaxBytes, "failover-max-bytes", cfg.FailoverMaxBytes, "Estimated bytes of failed batches kept for re-emission")
	fs.DurationVar(&cfg.DrainInterval, "failover-drain-interval", cfg.DrainInterval, "How often failed batches are re-emitted")

	// Archive flags
	fs.StringVar(&cfg.KeyFormat, "key-format", cfg.KeyFormat, "Object key template")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "Key prefix substituted for %{path}")
	fs.StringVar(&cfg.Format, "format", cfg.Format, "Output format: json, text, csv")
	fs.StringVar(&cfg.TimeFormat, "time-format", cfg.TimeFormat, "strftime format for event times (empty = epoch seconds)")
	fs.BoolVar(&cfg.Localtime, "localtime", cfg.Localtime, "Format times and slices in local time instead of UTC")
	fs.StringVar(&cfg.CSVSeparator, "csv-separator", cfg.CSVSeparator, "CSV field separator")
	fs.BoolVar(&cfg.CSVSort, "csv-sort", cfg.CSVSort, "Order CSV fields by name instead of insertion order")
	fs.BoolVar(&cfg.IncludeTag, "include-tag-key", cfg.IncludeTag, "Add the event tag to each record")
	fs.StringVar(&cfg.TagKey, "tag-key", cfg.TagKey, "Field name of the injected tag")
	fs.BoolVar(&cfg.IncludeTime, "include-time-key", cfg.IncludeTime, "Add the event time to each record")
	fs.StringVar(&cfg.TimeKey, "time-key", cfg.TimeKey, "Field name of the injected time")
	fs.IntVar(&cfg.HexRandomLength, "hex-random-length", cfg.HexRandomLength, "Length of the %{hex_random} token")
	fs.BoolVar(&cfg.ReducedRedundancy, "reduced-redundancy", cfg.ReducedRedundancy, "Store objects with REDUCED_REDUNDANCY storage class")
	fs.BoolVar(&cfg.ConditionalWrites, "conditional-writes", cfg.ConditionalWrites, "Write with If-None-Match and resume key allocation on conflict")

	// Compression flags
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "Store codec: gzip, zstd, lzo, json, text")
	fs.IntVar(&cfg.CompressionLevel, "compression-level", cfg.CompressionLevel, "Codec level (0 = codec default)")
	fs.StringVar(&cfg.LzopCommand, "lzop-command", cfg.LzopCommand, "lzop binary used by the lzo codec")
	fs.StringVar(&cfg.TempDir, "temp-dir", cfg.TempDir, "Directory for payload temp files (empty = system default)")

	// Storage flags
	fs.StringVar(&cfg.StorageBackend, "storage-backend", cfg.StorageBackend, "Object store backend: s3, memory")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket name")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "Custom S3-compatible endpoint")
	fs.BoolVar(&cfg.S3UseSSL, "s3-use-ssl", cfg.S3UseSSL, "Use https for an endpoint without scheme")
	fs.BoolVar(&cfg.S3ForcePathStyle, "s3-force-path-style", cfg.S3ForcePathStyle, "Use path-style bucket addressing")
	fs.StringVar(&cfg.S3AccessKeyID, "s3-access-key-id", cfg.S3AccessKeyID, "Static access key id (empty = default credential chain)")
	fs.StringVar(&cfg.S3SecretAccessKey, "s3-secret-access-key", cfg.S3SecretAccessKey, "Static secret access key")
	fs.StringVar(&cfg.S3SessionToken, "s3-session-token", cfg.S3SessionToken, "Static session token")
	fs.StringVar(&cfg.S3ProxyURI, "s3-proxy-uri", cfg.S3ProxyURI, "Proxy for S3 requests (empty = environment)")
	fs.DurationVar(&cfg.S3Timeout, "s3-timeout", cfg.S3Timeout, "Per-request S3 timeout")
	fs.BoolVar(&cfg.AutoCreateBucket, "auto-create-bucket", cfg.AutoCreateBucket, "Create the bucket at startup when missing")
	fs.BoolVar(&cfg.CheckAPIKeyOnStart, "check-apikey-on-start", cfg.CheckAPIKeyOnStart, "Verify credentials with a list call at startup")

	// Ops flags
	fs.StringVar(&cfg.StatsAddr, "stats-addr", cfg.StatsAddr, "Metrics and health listen address")
	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for self-telemetry (empty disables)")
	fs.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "Self-telemetry protocol: grpc, http")
	fs.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Disable TLS for self-telemetry")
	fs.DurationVar(&cfg.TelemetryPushInterval, "telemetry-push-interval", cfg.TelemetryPushInterval, "Self-telemetry metric push interval")
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Share of the container memory limit used for GOMEMLIMIT (0 disables)")

	// Help and version
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version (shorthand)")
}

// Load parses args. When -config names a YAML file, its values replace the
// defaults and flags given explicitly on the command line are applied on top.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("log-archiver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.ConfigFile == "" {
		return cfg, nil
	}

	yamlCfg, err := LoadYAML(cfg.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load config file %s: %w", cfg.ConfigFile, err)
	}
	fileCfg := yamlCfg.ToConfig()
	fileCfg.ConfigFile = cfg.ConfigFile

	// Replay explicitly set flags onto the file-based config.
	overlay := flag.NewFlagSet("overrides", flag.ContinueOnError)
	overlay.SetOutput(io.Discard)
	registerFlags(overlay, fileCfg)
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		if err := overlay.Set(f.Name, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("flag -%s: %w", f.Name, err))
		}
	})
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return fileCfg, nil
}

// PrintUsage writes the flag reference to w.
func PrintUsage(w io.Writer) {
	fs := flag.NewFlagSet("log-archiver", flag.ContinueOnError)
	registerFlags(fs, DefaultConfig())
	fs.SetOutput(w)
	fmt.Fprintf(w, "log-archiver - slices log records by time and archives them to object storage\n\n")
	fmt.Fprintf(w, "Usage:\n  log-archiver [flags]\n\nFlags:\n")
	fs.PrintDefaults()
}

// PrintVersion prints the version to stdout.
func PrintVersion() {
	fmt.Fprintf(os.Stdout, "log-archiver version %s\n", version)
}

func (c *Config) location() *time.Location {
	if c.Localtime {
		return time.Local
	}
	return time.UTC
}

// SerializerConfig returns the record serializer configuration.
func (c *Config) SerializerConfig() format.Config {
	typ, _ := format.ParseType(c.Format)
	return format.Config{
		Format:       typ,
		TimeFormat:   c.TimeFormat,
		Localtime:    c.Localtime,
		Location:     c.location(),
		CSVSeparator: c.CSVSeparator,
		CSVSort:      c.CSVSort,
		Inject: format.InjectConfig{
			IncludeTag:  c.IncludeTag,
			TagKey:      c.TagKey,
			IncludeTime: c.IncludeTime,
			TimeKey:     c.TimeKey,
		},
	}
}

// CompressionConfig returns the compression pipeline configuration.
func (c *Config) CompressionConfig() compression.Config {
	typ, _ := compression.ParseType(c.Compression)
	return compression.Config{
		Type:        typ,
		Level:       compression.Level(c.CompressionLevel),
		LzopCommand: c.LzopCommand,
		TempDir:     c.TempDir,
	}
}

// ArchiverConfig returns the archiver configuration with the parsed key
// template. A template using %{hostname} requires a non-empty hostname.
func (c *Config) ArchiverConfig(hostname string) (archiver.Config, error) {
	tmpl, err := keytemplate.Parse(c.KeyFormat)
	if err != nil {
		return archiver.Config{}, err
	}
	if hostname == "" && tmpl.Uses(keytemplate.VarHostname) {
		return archiver.Config{}, &ConfigError{Field: "key-format", Message: "uses %{hostname} but the hostname is unknown"}
	}
	return archiver.Config{
		KeyTemplate:       tmpl,
		Path:              c.Path,
		Hostname:          hostname,
		HexRandomLength:   c.HexRandomLength,
		ReducedRedundancy: c.ReducedRedundancy,
		ConditionalWrites: c.ConditionalWrites,
	}, nil
}

// S3Config returns the S3 client configuration.
func (c *Config) S3Config() store.S3Config {
	return store.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		UseSSL:          c.S3UseSSL,
		ForcePathStyle:  c.S3ForcePathStyle,
		AccessKeyID:     c.S3AccessKeyID,
		SecretAccessKey: c.S3SecretAccessKey,
		SessionToken:    c.S3SessionToken,
		ProxyURI:        c.S3ProxyURI,
		Timeout:         c.S3Timeout,
	}
}

// PrepareOptions returns the bucket bootstrap options.
func (c *Config) PrepareOptions() store.PrepareOptions {
	return store.PrepareOptions{
		AutoCreateBucket: c.AutoCreateBucket,
		CheckCredentials: c.CheckAPIKeyOnStart,
	}
}

// BufferConfig returns the slice buffer configuration.
func (c *Config) BufferConfig() buffer.Config {
	return buffer.Config{
		SliceFormat:       c.SliceFormat,
		Localtime:         c.Localtime,
		Location:          c.location(),
		SliceWait:         c.SliceWait,
		FlushInterval:     c.FlushInterval,
		MaxSliceRecords:   c.MaxSliceRecords,
		MaxPendingRecords: c.MaxPendingRecords,
	}
}

// FailoverEnabled reports whether failed batches are kept for re-emission.
func (c *Config) FailoverEnabled() bool {
	return c.FailoverMaxBatches > 0
}

func (c *Config) receiverAuth() receiver.AuthConfig {
	return receiver.AuthConfig{
		BearerToken:       c.ReceiverAuthBearerToken,
		BasicAuthUsername: c.ReceiverAuthBasicUsername,
		BasicAuthPassword: c.ReceiverAuthBasicPassword,
	}
}

func (c *Config) receiverTLS() receiver.TLSConfig {
	return receiver.TLSConfig{
		CertFile:     c.ReceiverTLSCertFile,
		KeyFile:      c.ReceiverTLSKeyFile,
		ClientCAFile: c.ReceiverTLSCAFile,
	}
}

// HTTPReceiverConfig returns the HTTP receiver configuration.
func (c *Config) HTTPReceiverConfig() receiver.HTTPConfig {
	return receiver.HTTPConfig{
		Addr:         c.HTTPListenAddr,
		MaxBodyBytes: c.ReceiverMaxBodySize,
		DefaultTag:   c.ReceiverDefaultTag,
		TimeKey:      c.ReceiverTimeKey,
		Auth:         c.receiverAuth(),
		TLS:          c.receiverTLS(),
	}
}

// GRPCReceiverConfig returns the gRPC receiver configuration.
func (c *Config) GRPCReceiverConfig() receiver.GRPCConfig {
	return receiver.GRPCConfig{
		Addr:           c.GRPCListenAddr,
		MaxRecvMsgSize: int(c.ReceiverMaxRecvSize),
		DefaultTag:     c.ReceiverDefaultTag,
		Auth:           c.receiverAuth(),
		TLS:            c.receiverTLS(),
	}
}

// TelemetryConfig returns the self-telemetry configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:     c.TelemetryEndpoint,
		Protocol:     c.TelemetryProtocol,
		Insecure:     c.TelemetryInsecure,
		PushInterval: c.TelemetryPushInterval,
	}
}
