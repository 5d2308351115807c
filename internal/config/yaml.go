package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the YAML configuration file structure.
type YAMLConfig struct {
	Receiver  ReceiverYAMLConfig  `yaml:"receiver"`
	Buffer    BufferYAMLConfig    `yaml:"buffer"`
	Archive   ArchiveYAMLConfig   `yaml:"archive"`
	Storage   StorageYAMLConfig   `yaml:"storage"`
	Stats     StatsYAMLConfig     `yaml:"stats"`
	Telemetry TelemetryYAMLConfig `yaml:"telemetry"`
	Memory    MemoryYAMLConfig    `yaml:"memory"`
}

// ReceiverYAMLConfig holds intake settings.
type ReceiverYAMLConfig struct {
	HTTP       HTTPReceiverYAMLConfig `yaml:"http"`
	GRPC       GRPCReceiverYAMLConfig `yaml:"grpc"`
	DefaultTag string                 `yaml:"default_tag"`
	TLS        TLSServerYAMLConfig    `yaml:"tls"`
	Auth       AuthServerYAMLConfig   `yaml:"auth"`
}

// HTTPReceiverYAMLConfig holds HTTP receiver settings.
type HTTPReceiverYAMLConfig struct {
	Address     *string  `yaml:"address"`
	MaxBodySize ByteSize `yaml:"max_body_size"`
	TimeKey     string   `yaml:"time_key"`
}

// GRPCReceiverYAMLConfig holds gRPC receiver settings.
type GRPCReceiverYAMLConfig struct {
	Address        *string  `yaml:"address"`
	MaxRecvMsgSize ByteSize `yaml:"max_recv_msg_size"`
}

// TLSServerYAMLConfig holds receiver TLS settings.
type TLSServerYAMLConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// AuthServerYAMLConfig holds receiver authentication settings.
type AuthServerYAMLConfig struct {
	BearerToken   string `yaml:"bearer_token"`
	BasicUsername string `yaml:"basic_username"`
	BasicPassword string `yaml:"basic_password"`
}

// BufferYAMLConfig holds time slice buffer settings.
type BufferYAMLConfig struct {
	SliceFormat       string             `yaml:"slice_format"`
	SliceWait         *Duration          `yaml:"slice_wait"`
	FlushInterval     Duration           `yaml:"flush_interval"`
	MaxSliceRecords   int                `yaml:"max_slice_records"`
	MaxPendingRecords *int               `yaml:"max_pending_records"`
	EmitConcurrency   int                `yaml:"emit_concurrency"`
	Failover          FailoverYAMLConfig `yaml:"failover"`
}

// FailoverYAMLConfig holds failover queue settings.
type FailoverYAMLConfig struct {
	MaxBatches    *int     `yaml:"max_batches"`
	MaxBytes      ByteSize `yaml:"max_bytes"`
	DrainInterval Duration `yaml:"drain_interval"`
}

// ArchiveYAMLConfig holds key, format and codec settings.
type ArchiveYAMLConfig struct {
	KeyFormat         string                `yaml:"key_format"`
	Path              string                `yaml:"path"`
	Format            string                `yaml:"format"`
	TimeFormat        string                `yaml:"time_format"`
	Localtime         bool                  `yaml:"localtime"`
	CSV               CSVYAMLConfig         `yaml:"csv"`
	Inject            InjectYAMLConfig      `yaml:"inject"`
	Compression       CompressionYAMLConfig `yaml:"compression"`
	HexRandomLength   int                   `yaml:"hex_random_length"`
	ReducedRedundancy bool                  `yaml:"reduced_redundancy"`
	ConditionalWrites bool                  `yaml:"conditional_writes"`
}

// CSVYAMLConfig holds CSV output settings.
type CSVYAMLConfig struct {
	Separator string `yaml:"separator"`
	Sort      *bool  `yaml:"sort"`
}

// InjectYAMLConfig holds tag/time field injection settings.
type InjectYAMLConfig struct {
	IncludeTag  bool   `yaml:"include_tag"`
	TagKey      string `yaml:"tag_key"`
	IncludeTime bool   `yaml:"include_time"`
	TimeKey     string `yaml:"time_key"`
}

// CompressionYAMLConfig holds codec settings.
type CompressionYAMLConfig struct {
	Type        string `yaml:"type"`
	Level       int    `yaml:"level"`
	LzopCommand string `yaml:"lzop_command"`
	TempDir     string `yaml:"temp_dir"`
}

// StorageYAMLConfig holds object store settings.
type StorageYAMLConfig struct {
	Backend          string       `yaml:"backend"`
	S3               S3YAMLConfig `yaml:"s3"`
	AutoCreateBucket *bool        `yaml:"auto_create_bucket"`
	CheckAPIKey      *bool        `yaml:"check_apikey_on_start"`
}

// S3YAMLConfig holds S3 client settings.
type S3YAMLConfig struct {
	Bucket          string   `yaml:"bucket"`
	Region          string   `yaml:"region"`
	Endpoint        string   `yaml:"endpoint"`
	UseSSL          *bool    `yaml:"use_ssl"`
	ForcePathStyle  bool     `yaml:"force_path_style"`
	AccessKeyID     string   `yaml:"access_key_id"`
	SecretAccessKey string   `yaml:"secret_access_key"`
	SessionToken    string   `yaml:"session_token"`
	ProxyURI        string   `yaml:"proxy_uri"`
	Timeout         Duration `yaml:"timeout"`
}

// StatsYAMLConfig holds the metrics/health listener.
type StatsYAMLConfig struct {
	Address string `yaml:"address"`
}

// TelemetryYAMLConfig holds OTLP self-monitoring telemetry configuration.
type TelemetryYAMLConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Protocol     string   `yaml:"protocol"`
	Insecure     bool     `yaml:"insecure"`
	PushInterval Duration `yaml:"push_interval"`
}

// MemoryYAMLConfig holds memory limit settings.
type MemoryYAMLConfig struct {
	LimitRatio *float64 `yaml:"limit_ratio"`
}

// Duration is a wrapper for time.Duration that supports YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is an int64 that accepts raw byte counts or Ki/Mi/Gi suffixes in YAML.
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses "512", "64Ki", "16Mi" or "1.5Gi".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	suffixes := []struct {
		name string
		mult int64
	}{
		{"Gi", 1 << 30},
		{"Mi", 1 << 20},
		{"Ki", 1 << 10},
	}
	for _, sf := range suffixes {
		if num, ok := strings.CutSuffix(s, sf.name); ok {
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(num), "%g", &f); err != nil || f < 0 {
				return 0, fmt.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	var n int64
	var trail string
	if _, err := fmt.Sscanf(s, "%d%s", &n, &trail); err == nil && trail != "" {
		return 0, fmt.Errorf("invalid byte size: %q (use Ki, Mi or Gi suffixes)", s)
	}
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 0 {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return n, nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes. Unknown keys are errors.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ToConfig overlays the values present in the file on DefaultConfig.
func (y *YAMLConfig) ToConfig() *Config {
	cfg := DefaultConfig()

	setString(&cfg.HTTPListenAddr, y.Receiver.HTTP.Address)
	setString(&cfg.GRPCListenAddr, y.Receiver.GRPC.Address)
	setInt64(&cfg.ReceiverMaxBodySize, int64(y.Receiver.HTTP.MaxBodySize))
	setInt64(&cfg.ReceiverMaxRecvSize, int64(y.Receiver.GRPC.MaxRecvMsgSize))
	setNonEmpty(&cfg.ReceiverDefaultTag, y.Receiver.DefaultTag)
	setNonEmpty(&cfg.ReceiverTimeKey, y.Receiver.HTTP.TimeKey)
	setNonEmpty(&cfg.ReceiverTLSCertFile, y.Receiver.TLS.CertFile)
	setNonEmpty(&cfg.ReceiverTLSKeyFile, y.Receiver.TLS.KeyFile)
	setNonEmpty(&cfg.ReceiverTLSCAFile, y.Receiver.TLS.CAFile)
	setNonEmpty(&cfg.ReceiverAuthBearerToken, y.Receiver.Auth.BearerToken)
	setNonEmpty(&cfg.ReceiverAuthBasicUsername, y.Receiver.Auth.BasicUsername)
	setNonEmpty(&cfg.ReceiverAuthBasicPassword, y.Receiver.Auth.BasicPassword)

	b := y.Buffer
	setNonEmpty(&cfg.SliceFormat, b.SliceFormat)
	if b.SliceWait != nil {
		cfg.SliceWait = time.Duration(*b.SliceWait)
	}
	setDuration(&cfg.FlushInterval, b.FlushInterval)
	if b.MaxSliceRecords > 0 {
		cfg.MaxSliceRecords = b.MaxSliceRecords
	}
	if b.MaxPendingRecords != nil {
		cfg.MaxPendingRecords = *b.MaxPendingRecords
	}
	if b.EmitConcurrency > 0 {
		cfg.EmitConcurrency = b.EmitConcurrency
	}
	if b.Failover.MaxBatches != nil {
		cfg.FailoverMaxBatches = *b.Failover.MaxBatches
	}
	setInt64(&cfg.FailoverMaxBytes, int64(b.Failover.MaxBytes))
	setDuration(&cfg.DrainInterval, b.Failover.DrainInterval)

	a := y.Archive
	setNonEmpty(&cfg.KeyFormat, a.KeyFormat)
	setNonEmpty(&cfg.Path, a.Path)
	setNonEmpty(&cfg.Format, a.Format)
	setNonEmpty(&cfg.TimeFormat, a.TimeFormat)
	cfg.Localtime = a.Localtime
	setNonEmpty(&cfg.CSVSeparator, a.CSV.Separator)
	setBool(&cfg.CSVSort, a.CSV.Sort)
	cfg.IncludeTag = a.Inject.IncludeTag
	setNonEmpty(&cfg.TagKey, a.Inject.TagKey)
	cfg.IncludeTime = a.Inject.IncludeTime
	setNonEmpty(&cfg.TimeKey, a.Inject.TimeKey)
	if a.HexRandomLength > 0 {
		cfg.HexRandomLength = a.HexRandomLength
	}
	cfg.ReducedRedundancy = a.ReducedRedundancy
	cfg.ConditionalWrites = a.ConditionalWrites
	setNonEmpty(&cfg.Compression, a.Compression.Type)
	if a.Compression.Level != 0 {
		cfg.CompressionLevel = a.Compression.Level
	}
	setNonEmpty(&cfg.LzopCommand, a.Compression.LzopCommand)
	setNonEmpty(&cfg.TempDir, a.Compression.TempDir)

	s := y.Storage
	setNonEmpty(&cfg.StorageBackend, s.Backend)
	setNonEmpty(&cfg.S3Bucket, s.S3.Bucket)
	setNonEmpty(&cfg.S3Region, s.S3.Region)
	setNonEmpty(&cfg.S3Endpoint, s.S3.Endpoint)
	setBool(&cfg.S3UseSSL, s.S3.UseSSL)
	cfg.S3ForcePathStyle = s.S3.ForcePathStyle
	setNonEmpty(&cfg.S3AccessKeyID, s.S3.AccessKeyID)
	setNonEmpty(&cfg.S3SecretAccessKey, s.S3.SecretAccessKey)
	setNonEmpty(&cfg.S3SessionToken, s.S3.SessionToken)
	setNonEmpty(&cfg.S3ProxyURI, s.S3.ProxyURI)
	setDuration(&cfg.S3Timeout, s.S3.Timeout)
	setBool(&cfg.AutoCreateBucket, s.AutoCreateBucket)
	setBool(&cfg.CheckAPIKeyOnStart, s.CheckAPIKey)

	setNonEmpty(&cfg.StatsAddr, y.Stats.Address)
	setNonEmpty(&cfg.TelemetryEndpoint, y.Telemetry.Endpoint)
	setNonEmpty(&cfg.TelemetryProtocol, y.Telemetry.Protocol)
	cfg.TelemetryInsecure = y.Telemetry.Insecure
	setDuration(&cfg.TelemetryPushInterval, y.Telemetry.PushInterval)
	if y.Memory.LimitRatio != nil {
		cfg.MemoryLimitRatio = *y.Memory.LimitRatio
	}
	return cfg
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v int64) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}
