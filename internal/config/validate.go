package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/keytemplate"
)

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// probeLzop verifies the lzop binary; replaced in tests.
var probeLzop = compression.Probe

// uniqueVariables are the placeholders that make successive allocation
// attempts produce different keys.
var uniqueVariables = []string{keytemplate.VarIndex, keytemplate.VarUUIDFlush, keytemplate.VarHexRandom}

// Validate checks the configuration and returns every problem found, each
// as a *ConfigError. With the lzo codec it also runs the lzop version probe.
func (c *Config) Validate(ctx context.Context) error {
	var errs []error
	add := func(field, msg string, err error) {
		errs = append(errs, &ConfigError{Field: field, Message: msg, Err: err})
	}

	if _, err := format.ParseType(c.Format); err != nil {
		add("format", "must be one of json, text, csv", err)
	}
	if _, err := format.ParseSeparator(c.CSVSeparator); err != nil {
		add("csv-separator", "invalid separator", err)
	}
	if _, err := format.NewTimeFormatter(c.TimeFormat, c.Localtime, nil); err != nil {
		add("time-format", "invalid strftime pattern", err)
	}
	if _, err := format.NewTimeFormatter(c.SliceFormat, c.Localtime, nil); err != nil || c.SliceFormat == "" {
		add("slice-format", "invalid strftime pattern", err)
	}

	codec, err := compression.ParseType(c.Compression)
	if err != nil {
		add("compression", "must be one of gzip, zstd, lzo, json, text", err)
	} else if codec == compression.TypeLZO {
		if err := probeLzop(ctx, c.LzopCommand); err != nil {
			add("lzop-command", fmt.Sprintf("%s is not available", c.LzopCommand), err)
		}
	}

	c.validateKeyFormat(add)

	if c.HexRandomLength < 1 || c.HexRandomLength > 32 {
		add("hex-random-length", fmt.Sprintf("must be between 1 and 32, got %d", c.HexRandomLength), nil)
	}
	if c.IncludeTag && c.TagKey == "" {
		add("tag-key", "must be set when include-tag-key is enabled", nil)
	}
	if c.IncludeTime && c.TimeKey == "" {
		add("time-key", "must be set when include-time-key is enabled", nil)
	}

	switch c.StorageBackend {
	case BackendS3:
		if c.S3Bucket == "" {
			add("s3-bucket", "is required for the s3 backend", nil)
		}
	case BackendMemory:
	default:
		add("storage-backend", fmt.Sprintf("must be s3 or memory, got %q", c.StorageBackend), nil)
	}

	if c.FlushInterval <= 0 {
		add("flush-interval", "must be positive", nil)
	}
	if c.SliceWait < 0 {
		add("slice-wait", "must not be negative", nil)
	}
	if c.EmitConcurrency < 1 {
		add("emit-concurrency", fmt.Sprintf("must be at least 1, got %d", c.EmitConcurrency), nil)
	}
	if c.FailoverEnabled() && c.DrainInterval <= 0 {
		add("failover-drain-interval", "must be positive", nil)
	}
	if c.HTTPListenAddr == "" && c.GRPCListenAddr == "" {
		add("http-listen", "at least one receiver must be enabled", nil)
	}
	if (c.ReceiverTLSCertFile == "") != (c.ReceiverTLSKeyFile == "") {
		add("receiver-tls-cert", "certificate and key must be set together", nil)
	}
	if (c.ReceiverAuthBasicUsername == "") != (c.ReceiverAuthBasicPassword == "") {
		add("receiver-auth-basic-username", "username and password must be set together", nil)
	}
	if c.TelemetryEndpoint != "" && c.TelemetryProtocol != "grpc" && c.TelemetryProtocol != "http" {
		add("telemetry-protocol", fmt.Sprintf("must be grpc or http, got %q", c.TelemetryProtocol), nil)
	}
	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		add("memory-limit-ratio", fmt.Sprintf("must be between 0.0 and 1.0, got %g", c.MemoryLimitRatio), nil)
	}

	return errors.Join(errs...)
}

func (c *Config) validateKeyFormat(add func(field, msg string, err error)) {
	tmpl, err := keytemplate.Parse(c.KeyFormat)
	if err != nil {
		add("key-format", "cannot be parsed", err)
		return
	}
	if err := tmpl.Validate(keytemplate.KnownVariables); err != nil {
		add("key-format", "uses unknown placeholders", err)
		return
	}
	for _, name := range uniqueVariables {
		if tmpl.Uses(name) {
			return
		}
	}
	add("key-format", "must contain %{index}, %{uuid_flush} or %{hex_random}", nil)
}
