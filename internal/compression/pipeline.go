package compression

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultLzopCommand is the lzop binary looked up on PATH.
const DefaultLzopCommand = "lzop"

const writeBufferSize = 64 * 1024

// CompressionError reports a failed external compressor run.
// It is not retried: the caller gets the error and the temp files are gone.
type CompressionError struct {
	Command string
	Output  string
	Err     error
}

func (e *CompressionError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Command, e.Err, out)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CompressionError) Unwrap() error {
	return e.Err
}

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Probe checks that the lzop binary can be executed by asking for its version.
func Probe(ctx context.Context, command string) error {
	return probe(ctx, execRunner, command)
}

func probe(ctx context.Context, run Runner, command string) error {
	if command == "" {
		command = DefaultLzopCommand
	}
	if out, err := run(ctx, command, "-V"); err != nil {
		return &CompressionError{Command: command + " -V", Output: string(out), Err: err}
	}
	return nil
}

// Config holds compression configuration.
type Config struct {
	// Type is the codec to use.
	Type Type
	// Level is the compression level (algorithm-specific).
	Level Level
	// LzopCommand is the lzop binary used by TypeLZO.
	LzopCommand string
	// TempDir holds payload files; empty means os.TempDir().
	TempDir string
}

// Pipeline turns a serialized stream into an upload payload.
// It holds no per-batch state and is safe for concurrent use.
type Pipeline struct {
	cfg Config
	run Runner
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRunner replaces the external command runner.
func WithRunner(r Runner) Option {
	return func(p *Pipeline) { p.run = r }
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg Config, opts ...Option) *Pipeline {
	if cfg.LzopCommand == "" {
		cfg.LzopCommand = DefaultLzopCommand
	}
	p := &Pipeline{cfg: cfg, run: execRunner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Type returns the configured codec.
func (p *Pipeline) Type() Type { return p.cfg.Type }

// Descriptor returns the extension and MIME type of produced payloads.
func (p *Pipeline) Descriptor() Descriptor { return p.cfg.Type.Descriptor() }

// Build creates a payload by letting write stream raw bytes through the codec
// into a temporary file. On error every temporary file is removed before
// returning; on success the caller must Close the payload.
func (p *Pipeline) Build(ctx context.Context, write func(io.Writer) error) (*Payload, error) {
	start := time.Now()
	typ := string(p.cfg.Type)

	raw, err := os.CreateTemp(p.cfg.TempDir, "log-archiver-*.raw")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tempFilesActive.Inc()
	payload := &Payload{desc: p.Descriptor(), paths: []string{raw.Name()}, files: []*os.File{raw}}

	done := false
	defer func() {
		if !done {
			_ = payload.Close()
		}
	}()

	counted := &countingWriter{}
	bw := bufio.NewWriterSize(raw, writeBufferSize)

	switch p.cfg.Type {
	case TypeGzip:
		err = p.writeGzip(bw, counted, write)
	case TypeZstd:
		err = p.writeZstd(bw, counted, write)
	default:
		counted.w = bw
		err = write(counted)
	}
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return nil, err
	}
	payload.rawSize = counted.n

	out := raw
	if p.cfg.Type == TypeLZO {
		if out, err = p.runLzop(ctx, payload, raw); err != nil {
			lzopFailuresTotal.Inc()
			return nil, err
		}
	}

	info, err := out.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat payload: %w", err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind payload: %w", err)
	}
	payload.file = out
	payload.size = info.Size()

	compressionDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	rawBytesTotal.WithLabelValues(typ).Add(float64(payload.rawSize))
	payloadBytesTotal.WithLabelValues(typ).Add(float64(payload.size))

	done = true
	return payload, nil
}

func (p *Pipeline) writeGzip(dst io.Writer, counted *countingWriter, write func(io.Writer) error) error {
	level := gzip.DefaultCompression
	if p.cfg.Level != LevelDefault {
		level = int(p.cfg.Level)
	}
	gw, err := gzip.NewWriterLevel(dst, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	counted.w = gw
	if err := write(counted); err != nil {
		_ = gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

func (p *Pipeline) writeZstd(dst io.Writer, counted *countingWriter, write func(io.Writer) error) error {
	zstdLevel := zstd.SpeedDefault
	switch p.cfg.Level {
	case ZstdSpeedFastest:
		zstdLevel = zstd.SpeedFastest
	case ZstdSpeedBetterCompression:
		zstdLevel = zstd.SpeedBetterCompression
	case ZstdSpeedBestCompression:
		zstdLevel = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	counted.w = enc
	if err := write(counted); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close zstd encoder: %w", err)
	}
	return nil
}

// runLzop compresses raw into a second temp file registered on payload.
func (p *Pipeline) runLzop(ctx context.Context, payload *Payload, raw *os.File) (*os.File, error) {
	dst, err := os.CreateTemp(p.cfg.TempDir, "log-archiver-*.lzo")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tempFilesActive.Inc()
	payload.paths = append(payload.paths, dst.Name())
	payload.files = append(payload.files, dst)

	args := []string{"-qf1", "-o", dst.Name(), raw.Name()}
	if out, err := p.run(ctx, p.cfg.LzopCommand, args...); err != nil {
		return nil, &CompressionError{
			Command: p.cfg.LzopCommand + " " + strings.Join(args, " "),
			Output:  string(out),
			Err:     err,
		}
	}

	// lzop replaced the file behind our handle; reopen to read its output.
	reopened, err := os.Open(dst.Name())
	if err != nil {
		return nil, fmt.Errorf("open lzop output: %w", err)
	}
	payload.files = append(payload.files, reopened)
	return reopened, nil
}

// Payload is a finished object body backed by temporary files.
type Payload struct {
	desc    Descriptor
	file    *os.File
	files   []*os.File
	paths   []string
	size    int64
	rawSize int64
	closed  bool
}

// Reader returns the payload body positioned at its start.
func (p *Payload) Reader() io.ReadSeeker { return p.file }

// Size returns the payload size in bytes.
func (p *Payload) Size() int64 { return p.size }

// RawSize returns the number of uncompressed bytes written into the payload.
func (p *Payload) RawSize() int64 { return p.rawSize }

// Descriptor returns the extension and MIME type of the payload.
func (p *Payload) Descriptor() Descriptor { return p.desc }

// Paths returns the temporary files owned by the payload.
func (p *Payload) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Close releases and deletes every temporary file of the payload.
// It is safe to call more than once.
func (p *Payload) Close() error {
	if p == nil || p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, f := range p.files {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, path := range p.paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		tempFilesActive.Dec()
	}
	return errors.Join(errs...)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}
