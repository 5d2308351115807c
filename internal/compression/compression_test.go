package compression

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		expected Type
		wantErr  bool
	}{
		{"", TypeGzip, false},
		{"gzip", TypeGzip, false},
		{"GZIP", TypeGzip, false},
		{"lzo", TypeLZO, false},
		{"zstd", TypeZstd, false},
		{"json", TypeJSON, false},
		{"text", TypeText, false},
		{"txt", TypeText, false},
		{"snappy", TypeGzip, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseType(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDescriptor(t *testing.T) {
	tests := []struct {
		t           Type
		ext         string
		contentType string
	}{
		{TypeGzip, "gz", "application/x-gzip"},
		{TypeLZO, "lzo", "application/x-lzop"},
		{TypeZstd, "zst", "application/zstd"},
		{TypeJSON, "json", "application/json"},
		{TypeText, "txt", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(string(tt.t), func(t *testing.T) {
			d := tt.t.Descriptor()
			if d.Extension != tt.ext || d.ContentType != tt.contentType {
				t.Errorf("Descriptor() = %+v, want %s/%s", d, tt.ext, tt.contentType)
			}
		})
	}
}

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func readPayload(t *testing.T, p *Payload) []byte {
	t.Helper()
	data, err := io.ReadAll(p.Reader())
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if int64(len(data)) != p.Size() {
		t.Errorf("Size() = %d, read %d bytes", p.Size(), len(data))
	}
	return data
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temp dir not empty: %v", names)
	}
}

func TestBuildRoundTrip(t *testing.T) {
	input := strings.Repeat("{\"message\":\"hello world\"}\n", 200)

	tests := []struct {
		name   string
		typ    Type
		decode func([]byte) ([]byte, error)
	}{
		{"gzip", TypeGzip, func(b []byte) ([]byte, error) {
			r, err := gzip.NewReader(bytes.NewReader(b))
			if err != nil {
				return nil, err
			}
			return io.ReadAll(r)
		}},
		{"zstd", TypeZstd, func(b []byte) ([]byte, error) {
			d, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			defer d.Close()
			return d.DecodeAll(b, nil)
		}},
		{"json", TypeJSON, func(b []byte) ([]byte, error) { return b, nil }},
		{"text", TypeText, func(b []byte) ([]byte, error) { return b, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := NewPipeline(Config{Type: tt.typ, TempDir: dir})

			payload, err := p.Build(context.Background(), writeString(input))
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			got, err := tt.decode(readPayload(t, payload))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if string(got) != input {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(input))
			}
			if payload.RawSize() != int64(len(input)) {
				t.Errorf("RawSize() = %d, want %d", payload.RawSize(), len(input))
			}
			if payload.Descriptor() != tt.typ.Descriptor() {
				t.Errorf("Descriptor() = %+v", payload.Descriptor())
			}

			if err := payload.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			assertDirEmpty(t, dir)
		})
	}
}

func TestBuildEmptyStream(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(Config{Type: TypeText, TempDir: dir})

	payload, err := p.Build(context.Background(), func(io.Writer) error { return nil })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer payload.Close()
	if payload.Size() != 0 {
		t.Errorf("Size() = %d, want 0", payload.Size())
	}
}

func TestBuildWriteErrorRemovesTempFiles(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeText, TypeLZO} {
		t.Run(string(typ), func(t *testing.T) {
			dir := t.TempDir()
			p := NewPipeline(Config{Type: typ, TempDir: dir})
			want := errors.New("serialize failed")

			_, err := p.Build(context.Background(), func(io.Writer) error { return want })
			if !errors.Is(err, want) {
				t.Fatalf("Build error = %v, want %v", err, want)
			}
			assertDirEmpty(t, dir)
		})
	}
}

func TestPayloadCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	payload, err := NewPipeline(Config{Type: TypeGzip, TempDir: dir}).Build(context.Background(), writeString("x"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := payload.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := payload.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	var nilPayload *Payload
	if err := nilPayload.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

// fakeLzop writes a shell script standing in for lzop. It prefixes the
// copied input so the output is distinguishable from the raw file.
func fakeLzop(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "lzop")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake lzop: %v", err)
	}
	return path
}

const lzopCopy = `if [ "$1" = "-V" ]; then echo "lzop 1.04"; exit 0; fi
{ printf 'LZO:'; cat "$4"; } > "$3"`

func TestBuildLzo(t *testing.T) {
	cmd := fakeLzop(t, lzopCopy)
	dir := t.TempDir()
	p := NewPipeline(Config{Type: TypeLZO, LzopCommand: cmd, TempDir: dir})

	payload, err := p.Build(context.Background(), writeString("line\n"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := string(readPayload(t, payload)); got != "LZO:line\n" {
		t.Errorf("payload = %q", got)
	}
	if n := len(payload.Paths()); n != 2 {
		t.Errorf("lzo payload owns %d temp files, want 2", n)
	}
	if err := payload.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	assertDirEmpty(t, dir)
}

func TestBuildLzoFailure(t *testing.T) {
	cmd := fakeLzop(t, `echo "lzop: bad input" >&2; exit 2`)
	dir := t.TempDir()
	p := NewPipeline(Config{Type: TypeLZO, LzopCommand: cmd, TempDir: dir})

	_, err := p.Build(context.Background(), writeString("line\n"))
	var cerr *CompressionError
	if !errors.As(err, &cerr) {
		t.Fatalf("Build error = %v, want *CompressionError", err)
	}
	if !strings.Contains(cerr.Output, "bad input") {
		t.Errorf("Output = %q, want stderr captured", cerr.Output)
	}
	assertDirEmpty(t, dir)
}

func TestBuildLzoUsesRunner(t *testing.T) {
	var gotArgs []string
	runner := func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return nil, os.WriteFile(args[2], []byte("compressed"), 0o600)
	}
	dir := t.TempDir()
	p := NewPipeline(Config{Type: TypeLZO, TempDir: dir}, WithRunner(runner))

	payload, err := p.Build(context.Background(), writeString("raw"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer payload.Close()

	if len(gotArgs) != 4 || gotArgs[0] != "-qf1" || gotArgs[1] != "-o" {
		t.Errorf("lzop args = %v", gotArgs)
	}
	if got := string(readPayload(t, payload)); got != "compressed" {
		t.Errorf("payload = %q", got)
	}
}

func TestProbe(t *testing.T) {
	if err := Probe(context.Background(), fakeLzop(t, lzopCopy)); err != nil {
		t.Errorf("Probe(fake) = %v", err)
	}
	if err := Probe(context.Background(), filepath.Join(t.TempDir(), "missing-lzop")); err == nil {
		t.Error("Probe(missing) succeeded, want error")
	}
}

func TestNewReader(t *testing.T) {
	input := []byte("payload body")

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(input)
	_ = gw.Close()

	enc, _ := zstd.NewWriter(nil)
	zs := enc.EncodeAll(input, nil)
	_ = enc.Close()

	tests := []struct {
		encoding string
		body     []byte
		wantErr  bool
	}{
		{"", input, false},
		{"identity", input, false},
		{"gzip", gz.Bytes(), false},
		{"zstd", zs, false},
		{"br", input, true},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			r, err := NewReader(tt.encoding, bytes.NewReader(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewReader error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(got, input) {
				t.Errorf("decoded = %q", got)
			}
		})
	}
}
