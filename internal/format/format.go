// Package format serializes events into the line-oriented payload of a batch.
package format

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/szibis/log-archiver/internal/record"
)

// Type is an output format.
type Type string

const (
	// TypeJSON writes one JSON object per line.
	TypeJSON Type = "json"
	// TypeText writes "<time>\t<tag>\t<json>" per line.
	TypeText Type = "text"
	// TypeCSV writes one separated-values line per record.
	TypeCSV Type = "csv"
)

// DefaultCSVSeparator is used when no separator is configured.
const DefaultCSVSeparator = "|"

// ParseType parses an output format name.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return TypeJSON, nil
	case "text", "out_file":
		return TypeText, nil
	case "csv":
		return TypeCSV, nil
	default:
		return TypeJSON, fmt.Errorf("unsupported output format: %s", s)
	}
}

// ParseSeparator validates a CSV separator and returns it as a rune.
func ParseSeparator(s string) (rune, error) {
	if s == "" {
		s = DefaultCSVSeparator
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return 0, fmt.Errorf("csv separator must be a single character, got %q", s)
	}
	if r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid csv separator %q", s)
	}
	return r, nil
}

// Serializer turns one event into one output line, including the trailing newline.
// Implementations are safe for concurrent use.
type Serializer interface {
	AppendEvent(dst []byte, ev record.Event) ([]byte, error)
}

// Config selects and tunes a serializer.
type Config struct {
	Format       Type
	TimeFormat   string
	Localtime    bool
	Location     *time.Location
	CSVSeparator string
	CSVSort      bool
	Inject       InjectConfig
}

// NewSerializer builds the serializer for cfg. Unknown formats fall back to
// JSON lines; configuration validation rejects them before this point.
func NewSerializer(cfg Config) (Serializer, error) {
	tf, err := NewTimeFormatter(cfg.TimeFormat, cfg.Localtime, cfg.Location)
	if err != nil {
		return nil, err
	}
	inj := NewInjector(cfg.Inject, tf)

	switch cfg.Format {
	case TypeCSV:
		sep, err := ParseSeparator(cfg.CSVSeparator)
		if err != nil {
			return nil, err
		}
		return newCSVSerializer(sep, cfg.CSVSort, inj), nil
	case TypeText:
		return &textSerializer{tf: tf, inj: inj}, nil
	default:
		return &jsonSerializer{inj: inj}, nil
	}
}

type jsonSerializer struct {
	inj *Injector
}

func (s *jsonSerializer) AppendEvent(dst []byte, ev record.Event) ([]byte, error) {
	dst, err := s.inj.Apply(ev).AppendJSON(dst)
	if err != nil {
		return nil, err
	}
	return append(dst, '\n'), nil
}

type textSerializer struct {
	tf  *TimeFormatter
	inj *Injector
}

func (s *textSerializer) AppendEvent(dst []byte, ev record.Event) ([]byte, error) {
	dst = s.tf.AppendFormat(dst, ev.Time)
	dst = append(dst, '\t')
	dst = append(dst, ev.Tag...)
	dst = append(dst, '\t')
	dst, err := s.inj.Apply(ev).AppendJSON(dst)
	if err != nil {
		return nil, err
	}
	return append(dst, '\n'), nil
}

// csvLineWriter is a csv.Writer bound to its own buffer so one line can be
// rendered and copied out without a shared stream.
type csvLineWriter struct {
	buf bytes.Buffer
	w   *csv.Writer
	row []string
}

type csvSerializer struct {
	sort bool
	inj  *Injector
	pool sync.Pool
}

func newCSVSerializer(sep rune, sorted bool, inj *Injector) *csvSerializer {
	s := &csvSerializer{sort: sorted, inj: inj}
	s.pool.New = func() interface{} {
		lw := &csvLineWriter{}
		lw.w = csv.NewWriter(&lw.buf)
		lw.w.Comma = sep
		return lw
	}
	return s
}

func (s *csvSerializer) AppendEvent(dst []byte, ev record.Event) ([]byte, error) {
	fields := s.inj.Apply(ev).Fields()
	if s.sort {
		sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	}

	lw := s.pool.Get().(*csvLineWriter)
	defer s.pool.Put(lw)

	lw.buf.Reset()
	lw.row = lw.row[:0]
	for _, f := range fields {
		lw.row = append(lw.row, f.Value.Text())
	}
	if err := lw.w.Write(lw.row); err != nil {
		return nil, fmt.Errorf("csv encode: %w", err)
	}
	lw.w.Flush()
	if err := lw.w.Error(); err != nil {
		return nil, fmt.Errorf("csv encode: %w", err)
	}
	return append(dst, lw.buf.Bytes()...), nil
}

// Encoder concatenates serialized lines for every event of a batch.
type Encoder struct {
	s Serializer
}

// NewEncoder returns a batch encoder using s.
func NewEncoder(s Serializer) *Encoder {
	return &Encoder{s: s}
}

// Encode streams every event of b to w in batch order and returns the
// number of bytes written. One line buffer is reused across events.
func (e *Encoder) Encode(w io.Writer, b *record.Batch) (int64, error) {
	var (
		written int64
		line    []byte
		err     error
	)
	for i, ev := range b.Events {
		line, err = e.s.AppendEvent(line[:0], ev)
		if err != nil {
			return written, fmt.Errorf("serialize event %d of batch %s: %w", i, b.ID, err)
		}
		n, werr := w.Write(line)
		written += int64(n)
		if werr != nil {
			return written, werr
		}
	}
	return written, nil
}
