package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/szibis/log-archiver/internal/intern"
)

// Field is a single name/value pair of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an insertion-ordered mapping from field name to Value.
// Records are immutable: With returns a modified copy.
type Record struct {
	fields []Field
	index  map[string]int
}

// New builds a record from fields in order. A repeated name keeps the position
// of its first occurrence and the value of its last.
func New(fields ...Field) *Record {
	r := &Record{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		r.set(f.Name, f.Value)
	}
	return r
}

// FromMap builds a record from an unordered map. Field names are sorted so
// the result is deterministic.
func FromMap(m map[string]interface{}) *Record {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	r := &Record{
		fields: make([]Field, 0, len(m)),
		index:  make(map[string]int, len(m)),
	}
	for _, name := range names {
		r.set(name, FromAny(m[name]))
	}
	return r
}

func (r *Record) set(name string, v Value) {
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = v
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// Fields returns a copy of the fields in insertion order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns field names in insertion order.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// With returns a copy of r with name set to v. An existing field keeps its
// position; a new field is appended.
func (r *Record) With(name string, v Value) *Record {
	out := &Record{
		fields: make([]Field, 0, r.Len()+1),
		index:  make(map[string]int, r.Len()+1),
	}
	if r != nil {
		out.fields = append(out.fields, r.fields...)
		for k, i := range r.index {
			out.index[k] = i
		}
	}
	out.set(name, v)
	return out
}

// Equal reports whether both records hold the same fields in the same order.
func (r *Record) Equal(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	for i := 0; i < r.Len(); i++ {
		a, b := r.fields[i], o.fields[i]
		if a.Name != b.Name || !a.Value.Equal(b.Value) {
			return false
		}
	}
	return true
}

// EqualUnordered reports whether both records hold the same fields regardless of order.
func (r *Record) EqualUnordered(o *Record) bool {
	if r.Len() != o.Len() {
		return false
	}
	for i := 0; i < r.Len(); i++ {
		f := r.fields[i]
		v, ok := o.Get(f.Name)
		if !ok || !v.Equal(f.Value) {
			return false
		}
	}
	return true
}

// AppendJSON appends r as a JSON object with fields in insertion order.
func (r *Record) AppendJSON(dst []byte) ([]byte, error) {
	dst = append(dst, '{')
	for i := 0; i < r.Len(); i++ {
		if i > 0 {
			dst = append(dst, ',')
		}
		var err error
		if dst, err = appendQuoted(dst, r.fields[i].Name); err != nil {
			return nil, err
		}
		dst = append(dst, ':')
		if dst, err = r.fields[i].Value.appendJSON(dst); err != nil {
			return nil, fmt.Errorf("field %q: %w", r.fields[i].Name, err)
		}
	}
	return append(dst, '}'), nil
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	return r.AppendJSON(nil)
}

// UnmarshalJSON implements json.Unmarshaler, keeping the document's field order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object, got %v", tok)
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*r = *parsed
	return nil
}

// DecodeAll reads records from r. The stream may be a single JSON object, a
// JSON array of objects, or newline-delimited objects.
func DecodeAll(rd io.Reader) ([]*Record, error) {
	dec := json.NewDecoder(rd)
	dec.UseNumber()

	var out []*Record
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		d, ok := tok.(json.Delim)
		if !ok {
			return nil, fmt.Errorf("record: expected object or array, got %v", tok)
		}
		switch d {
		case '{':
			rec, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		case '[':
			for dec.More() {
				tok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				if d, ok := tok.(json.Delim); !ok || d != '{' {
					return nil, fmt.Errorf("record: array element is not an object: %v", tok)
				}
				rec, err := decodeObject(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, rec)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("record: unexpected delimiter %v", d)
		}
	}
}

// decodeObject reads fields after an opening '{' up to and including '}'.
func decodeObject(dec *json.Decoder) (*Record, error) {
	r := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("record: expected field name, got %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		r.set(intern.FieldNames.Intern(name), v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return r, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			return Map(m), nil
		case '[':
			var l []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				l = append(l, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, l: l}, nil
		}
		return Value{}, fmt.Errorf("record: unexpected delimiter %v", t)
	default:
		return FromAny(t), nil
	}
}

// Event is one record as received from a stream, with its tag and event time.
type Event struct {
	Time   time.Time
	Tag    string
	Record *Record
}

// Batch is the unit handed to the archiver: every event of one time slice,
// in arrival order.
type Batch struct {
	// ID is the time slice token the batch belongs to.
	ID     string
	Events []Event
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// EstimateSize returns a rough in-memory size of the batch in bytes.
func (b *Batch) EstimateSize() int64 {
	var size int64
	for _, ev := range b.Events {
		size += int64(len(ev.Tag)) + 24
		size += estimateRecord(ev.Record)
	}
	return size
}

func estimateRecord(r *Record) int64 {
	var size int64
	for i := 0; i < r.Len(); i++ {
		f := r.fields[i]
		size += int64(len(f.Name)) + estimateValue(f.Value)
	}
	return size
}

func estimateValue(v Value) int64 {
	switch v.kind {
	case KindString:
		return int64(len(v.s)) + 16
	case KindMap:
		return estimateRecord(v.m) + 16
	case KindList:
		size := int64(24)
		for _, item := range v.l {
			size += estimateValue(item)
		}
		return size
	default:
		return 16
	}
}
