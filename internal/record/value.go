// Package record holds the data model handed from intake to the archiver:
// schema-less ordered records, events and time-sliced batches.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which member of the Value union is set.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a tagged union of the scalar and nested values a record field may hold.
// The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	m    *Record
	l    []Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Map returns a nested record value.
func Map(r *Record) Value {
	if r == nil {
		return Null()
	}
	return Value{kind: KindMap, m: r}
}

// List returns a list value. The slice is copied.
func List(vs ...Value) Value {
	l := make([]Value, len(vs))
	copy(l, vs)
	return Value{kind: KindList, l: l}
}

// Kind reports the member of the union that is set.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string member.
func (v Value) Str() string { return v.s }

// IntValue returns the integer member.
func (v Value) IntValue() int64 { return v.i }

// FloatValue returns the float member.
func (v Value) FloatValue() float64 { return v.f }

// BoolValue returns the boolean member.
func (v Value) BoolValue() bool { return v.b }

// MapValue returns the nested record, or nil when v is not a map.
func (v Value) MapValue() *Record { return v.m }

// ListValue returns the list members. The returned slice must not be modified.
func (v Value) ListValue() []Value { return v.l }

// Text renders v as flat text: strings verbatim, numbers and booleans in
// their canonical form, null as empty and nested values as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		data, err := v.appendJSON(nil)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Equal reports whether v and o hold the same value. Maps compare in order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindMap:
		return v.m.Equal(o.m)
	case KindList:
		if len(v.l) != len(o.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(o.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil)
}

func (v Value) appendJSON(dst []byte) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(dst, "null"...), nil
	case KindString:
		return appendQuoted(dst, v.s)
	case KindInt:
		return strconv.AppendInt(dst, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("record: unsupported float value %v", v.f)
		}
		return strconv.AppendFloat(dst, v.f, 'g', -1, 64), nil
	case KindBool:
		return strconv.AppendBool(dst, v.b), nil
	case KindMap:
		return v.m.AppendJSON(dst)
	case KindList:
		dst = append(dst, '[')
		for i, item := range v.l {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			if dst, err = item.appendJSON(dst); err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	}
	return nil, fmt.Errorf("record: unknown value kind %d", v.kind)
}

// appendQuoted appends s as a JSON string. Unlike json.Marshal it leaves
// <, > and & unescaped.
func appendQuoted(dst []byte, s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return append(dst, bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})...), nil
}

// FromAny converts a Go value (as produced by encoding/json with UseNumber,
// or by hand) into a Value. Unsupported types are rendered with fmt.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Record:
		return Map(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case []interface{}:
		l := make([]Value, len(t))
		for i, item := range t {
			l[i] = FromAny(item)
		}
		return Value{kind: KindList, l: l}
	case map[string]interface{}:
		return Map(FromMap(t))
	default:
		return String(fmt.Sprint(t))
	}
}
