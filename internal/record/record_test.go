package record

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewKeepsInsertionOrder(t *testing.T) {
	r := New(
		Field{"b", Int(2)},
		Field{"a", Int(1)},
		Field{"c", String("x")},
	)

	got := strings.Join(r.Names(), ",")
	if got != "b,a,c" {
		t.Errorf("Names() = %s, want b,a,c", got)
	}
}

func TestNewRepeatedNameKeepsFirstPosition(t *testing.T) {
	r := New(Field{"a", Int(1)}, Field{"b", Int(2)}, Field{"a", Int(3)})

	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
	v, _ := r.Get("a")
	if v.IntValue() != 3 {
		t.Errorf("a = %d, want 3", v.IntValue())
	}
	if r.Names()[0] != "a" {
		t.Errorf("a should stay first, got %v", r.Names())
	}
}

func TestWithReturnsCopy(t *testing.T) {
	orig := New(Field{"a", Int(1)})
	next := orig.With("tag", String("app.access"))

	if orig.Len() != 1 {
		t.Errorf("original record was mutated: %v", orig.Names())
	}
	if next.Len() != 2 || next.Names()[1] != "tag" {
		t.Errorf("With() should append new field, got %v", next.Names())
	}

	replaced := next.With("a", Int(9))
	if replaced.Names()[0] != "a" {
		t.Errorf("replacing should keep position, got %v", replaced.Names())
	}
	if v, _ := next.Get("a"); v.IntValue() != 1 {
		t.Errorf("With() mutated its receiver")
	}
}

func TestMarshalJSONOrdered(t *testing.T) {
	r := New(
		Field{"b", Int(2)},
		Field{"a", Int(1)},
		Field{"nested", Map(New(Field{"z", Bool(true)}, Field{"y", Null()}))},
		Field{"list", List(String("q\"uote"), Float(1.5))},
	)

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"b":2,"a":1,"nested":{"z":true,"y":null},"list":["q\"uote",1.5]}`
	if string(data) != want {
		t.Errorf("Marshal = %s\nwant      %s", data, want)
	}
}

func TestUnmarshalJSONPreservesOrderAndInts(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`{"z":1,"a":2.5,"m":{"k":"v"},"l":[1,"two",null],"t":true}`), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got := strings.Join(r.Names(), ","); got != "z,a,m,l,t" {
		t.Errorf("Names() = %s", got)
	}
	z, _ := r.Get("z")
	if z.Kind() != KindInt || z.IntValue() != 1 {
		t.Errorf("z = %v (%s), want int 1", z.Text(), z.Kind())
	}
	a, _ := r.Get("a")
	if a.Kind() != KindFloat || a.FloatValue() != 2.5 {
		t.Errorf("a = %v (%s), want float 2.5", a.Text(), a.Kind())
	}
	m, _ := r.Get("m")
	if m.Kind() != KindMap {
		t.Fatalf("m kind = %s", m.Kind())
	}
	if v, _ := m.MapValue().Get("k"); v.Str() != "v" {
		t.Errorf("m.k = %q", v.Str())
	}
	l, _ := r.Get("l")
	if len(l.ListValue()) != 3 || l.ListValue()[2].Kind() != KindNull {
		t.Errorf("l = %s", l.Text())
	}

	again, err := json.Marshal(&r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(again) != `{"z":1,"a":2.5,"m":{"k":"v"},"l":[1,"two",null],"t":true}` {
		t.Errorf("round trip = %s", again)
	}
}

func TestUnmarshalJSONRejectsNonObject(t *testing.T) {
	var r Record
	if err := json.Unmarshal([]byte(`[1,2]`), &r); err == nil {
		t.Error("expected error for array input")
	}
}

func TestDecodeAll(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"single object", `{"a":1}`, 1},
		{"array", `[{"a":1},{"a":2},{"a":3}]`, 3},
		{"ndjson", "{\"a\":1}\n{\"a\":2}\n", 2},
		{"empty", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := DecodeAll(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("DecodeAll: %v", err)
			}
			if len(recs) != tt.want {
				t.Errorf("got %d records, want %d", len(recs), tt.want)
			}
		})
	}
}

func TestDecodeAllErrors(t *testing.T) {
	for _, input := range []string{`"just a string"`, `[1]`, `{"a":`} {
		if _, err := DecodeAll(strings.NewReader(input)); err == nil {
			t.Errorf("DecodeAll(%q) expected error", input)
		}
	}
}

func TestFromMapSortsNames(t *testing.T) {
	r := FromMap(map[string]interface{}{"c": 3, "a": "x", "b": []interface{}{1, 2}})
	if got := strings.Join(r.Names(), ","); got != "a,b,c" {
		t.Errorf("Names() = %s", got)
	}
}

func TestAppendJSONKeepsHTMLCharacters(t *testing.T) {
	r := New(
		Field{"<msg>", String(`<a href="/x?a=1&b=2">link</a>`)},
		Field{"list", List(String("a>b"))},
	)

	data, err := r.AppendJSON(nil)
	if err != nil {
		t.Fatalf("AppendJSON: %v", err)
	}
	want := `{"<msg>":"<a href=\"/x?a=1&b=2\">link</a>","list":["a>b"]}`
	if string(data) != want {
		t.Errorf("AppendJSON = %s\nwant        %s", data, want)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equal(r) {
		t.Errorf("round trip = %s", data)
	}

	if got := List(String("<&>")).Text(); got != `["<&>"]` {
		t.Errorf("Text = %s, want [\"<&>\"]", got)
	}
}

func TestValueText(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Null(), ""},
		{String("plain"), "plain"},
		{Int(-42), "-42"},
		{Float(0.25), "0.25"},
		{Float(3), "3"},
		{Bool(false), "false"},
		{Map(New(Field{"k", Int(1)})), `{"k":1}`},
		{List(Int(1), String("a")), `[1,"a"]`},
	}
	for _, tt := range tests {
		if got := tt.v.Text(); got != tt.want {
			t.Errorf("Text(%s) = %q, want %q", tt.v.Kind(), got, tt.want)
		}
	}
}

func TestEqualUnordered(t *testing.T) {
	a := New(Field{"x", Int(1)}, Field{"y", Int(2)})
	b := New(Field{"y", Int(2)}, Field{"x", Int(1)})
	if a.Equal(b) {
		t.Error("Equal should be order sensitive")
	}
	if !a.EqualUnordered(b) {
		t.Error("EqualUnordered should ignore order")
	}
}

func TestBatchEstimateSize(t *testing.T) {
	b := &Batch{ID: "2023010100", Events: []Event{
		{Tag: "app", Record: New(Field{"msg", String("hello")})},
	}}
	if b.Len() != 1 {
		t.Errorf("Len() = %d", b.Len())
	}
	if b.EstimateSize() <= 0 {
		t.Error("EstimateSize() should be positive")
	}
}
