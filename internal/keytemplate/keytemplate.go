// Package keytemplate expands object key templates such as
// "logs/%{time_slice}_%{index}.%{file_extension}".
package keytemplate

import (
	"fmt"
	"sort"
	"strings"
)

// Variable names understood by the archiver.
const (
	VarPath          = "path"
	VarTimeSlice     = "time_slice"
	VarIndex         = "index"
	VarFileExtension = "file_extension"
	VarUUIDFlush     = "uuid_flush"
	VarHexRandom     = "hex_random"
	VarHostname      = "hostname"
)

// KnownVariables lists every variable the archiver can supply.
var KnownVariables = []string{
	VarPath, VarTimeSlice, VarIndex, VarFileExtension,
	VarUUIDFlush, VarHexRandom, VarHostname,
}

// DefaultFormat is the key layout used when none is configured.
const DefaultFormat = "%{path}%{time_slice}_%{index}.%{file_extension}"

// Vars maps variable names to their values for one expansion.
type Vars map[string]string

// TemplateError is returned when a placeholder has no value.
type TemplateError struct {
	Template string
	Name     string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("key template %q: no value for placeholder %%{%s}", e.Template, e.Name)
}

type segment struct {
	literal string
	name    string // placeholder name; empty for literal segments
}

// Template is a parsed key template. It is safe for concurrent use.
type Template struct {
	raw      string
	segments []segment
}

// Parse splits s into literal text and %{name} placeholders.
// An unterminated "%{" is an error; a lone "%" is literal text.
func Parse(s string) (*Template, error) {
	t := &Template{raw: s}
	rest := s
	for {
		i := strings.Index(rest, "%{")
		if i < 0 {
			break
		}
		if i > 0 {
			t.segments = append(t.segments, segment{literal: rest[:i]})
		}
		end := strings.IndexByte(rest[i+2:], '}')
		if end < 0 {
			return nil, fmt.Errorf("key template %q: unterminated placeholder at offset %d", s, len(s)-len(rest)+i)
		}
		name := rest[i+2 : i+2+end]
		if name == "" {
			return nil, fmt.Errorf("key template %q: empty placeholder", s)
		}
		t.segments = append(t.segments, segment{name: name})
		rest = rest[i+2+end+1:]
	}
	if rest != "" {
		t.segments = append(t.segments, segment{literal: rest})
	}
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) *Template {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// Placeholders returns the distinct placeholder names in order of first use.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, seg := range t.segments {
		if seg.name != "" && !seen[seg.name] {
			seen[seg.name] = true
			names = append(names, seg.name)
		}
	}
	return names
}

// Uses reports whether the template references name.
func (t *Template) Uses(name string) bool {
	for _, seg := range t.segments {
		if seg.name == name {
			return true
		}
	}
	return false
}

// Validate returns an error naming every placeholder not in allowed.
func (t *Template) Validate(allowed []string) error {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	var unknown []string
	for _, name := range t.Placeholders() {
		if !ok[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("key template %q: unknown placeholders %s", t.raw, strings.Join(unknown, ", "))
}

// Resolve expands the template. Every placeholder must be present in vars;
// an empty value is allowed, a missing one is a *TemplateError.
func (t *Template) Resolve(vars Vars) (string, error) {
	var b strings.Builder
	b.Grow(len(t.raw) + 32)
	for _, seg := range t.segments {
		if seg.name == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := vars[seg.name]
		if !ok {
			return "", &TemplateError{Template: t.raw, Name: seg.name}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}
