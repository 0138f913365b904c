// Package extract recovers a StructuredAnswer from whatever the generation
// agent produced. Extract never fails.
package extract

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pbaille/notes/internal/domain"
)

// Kind tags the shape held by a Value
type Kind int

const (
	KindEmpty Kind = iota
	KindTyped
	KindFields
	KindText
)

// Value is one raw output location: a typed answer, a loose field map, or text
type Value struct {
	kind   Kind
	answer domain.StructuredAnswer
	fields map[string]any
	text   string
}

// Typed wraps an already well-formed answer
func Typed(a domain.StructuredAnswer) Value { return Value{kind: KindTyped, answer: a} }

// Fields wraps a decoded JSON object of unknown shape
func Fields(m map[string]any) Value {
	if m == nil {
		return Value{}
	}
	return Value{kind: KindFields, fields: m}
}

// Text wraps free text; blank text is an empty Value
func Text(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Value{}
	}
	return Value{kind: KindText, text: s}
}

// FromModelText classifies text returned by a model: an exact answer object
// becomes Typed, any other JSON object becomes Fields, everything else Text.
func FromModelText(s string) Value {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return Text(s)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()
	var a domain.StructuredAnswer
	if err := dec.Decode(&a); err == nil && !dec.More() && strings.TrimSpace(a.Reasoning) != "" {
		return Typed(a)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
		return Fields(m)
	}
	return Text(s)
}

// Kind returns the shape of v
func (v Value) Kind() Kind { return v.kind }

// Answer returns the typed answer if v holds one
func (v Value) Answer() (domain.StructuredAnswer, bool) { return v.answer, v.kind == KindTyped }

// FieldMap returns the field map if v holds one
func (v Value) FieldMap() (map[string]any, bool) { return v.fields, v.kind == KindFields }

// String returns the text if v holds text
func (v Value) String() (string, bool) { return v.text, v.kind == KindText }

// RawResult is the output of one generation run, by location. Which location
// is filled depends on the API variant.
type RawResult struct {
	FinalOutput Value
	Output      Value
	Content     Value
	// Trace is a printable summary of the run, used as a last resort
	Trace string
}
