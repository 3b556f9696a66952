// Package annotation defines the annotation record shared by the store, the
// surface coordinator and the lifecycle engine.
//
// An Annotation carries three well-known fields (id, quote, ranges) plus an
// arbitrary set of free-form fields. Free-form fields are kept in a sealed
// Value model so that merging and exporting stay deterministic.
package annotation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Reserved JSON keys. Everything else lands in Fields.
const (
	KeyID     = "id"
	KeyQuote  = "quote"
	KeyRanges = "ranges"
	KeyLocal  = "_local"
)

// Annotation is a user note attached to one or more ranges of rendered text.
//
// ID is assigned by the store; zero means the annotation is still a draft.
// Local marks an annotation not yet committed to the bound model and is never
// serialized.
type Annotation struct {
	ID     int64
	Quote  string
	Ranges []Value
	Fields Object
	Local  bool
}

// New creates a draft annotation for the given quote and range descriptors.
func New(quote string, ranges []Value) *Annotation {
	return &Annotation{
		Quote:  quote,
		Ranges: ranges,
		Fields: Object{},
	}
}

// IsDraft reports whether the annotation has not been registered yet.
func (a *Annotation) IsDraft() bool {
	return a.ID == 0
}

// Field returns a free-form field.
func (a *Annotation) Field(key string) (Value, bool) {
	v, ok := a.Fields[key]
	return v, ok
}

// SetField sets a free-form field. Reserved keys are rejected.
func (a *Annotation) SetField(key string, v Value) error {
	switch key {
	case KeyID, KeyQuote, KeyRanges, KeyLocal:
		return fmt.Errorf("field %q is reserved", key)
	}
	if a.Fields == nil {
		a.Fields = Object{}
	}
	a.Fields[key] = v
	return nil
}

// Clone returns a deep copy, including the Local flag.
func (a *Annotation) Clone() *Annotation {
	if a == nil {
		return nil
	}
	out := &Annotation{
		ID:     a.ID,
		Quote:  a.Quote,
		Fields: a.Fields.Clone(),
		Local:  a.Local,
	}
	if a.Ranges != nil {
		out.Ranges = make([]Value, len(a.Ranges))
		for i, r := range a.Ranges {
			out.Ranges[i] = CloneValue(r)
		}
	}
	return out
}

// Merge deep-merges src into a in place and returns a.
//
// The quote and ranges are replaced when src carries them, and free-form
// fields are merged recursively. The id and the receiver's identity
// are preserved.
func (a *Annotation) Merge(src *Annotation) *Annotation {
	if src == nil || src == a {
		return a
	}
	if src.Quote != "" {
		a.Quote = src.Quote
	}
	if src.Ranges != nil {
		a.Ranges = make([]Value, len(src.Ranges))
		for i, r := range src.Ranges {
			a.Ranges[i] = CloneValue(r)
		}
	}
	a.Fields = MergeObject(a.Fields, src.Fields)
	a.Local = src.Local
	return a
}

// Object renders the annotation as a single Object: free-form fields plus
// id (when assigned), quote and ranges. The local flag is never included.
func (a *Annotation) Object() Object {
	obj := make(Object, len(a.Fields)+3)
	for k, v := range a.Fields {
		obj[k] = CloneValue(v)
	}
	if a.ID != 0 {
		obj[KeyID] = Int(a.ID)
	}
	obj[KeyQuote] = String(a.Quote)
	ranges := make(Array, len(a.Ranges))
	for i, r := range a.Ranges {
		ranges[i] = CloneValue(r)
	}
	obj[KeyRanges] = ranges
	return obj
}

// FromObject builds an annotation from a flat object as produced by Object.
func FromObject(obj Object) (*Annotation, error) {
	a := &Annotation{Fields: Object{}}
	for k, v := range obj {
		switch k {
		case KeyID:
			switch id := v.(type) {
			case Int:
				a.ID = int64(id)
			case Null:
			default:
				return nil, fmt.Errorf("id: expected integer, got %T", v)
			}
		case KeyQuote:
			switch q := v.(type) {
			case String:
				a.Quote = string(q)
			case Null:
			default:
				return nil, fmt.Errorf("quote: expected string, got %T", v)
			}
		case KeyRanges:
			switch r := v.(type) {
			case Array:
				a.Ranges = []Value(r.clone())
			case Null:
			default:
				return nil, fmt.Errorf("ranges: expected array, got %T", v)
			}
		case KeyLocal:
			if b, ok := v.(Bool); ok {
				a.Local = bool(b)
			}
		default:
			a.Fields[k] = CloneValue(v)
		}
	}
	if a.ID < 0 {
		return nil, fmt.Errorf("id: must be positive, got %d", a.ID)
	}
	return a, nil
}

// FromAnyAnnotation converts decoded JSON/YAML data into an annotation.
func FromAnyAnnotation(v any) (*Annotation, error) {
	converted, err := FromAny(v)
	if err != nil {
		return nil, err
	}
	obj, ok := converted.(Object)
	if !ok {
		return nil, fmt.Errorf("annotation: expected object, got %T", converted)
	}
	return FromObject(obj)
}

func (arr Array) clone() Array {
	return CloneValue(arr).(Array)
}

// MarshalJSON flattens free-form fields beside id, quote and ranges.
// The local flag is never emitted.
func (a Annotation) MarshalJSON() ([]byte, error) {
	return a.Object().MarshalJSON()
}

// UnmarshalJSON accepts any JSON object; unknown keys become free-form fields.
func (a *Annotation) UnmarshalJSON(data []byte) error {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("annotation: %w", err)
	}
	parsed, err := FromObject(obj)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// MarshalYAML renders the annotation as plain data for gopkg.in/yaml.v3.
func (a Annotation) MarshalYAML() (any, error) {
	return ToAny(a.Object()), nil
}

// DecodeList parses a JSON array of annotations.
func DecodeList(data []byte) ([]*Annotation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var out []*Annotation
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
