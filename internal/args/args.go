// Package args turns one of the three user input modes into the flat
// argument set submitted with a generation request.
package args

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/schema"
)

// ErrMalformedInput is returned when user supplied JSON cannot be used.
var ErrMalformedInput = metis.ErrMalformedInput

// Set maps argument names to typed values.
type Set map[string]any

// Mode names an input mode as it appears in config and on the command line.
type Mode string

const (
	ModeSchema Mode = "schema"
	ModeGuided Mode = "guided"
	ModeJSON   Mode = "json"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSchema, ModeGuided, ModeJSON:
		return m, nil
	case "":
		return ModeSchema, nil
	default:
		return "", fmt.Errorf("unknown args mode %q (supported: %s, %s, %s)", s, ModeSchema, ModeGuided, ModeJSON)
	}
}

// Entry is one name/value pair of a typed group.
type Entry struct {
	Name  string `yaml:"name" json:"name"`
	Value any    `yaml:"value" json:"value"`
}

// Input is one of Schema, Guided or JSON.
type Input interface {
	Mode() Mode
	build() (Set, error)
}

// Build normalizes in into a Set. A nil input yields an empty set.
func Build(in Input) (Set, error) {
	if in == nil {
		return Set{}, nil
	}
	return in.build()
}

// Schema holds typed groups whose names come from the provider's argument
// schema. Groups are applied in field order; a name used in two groups
// takes the value of the later one.
type Schema struct {
	Strings  []Entry `yaml:"strings,omitempty" json:"strings,omitempty"`
	Links    []Entry `yaml:"links,omitempty" json:"links,omitempty"`
	Integers []Entry `yaml:"integers,omitempty" json:"integers,omitempty"`
	Floats   []Entry `yaml:"floats,omitempty" json:"floats,omitempty"`
	Booleans []Entry `yaml:"booleans,omitempty" json:"booleans,omitempty"`
	Objects  []Entry `yaml:"objects,omitempty" json:"objects,omitempty"`
	Arrays   []Entry `yaml:"arrays,omitempty" json:"arrays,omitempty"`
	Enums    []Entry `yaml:"enums,omitempty" json:"enums,omitempty"`
}

func (Schema) Mode() Mode { return ModeSchema }

func (s Schema) build() (Set, error) {
	out := Set{}
	put(out, s.Strings, toString)
	put(out, s.Links, toString)
	put(out, s.Integers, toInteger)
	put(out, s.Floats, toFloat)
	put(out, s.Booleans, toBoolean)
	put(out, s.Objects, parseJSONMaybe)
	put(out, s.Arrays, parseJSONMaybe)
	put(out, s.Enums, identity)
	dropAbsent(out)
	return out, nil
}

// Check verifies every named entry against the resolved schema of the
// target provider/model: the name must be defined there and its group must
// match the definition's kind. STRING links belong in Links, all other
// strings in Strings.
func (s Schema) Check(defs schema.Schema) error {
	groups := []struct {
		group   string
		entries []Entry
		accepts func(schema.Definition) bool
	}{
		{"strings", s.Strings, func(d schema.Definition) bool { return d.Kind == schema.KindString && !d.IsLink }},
		{"links", s.Links, func(d schema.Definition) bool { return d.Kind == schema.KindString && d.IsLink }},
		{"integers", s.Integers, ofKind(schema.KindInteger)},
		{"floats", s.Floats, ofKind(schema.KindFloat)},
		{"booleans", s.Booleans, ofKind(schema.KindBoolean)},
		{"objects", s.Objects, ofKind(schema.KindObject)},
		{"arrays", s.Arrays, ofKind(schema.KindArray)},
		{"enums", s.Enums, ofKind(schema.KindEnum)},
	}
	for _, g := range groups {
		for _, e := range g.entries {
			if e.Name == "" {
				continue
			}
			d, ok := defs.Lookup(e.Name)
			if !ok {
				return fmt.Errorf("%w: argument %q is not in the provider schema", ErrMalformedInput, e.Name)
			}
			if !g.accepts(d) {
				return fmt.Errorf("%w: argument %q is %s, not allowed in %s", ErrMalformedInput, e.Name, describe(d), g.group)
			}
		}
	}
	return nil
}

// Named reports whether any group has an entry with a name.
func (s Schema) Named() bool {
	for _, group := range [][]Entry{s.Strings, s.Links, s.Integers, s.Floats, s.Booleans, s.Objects, s.Arrays, s.Enums} {
		for _, e := range group {
			if e.Name != "" {
				return true
			}
		}
	}
	return false
}

func ofKind(k schema.Kind) func(schema.Definition) bool {
	return func(d schema.Definition) bool { return d.Kind == k }
}

func describe(d schema.Definition) string {
	if d.Kind == schema.KindString && d.IsLink {
		return "a STRING link"
	}
	return string(d.Kind)
}

// Guided holds free-form names with the same typed conversions as Schema,
// plus a JSON object merged in last.
type Guided struct {
	Strings            []Entry `yaml:"strings,omitempty" json:"strings,omitempty"`
	Integers           []Entry `yaml:"integers,omitempty" json:"integers,omitempty"`
	Floats             []Entry `yaml:"floats,omitempty" json:"floats,omitempty"`
	Booleans           []Entry `yaml:"booleans,omitempty" json:"booleans,omitempty"`
	Links              []Entry `yaml:"links,omitempty" json:"links,omitempty"`
	Objects            []Entry `yaml:"objects,omitempty" json:"objects,omitempty"`
	Arrays             []Entry `yaml:"arrays,omitempty" json:"arrays,omitempty"`
	AdditionalArgsJSON string  `yaml:"additional_args_json,omitempty" json:"additionalArgsJson,omitempty"`
}

func (Guided) Mode() Mode { return ModeGuided }

func (g Guided) build() (Set, error) {
	out := Set{}
	put(out, g.Strings, toString)
	put(out, g.Integers, toInteger)
	put(out, g.Floats, toFloat)
	put(out, g.Booleans, toBoolean)
	put(out, g.Links, toString)
	put(out, g.Objects, parseJSONMaybe)
	put(out, g.Arrays, parseJSONMaybe)

	if strings.TrimSpace(g.AdditionalArgsJSON) != "" {
		extra, err := parseObject(g.AdditionalArgsJSON)
		if err != nil {
			return nil, fmt.Errorf("additional args: %w", err)
		}
		for k, v := range extra {
			out[k] = v
		}
	}
	dropAbsent(out)
	return out, nil
}

// JSON is a raw JSON object used verbatim. Invalid JSON is fatal here,
// unlike the object/array groups of the other modes.
type JSON struct {
	Raw string `yaml:"raw" json:"raw"`
}

func (JSON) Mode() Mode { return ModeJSON }

func (j JSON) build() (Set, error) {
	if strings.TrimSpace(j.Raw) == "" {
		return Set{}, nil
	}
	return parseObject(j.Raw)
}

func put(out Set, entries []Entry, convert func(any) any) {
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		out[e.Name] = convert(e.Value)
	}
}

func dropAbsent(out Set) {
	for k, v := range out {
		if isAbsent(v) {
			delete(out, k)
		}
	}
}

func parseObject(raw string) (Set, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedInput, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrMalformedInput, jsonKind(v))
	}
	return Set(obj), nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
