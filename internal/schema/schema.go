package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opentalon/metisctl/internal/catalog"
	"github.com/opentalon/metisctl/internal/metis"
)

type Kind string

const (
	KindString  Kind = "STRING"
	KindInteger Kind = "INTEGER"
	KindFloat   Kind = "FLOAT"
	KindBoolean Kind = "BOOLEAN"
	KindArray   Kind = "ARRAY"
	KindObject  Kind = "OBJECT"
	KindEnum    Kind = "ENUM"
)

// Kinds lists every argument kind in a stable order.
var Kinds = []Kind{KindString, KindInteger, KindFloat, KindBoolean, KindArray, KindObject, KindEnum}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown argument kind %q", s)
}

// Rules are carried for display only; values are never checked against them.
type Rules struct {
	AllowedValues []any    `json:"allowedValues,omitempty"`
	MinValue      *float64 `json:"minValue,omitempty"`
	MaxValue      *float64 `json:"maxValue,omitempty"`
	MinLength     *int     `json:"minLength,omitempty"`
	MaxLength     *int     `json:"maxLength,omitempty"`
	Pattern       *string  `json:"pattern,omitempty"`
}

type Definition struct {
	Name            string `json:"name"`
	Kind            Kind   `json:"type"`
	Required        bool   `json:"required"`
	DefaultValue    any    `json:"defaultValue,omitempty"`
	Description     string `json:"description,omitempty"`
	IsLink          bool   `json:"isLink,omitempty"`
	ValidationRules *Rules `json:"validationRules,omitempty"`
}

// Schema is the ordered argument list of one provider/model in the
// generation scope.
type Schema []Definition

// Fetcher is the part of the gateway client the resolver needs.
type Fetcher interface {
	ArgumentSchema(ctx context.Context, name, model string) (*metis.ArgumentSchemaResponse, error)
}

// Resolver fetches argument schemas. Every call hits the gateway.
type Resolver struct {
	fetcher Fetcher
}

func NewResolver(f Fetcher) *Resolver {
	return &Resolver{fetcher: f}
}

// Resolve returns the schema for name/model. A response that does not
// mention the pair yields an empty schema, not an error.
func (r *Resolver) Resolve(ctx context.Context, name, model string) (Schema, error) {
	resp, err := r.fetcher.ArgumentSchema(ctx, name, model)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return Schema{}, nil
	}
	specs := resp.ArgumentSchemaMap[name+"/"+model]
	out := make(Schema, 0, len(specs))
	for _, s := range specs {
		out = append(out, fromSpec(s))
	}
	return out, nil
}

// ResolveSelection resolves the schema for a catalog selection key.
func (r *Resolver) ResolveSelection(ctx context.Context, key string) (Schema, error) {
	name, model := catalog.Decode(key)
	return r.Resolve(ctx, name, model)
}

func fromSpec(s metis.ArgumentSpec) Definition {
	d := Definition{
		Name:         s.Name,
		Kind:         Kind(s.Type),
		Required:     s.Required,
		DefaultValue: s.DefaultValue,
		Description:  s.Description,
		IsLink:       s.IsLink,
	}
	if v := s.ValidationRules; v != nil {
		d.ValidationRules = &Rules{
			AllowedValues: v.AllowedValues,
			MinValue:      v.MinValue,
			MaxValue:      v.MaxValue,
			MinLength:     v.MinLength,
			MaxLength:     v.MaxLength,
			Pattern:       v.Pattern,
		}
	}
	return d
}

// LinkFilter narrows STRING definitions by their link flag.
type LinkFilter int

const (
	LinkAny LinkFilter = iota
	LinkOnly
	LinkExclude
)

type Option struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// NamesOfKind lists the definitions of one kind as options sorted by label,
// ignoring case.
// Required arguments are labelled "name *". The link filter only applies
// to STRING.
func NamesOfKind(s Schema, kind Kind, link LinkFilter) []Option {
	out := []Option{}
	for _, d := range s {
		if d.Kind != kind {
			continue
		}
		if kind == KindString {
			if link == LinkOnly && !d.IsLink {
				continue
			}
			if link == LinkExclude && d.IsLink {
				continue
			}
		}
		label := d.Name
		if d.Required {
			label += " *"
		}
		out = append(out, Option{Label: label, Value: d.Name, Description: d.Description})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Label) < strings.ToLower(out[j].Label)
	})
	return out
}

// EnumValues returns the allowed values of the ENUM argument called name.
func EnumValues(s Schema, name string) []any {
	for _, d := range s {
		if d.Name != name || d.Kind != KindEnum {
			continue
		}
		if d.ValidationRules == nil || d.ValidationRules.AllowedValues == nil {
			return []any{}
		}
		return append([]any{}, d.ValidationRules.AllowedValues...)
	}
	return []any{}
}

// Lookup finds a definition by name.
func (s Schema) Lookup(name string) (Definition, bool) {
	for _, d := range s {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}
