package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/opentalon/metisctl/internal/metis"
)

// Delimiter separates provider name and model inside a selection key. It is
// assumed never to occur inside a provider or model name.
const Delimiter = ":::"

const tagDisabled = "disabled"

// Entry is one provider/model pair. Tags double as supported operations.
type Entry struct {
	Name  string
	Model string
	Tags  []string
}

func (e Entry) Selectable() bool {
	for _, t := range e.Tags {
		if t == tagDisabled {
			return false
		}
	}
	return true
}

func (e Entry) Label() string { return e.Name + "/" + e.Model }

func (e Entry) Key() string { return Encode(e.Name, e.Model) }

// Option is a selectable item: a human label and an opaque value.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Encode builds the opaque selection key for a provider/model pair.
func Encode(name, model string) string {
	return name + Delimiter + model
}

// Decode splits a selection key on the first delimiter. A key without the
// delimiter decodes to (key, "").
func Decode(key string) (name, model string) {
	name, model, _ = strings.Cut(key, Delimiter)
	return name, model
}

// MetaFetcher is the part of the gateway client the resolver needs.
type MetaFetcher interface {
	Meta(ctx context.Context) (*metis.MetaResponse, error)
}

// Resolver answers provider/model questions from a fresh catalog fetch.
// Nothing is cached between calls.
type Resolver struct {
	meta MetaFetcher
}

func NewResolver(meta MetaFetcher) *Resolver {
	return &Resolver{meta: meta}
}

// Entries fetches the catalog and returns its selectable entries.
func (r *Resolver) Entries(ctx context.Context) ([]Entry, error) {
	resp, err := r.meta.Meta(ctx)
	if err != nil {
		return nil, err
	}
	return Flatten(resp), nil
}

// ListProviders returns every selectable provider/model, sorted by label
// (case-insensitive).
func (r *Resolver) ListProviders(ctx context.Context) ([]Option, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return Options(entries), nil
}

// ListOperations returns the tags of the entry the key points at, in catalog
// order. Unknown or empty keys yield an empty list.
func (r *Resolver) ListOperations(ctx context.Context, key string) ([]string, error) {
	if key == "" {
		return []string{}, nil
	}
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return Operations(entries, key), nil
}

// Flatten merges every category into one list and drops disabled entries.
// Categories are visited in key order so the result is deterministic.
func Flatten(resp *metis.MetaResponse) []Entry {
	if resp == nil {
		return nil
	}
	categories := make([]string, 0, len(resp.GenerationProviders))
	for c := range resp.GenerationProviders {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []Entry
	for _, c := range categories {
		for _, p := range resp.GenerationProviders[c] {
			e := Entry{Name: p.Name, Model: p.Model, Tags: p.Tags}
			if e.Tags == nil {
				e.Tags = []string{}
			}
			if !e.Selectable() {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func Options(entries []Entry) []Option {
	out := make([]Option, 0, len(entries))
	for _, e := range entries {
		out = append(out, Option{Label: e.Label(), Value: e.Key()})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Label) < strings.ToLower(out[j].Label)
	})
	return out
}

func Operations(entries []Entry, key string) []string {
	name, model := Decode(key)
	for _, e := range entries {
		if e.Name == name && e.Model == model {
			return append([]string{}, e.Tags...)
		}
	}
	return []string{}
}
