package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/opentalon/metisctl/internal/metis"
)

type fakeFetcher struct {
	resp  *metis.ArgumentSchemaResponse
	err   error
	calls []string
}

func (f *fakeFetcher) ArgumentSchema(_ context.Context, name, model string) (*metis.ArgumentSchemaResponse, error) {
	f.calls = append(f.calls, name+"/"+model)
	return f.resp, f.err
}

func testSchema() Schema {
	return Schema{
		{Name: "prompt", Kind: KindString, Required: true},
		{Name: "image_url", Kind: KindString, IsLink: true},
		{Name: "negative", Kind: KindString},
		{Name: "n", Kind: KindInteger},
		{Name: "size", Kind: KindEnum, Required: true, ValidationRules: &Rules{AllowedValues: []any{"256x256", "1024x1024"}}},
		{Name: "quality", Kind: KindEnum},
		{Name: "seed", Kind: KindString},
	}
}

func TestResolve(t *testing.T) {
	minValue := 1.0
	f := &fakeFetcher{resp: &metis.ArgumentSchemaResponse{ArgumentSchemaMap: map[string][]metis.ArgumentSpec{
		"openai/dall-e-3": {
			{Name: "prompt", Type: "STRING", Required: true, Description: "what to draw"},
			{Name: "n", Type: "INTEGER", DefaultValue: float64(1), ValidationRules: &metis.ValidationRules{MinValue: &minValue}},
		},
		"other/model": {{Name: "x", Type: "STRING"}},
	}}}
	r := NewResolver(f)

	s, err := r.Resolve(context.Background(), "openai", "dall-e-3")
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 2 {
		t.Fatalf("len = %d, want 2", len(s))
	}
	if s[0].Name != "prompt" || s[0].Kind != KindString || !s[0].Required || s[0].Description != "what to draw" {
		t.Errorf("s[0] = %+v", s[0])
	}
	if s[1].ValidationRules == nil || *s[1].ValidationRules.MinValue != 1 {
		t.Errorf("s[1] rules = %+v", s[1].ValidationRules)
	}
	if s[1].DefaultValue != float64(1) {
		t.Errorf("s[1] default = %v", s[1].DefaultValue)
	}
}

func TestResolveMissingKeyIsEmpty(t *testing.T) {
	f := &fakeFetcher{resp: &metis.ArgumentSchemaResponse{}}
	s, err := NewResolver(f).Resolve(context.Background(), "openai", "gpt")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || len(s) != 0 {
		t.Errorf("schema = %#v, want empty", s)
	}
}

func TestResolveNeverCaches(t *testing.T) {
	f := &fakeFetcher{resp: &metis.ArgumentSchemaResponse{}}
	r := NewResolver(f)
	for i := 0; i < 3; i++ {
		if _, err := r.ResolveSelection(context.Background(), "openai:::gpt"); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.calls) != 3 {
		t.Errorf("fetches = %d, want 3", len(f.calls))
	}
	if f.calls[0] != "openai/gpt" {
		t.Errorf("fetched %q", f.calls[0])
	}
}

func TestResolvePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewResolver(&fakeFetcher{err: boom}).Resolve(context.Background(), "a", "b")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestNamesOfKind(t *testing.T) {
	s := testSchema()
	tests := []struct {
		name string
		kind Kind
		link LinkFilter
		want []string
	}{
		{"plain strings", KindString, LinkExclude, []string{"negative", "prompt *", "seed"}},
		{"links", KindString, LinkOnly, []string{"image_url"}},
		{"all strings", KindString, LinkAny, []string{"image_url", "negative", "prompt *", "seed"}},
		{"integers", KindInteger, LinkAny, []string{"n"}},
		{"enums", KindEnum, LinkOnly, []string{"quality", "size *"}},
		{"floats", KindFloat, LinkAny, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NamesOfKind(s, tt.kind, tt.link)
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want labels %v", got, tt.want)
			}
			for i, w := range tt.want {
				if got[i].Label != w {
					t.Errorf("[%d] label = %q, want %q", i, got[i].Label, w)
				}
			}
		})
	}
}

func TestNamesOfKindIgnoresCase(t *testing.T) {
	s := Schema{
		{Name: "Zoom", Kind: KindFloat},
		{Name: "alpha", Kind: KindFloat},
		{Name: "Beta", Kind: KindFloat, Required: true},
	}
	got := NamesOfKind(s, KindFloat, LinkAny)
	want := []string{"alpha", "Beta *", "Zoom"}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i, w := range want {
		if got[i].Label != w {
			t.Errorf("[%d] label = %q, want %q", i, got[i].Label, w)
		}
	}
}

func TestNamesOfKindValueIsBareName(t *testing.T) {
	got := NamesOfKind(testSchema(), KindEnum, LinkAny)
	if got[1].Value != "size" {
		t.Errorf("value = %q, want size", got[1].Value)
	}
}

func TestEnumValues(t *testing.T) {
	s := testSchema()
	vals := EnumValues(s, "size")
	if len(vals) != 2 || vals[0] != "256x256" {
		t.Errorf("size values = %v", vals)
	}
	if vals := EnumValues(s, "quality"); len(vals) != 0 {
		t.Errorf("enum without rules = %v", vals)
	}
	if vals := EnumValues(s, "prompt"); len(vals) != 0 {
		t.Errorf("non-enum = %v", vals)
	}
	if vals := EnumValues(s, "missing"); vals == nil || len(vals) != 0 {
		t.Errorf("missing = %#v", vals)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("FLOAT"); err != nil || k != KindFloat {
		t.Errorf("ParseKind(FLOAT) = %q, %v", k, err)
	}
	if _, err := ParseKind("float"); err == nil {
		t.Error("kinds are upper case")
	}
}
