package task

import (
	"errors"
	"testing"
)

func TestNewWebhook(t *testing.T) {
	w, err := NewWebhook("https://hooks.example.com", "patch", map[string]string{"X-A": "1", "": "dropped"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Method != "PATCH" {
		t.Errorf("method = %q", w.Method)
	}
	if len(w.Headers) != 1 || w.Headers["X-A"] != "1" {
		t.Errorf("headers = %v", w.Headers)
	}
}

func TestNewWebhookDefaults(t *testing.T) {
	w, err := NewWebhook("https://hooks.example.com", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if w.Method != "POST" {
		t.Errorf("method = %q, want POST", w.Method)
	}
	if w.Headers != nil {
		t.Errorf("headers = %v, want omitted", w.Headers)
	}
}

func TestNewWebhookRequiresURL(t *testing.T) {
	_, err := NewWebhook("  ", "POST", nil)
	if !errors.Is(err, ErrMissingRequiredField) {
		t.Errorf("err = %v, want ErrMissingRequiredField", err)
	}
}

func TestNewWebhookRejectsMethod(t *testing.T) {
	_, err := NewWebhook("https://x", "DELETE", nil)
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("err = %v, want ErrMalformedInput", err)
	}
}

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"blank", "  ", nil},
		{"object", `{"X-Token":"abc","X-Env":"prod"}`, map[string]string{"X-Token": "abc", "X-Env": "prod"}},
		{"list", `[{"key":"X-Token","value":"abc"},{"key":"X-Empty"}]`, map[string]string{"X-Token": "abc", "X-Empty": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHeaders(tt.raw)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestParseHeadersInvalid(t *testing.T) {
	for _, raw := range []string{"{bad", `[{"key":1}]`, `{"X":1}`} {
		if _, err := ParseHeaders(raw); !errors.Is(err, ErrMalformedInput) {
			t.Errorf("ParseHeaders(%q) err = %v, want ErrMalformedInput", raw, err)
		}
	}
}

func TestPayloadAccessors(t *testing.T) {
	p := Payload{"id": "t-1", "status": "cancelled"}
	if p.ID() != "t-1" || p.Status() != "CANCELLED" || !p.Terminal() {
		t.Errorf("payload accessors: id=%q status=%q terminal=%v", p.ID(), p.Status(), p.Terminal())
	}
	empty := Payload{"id": 5}
	if empty.ID() != "" || empty.Status() != "" || empty.Terminal() {
		t.Error("non-string fields should read as empty")
	}
}
