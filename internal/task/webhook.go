package task

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var webhookMethods = []string{http.MethodPost, http.MethodGet, http.MethodPut, http.MethodPatch}

// NewWebhook validates and builds a webhook destination. The URL must be
// non-empty; its reachability is never checked. Headers with an empty key
// are dropped and an empty header set is omitted.
func NewWebhook(url, method string, headers map[string]string) (*Webhook, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("%w: webhook url is required when strategy=%s", ErrMissingRequiredField, StrategyWebhook)
	}
	m := strings.ToUpper(strings.TrimSpace(method))
	if m == "" {
		m = http.MethodPost
	}
	if !validMethod(m) {
		return nil, fmt.Errorf("%w: webhook method %q (supported: %s)", ErrMalformedInput, method, strings.Join(webhookMethods, ", "))
	}
	var hdrs map[string]string
	for k, v := range headers {
		if k == "" {
			continue
		}
		if hdrs == nil {
			hdrs = make(map[string]string)
		}
		hdrs[k] = v
	}
	return &Webhook{URL: url, Method: m, Headers: hdrs}, nil
}

func validMethod(m string) bool {
	for _, allowed := range webhookMethods {
		if m == allowed {
			return true
		}
	}
	return false
}

type headerEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ParseHeaders reads webhook headers given as a JSON object
// ({"X-Token":"abc"}) or a JSON list of {"key","value"} entries. Blank
// input means no headers.
func ParseHeaders(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var entries []headerEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("%w: webhook headers: %v", ErrMalformedInput, err)
		}
		out := make(map[string]string, len(entries))
		for _, e := range entries {
			out[e.Key] = e.Value
		}
		return out, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: webhook headers: %v", ErrMalformedInput, err)
	}
	return out, nil
}
