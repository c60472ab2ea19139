package metis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/opentalon/metisctl/internal/version"
)

const (
	DefaultBaseURL = "https://api.metisai.ir"

	pathMeta           = "/api/v1/meta"
	pathArgumentSchema = "/api/v1/meta/models-argument-schema/"
	pathGenerate       = "/api/v2/generate"
	pathSessionsV1     = "/api/v1/chat/sessions"
	pathSessionsV2     = "/api/v2/chat/sessions/"
	pathMe             = "/api/v1/user/me"

	// SchemaScopeGeneration is the only argument schema scope this client asks for.
	SchemaScopeGeneration = "generation"
)

// Client talks JSON over HTTP to the Metis gateway. Every request carries
// the API key plus the client identification headers. Nothing is retried.
type Client struct {
	baseURL   string
	apiKey    string
	clientID  string
	userAgent string
	client    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithClientID overrides the X-Metis-Client header value.
func WithClientID(id string) Option {
	return func(cl *Client) {
		if id != "" {
			cl.clientID = id
		}
	}
}

// WithUserAgent overrides the User-Agent header value.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua != "" {
			cl.userAgent = ua
		}
	}
}

// New creates a client for baseURL. An empty baseURL selects DefaultBaseURL.
// The default HTTP client has no timeout; callers bound calls with ctx.
func New(baseURL, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ua := version.Get().UserAgent()
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		clientID:  ua,
		userAgent: ua,
		client:    &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Meta fetches the provider catalog.
func (c *Client) Meta(ctx context.Context) (*MetaResponse, error) {
	var out MetaResponse
	if err := c.do(ctx, http.MethodGet, pathMeta, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArgumentSchema fetches the generation-scope argument schema for one provider/model.
func (c *Client) ArgumentSchema(ctx context.Context, name, model string) (*ArgumentSchemaResponse, error) {
	path := pathArgumentSchema + url.PathEscape(name) + "/" + url.PathEscape(model)
	q := url.Values{"scope": {SchemaScopeGeneration}}
	var out ArgumentSchemaResponse
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGeneration submits a generation task and returns the gateway's task object.
func (c *Client) CreateGeneration(ctx context.Context, req *GenerationRequest) (Object, error) {
	return c.object(ctx, http.MethodPost, pathGenerate, req)
}

// GetGeneration fetches the current state of a generation task.
func (c *Client) GetGeneration(ctx context.Context, id string) (Object, error) {
	return c.object(ctx, http.MethodGet, pathGenerate+"/"+url.PathEscape(id), nil)
}

// CreateSession allocates a new chat session on the gateway. It has a side
// effect and must not be retried blindly.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (Object, error) {
	return c.object(ctx, http.MethodPost, pathSessionsV1, req)
}

// SendMessage posts one message into an existing chat session.
func (c *Client) SendMessage(ctx context.Context, sessionID string, msg ChatMessage) (Object, error) {
	path := pathSessionsV2 + url.PathEscape(sessionID) + "/message"
	return c.object(ctx, http.MethodPost, path, sendMessageRequest{Message: msg})
}

// Me returns the account the API key belongs to.
func (c *Client) Me(ctx context.Context) (Object, error) {
	return c.object(ctx, http.MethodGet, pathMe, nil)
}

func (c *Client) object(ctx context.Context, method, path string, body any) (Object, error) {
	var out Object
	if err := c.do(ctx, method, path, nil, body, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = Object{}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, body != nil)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUpstream, method, path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", ErrUpstream, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return &APIError{
			StatusCode: httpResp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: unmarshal response from %s %s: %w", ErrUpstream, method, path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	req.Header.Set("X-Metis-Client", c.clientID)
	req.Header.Set("User-Agent", c.userAgent)
}
