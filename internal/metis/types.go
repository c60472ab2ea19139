package metis

// ProviderWithTags is one entry of the generation provider catalog.
type ProviderWithTags struct {
	Name  string   `json:"name"`
	Model string   `json:"model"`
	Tags  []string `json:"tags"`
}

// MetaResponse is the subset of GET /api/v1/meta this client reads.
// GenerationProviders is keyed by category (image, video, ...).
type MetaResponse struct {
	GenerationProviders map[string][]ProviderWithTags `json:"generationProviders"`
}

type ValidationRules struct {
	AllowedValues []any    `json:"allowedValues,omitempty"`
	MinValue      *float64 `json:"minValue,omitempty"`
	MaxValue      *float64 `json:"maxValue,omitempty"`
	MinLength     *int     `json:"minLength,omitempty"`
	MaxLength     *int     `json:"maxLength,omitempty"`
	Pattern       *string  `json:"pattern,omitempty"`
}

type ArgumentSpec struct {
	Name            string           `json:"name"`
	Type            string           `json:"type"`
	Required        bool             `json:"required"`
	DefaultValue    any              `json:"defaultValue"`
	Description     string           `json:"description"`
	ValidationRules *ValidationRules `json:"validationRules,omitempty"`
	IsLink          bool             `json:"isLink"`
}

// ArgumentSchemaResponse maps "provider/model" to its ordered argument list.
type ArgumentSchemaResponse struct {
	ArgumentSchemaMap map[string][]ArgumentSpec `json:"argumentSchemaMap"`
}

type ModelRef struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Webhook is called by the gateway, never by this client.
type Webhook struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
}

type GenerationRequest struct {
	Model     ModelRef       `json:"model"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
	Webhook   *Webhook       `json:"webhook,omitempty"`
}

// CreateSessionRequest always sends user and initialMessages as explicit nulls.
type CreateSessionRequest struct {
	BotID           string `json:"botId"`
	User            any    `json:"user"`
	InitialMessages any    `json:"initialMessages"`
}

type ChatMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type sendMessageRequest struct {
	Message ChatMessage `json:"message"`
}

// Object is a JSON object returned by the gateway, kept verbatim.
type Object map[string]any

// String returns the value at key if it is a string, "" otherwise.
func (o Object) String(key string) string {
	s, _ := o[key].(string)
	return s
}
