package providers

// ChatRequest is the canonical, OpenAI-shaped request the pipeline parses
// an inbound client body into, before a Transformer rewrites it into the
// target provider's wire format.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token count pair extracted from a provider's response
// body, normalized to input/output tokens whatever the provider calls them.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Transformer adapts the canonical ChatRequest into one provider's wire
// shape, and extracts usage back out of that provider's response shape.
type Transformer interface {
	TransformRequest(req ChatRequest) (wireBody []byte, err error)
	ExtractUsage(responseBody []byte) (Usage, error)
}
