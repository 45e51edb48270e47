package providers

import "encoding/json"

// AnthropicTransformer lifts any system-role message out of the message
// list into a top-level "system" field, requires max_tokens (defaulting
// to 4096), and renames stop to stop_sequences.
type AnthropicTransformer struct{}

type anthropicWireRequest struct {
	Model        string          `json:"model"`
	System       string          `json:"system,omitempty"`
	Messages     []Message       `json:"messages"`
	MaxTokens    int             `json:"max_tokens"`
	Temperature  *float64        `json:"temperature,omitempty"`
	StopSequences []string       `json:"stop_sequences,omitempty"`
	Stream       bool            `json:"stream,omitempty"`
}

const anthropicDefaultMaxTokens = 4096

func (AnthropicTransformer) TransformRequest(req ChatRequest) ([]byte, error) {
	var system string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	maxTokens := anthropicDefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	wire := anthropicWireRequest{
		Model:         req.Model,
		System:        system,
		Messages:      messages,
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	return json.Marshal(wire)
}

type anthropicUsageEnvelope struct {
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (AnthropicTransformer) ExtractUsage(body []byte) (Usage, error) {
	var env anthropicUsageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Usage{}, err
	}
	return Usage{InputTokens: env.Usage.InputTokens, OutputTokens: env.Usage.OutputTokens}, nil
}
