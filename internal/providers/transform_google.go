package providers

import "encoding/json"

// GoogleTransformer reshapes messages[] into contents[] with role in
// {user, model} and parts: [{text}], and moves temperature/max_tokens
// into a generationConfig object. A system message has no first-class
// slot in this wire shape and is folded into the first user turn.
type GoogleTransformer struct{}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type googleWireRequest struct {
	Contents         []googleContent        `json:"contents"`
	GenerationConfig googleGenerationConfig `json:"generationConfig,omitempty"`
}

func (GoogleTransformer) TransformRequest(req ChatRequest) ([]byte, error) {
	var system string
	contents := make([]googleContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		text := m.Content
		if system != "" && role == "user" {
			text = system + "\n\n" + text
			system = ""
		}
		contents = append(contents, googleContent{Role: role, Parts: []googlePart{{Text: text}}})
	}

	wire := googleWireRequest{
		Contents: contents,
		GenerationConfig: googleGenerationConfig{
			Temperature:   req.Temperature,
			StopSequences: req.Stop,
		},
	}
	if req.MaxTokens != nil {
		wire.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	return json.Marshal(wire)
}

type googleUsageEnvelope struct {
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (GoogleTransformer) ExtractUsage(body []byte) (Usage, error) {
	var env googleUsageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Usage{}, err
	}
	return Usage{InputTokens: env.UsageMetadata.PromptTokenCount, OutputTokens: env.UsageMetadata.CandidatesTokenCount}, nil
}
