package providers

import "encoding/json"

// OpenAITransformer passes the canonical request through unchanged:
// {model, messages, temperature, max_tokens, stop, stream}.
type OpenAITransformer struct{}

func (OpenAITransformer) TransformRequest(req ChatRequest) ([]byte, error) {
	return json.Marshal(req)
}

type openAIUsageEnvelope struct {
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (OpenAITransformer) ExtractUsage(body []byte) (Usage, error) {
	var env openAIUsageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Usage{}, err
	}
	return Usage{InputTokens: env.Usage.PromptTokens, OutputTokens: env.Usage.CompletionTokens}, nil
}
