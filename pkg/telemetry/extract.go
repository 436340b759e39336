package telemetry

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"llmtrace/internal/models"
)

// Provider identifies which API shape a raw usage payload follows. The set is
// closed: each provider gets a typed extraction function instead of
// duck-typed map access.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderOpenAI     Provider = "openai"
)

// ExtractTokens normalizes a raw provider response body into canonical token
// counts. A malformed or field-less payload fails with an ExtractionError
// naming the missing field; callers must not fall back to recording zeroes.
func ExtractTokens(provider Provider, raw []byte) (models.TokenCounts, error) {
	switch provider {
	case ProviderOpenRouter, ProviderOpenAI:
		return extractCompletionsUsage(provider, raw)
	case ProviderAnthropic:
		return extractAnthropicUsage(raw)
	default:
		return models.TokenCounts{}, fmt.Errorf("unknown provider %q", provider)
	}
}

// ExtractOpenRouter extracts token counts from an OpenRouter response body.
func ExtractOpenRouter(raw []byte) (models.TokenCounts, error) {
	return ExtractTokens(ProviderOpenRouter, raw)
}

// ExtractOpenAI extracts token counts from an OpenAI-compatible response body.
func ExtractOpenAI(raw []byte) (models.TokenCounts, error) {
	return ExtractTokens(ProviderOpenAI, raw)
}

// ExtractAnthropic extracts token counts from an Anthropic response body.
func ExtractAnthropic(raw []byte) (models.TokenCounts, error) {
	return ExtractTokens(ProviderAnthropic, raw)
}

// FromChatCompletion converts usage from the go-openai client into canonical
// counts, for callers that use the typed client rather than raw HTTP.
func FromChatCompletion(usage openai.Usage) models.TokenCounts {
	tc := models.TokenCounts{
		Input:  int64(usage.PromptTokens),
		Output: int64(usage.CompletionTokens),
		Total:  int64(usage.TotalTokens),
	}
	if tc.Total == 0 {
		tc.Total = tc.Input + tc.Output
	}
	return tc
}

// OpenAI and OpenRouter share the chat-completions usage shape:
// prompt_tokens / completion_tokens, with total_tokens usually present.
func extractCompletionsUsage(provider Provider, raw []byte) (models.TokenCounts, error) {
	var body struct {
		Usage *struct {
			PromptTokens     *int64 `json:"prompt_tokens"`
			CompletionTokens *int64 `json:"completion_tokens"`
			TotalTokens      *int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(provider), Field: "usage", Err: err}
	}
	if body.Usage == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(provider), Field: "usage"}
	}
	if body.Usage.PromptTokens == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(provider), Field: "usage.prompt_tokens"}
	}
	if body.Usage.CompletionTokens == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(provider), Field: "usage.completion_tokens"}
	}

	tc := models.TokenCounts{
		Input:  *body.Usage.PromptTokens,
		Output: *body.Usage.CompletionTokens,
	}
	// The provider's explicit total wins when it differs from the sum
	// (some providers bill reasoning tokens outside input+output).
	if body.Usage.TotalTokens != nil {
		tc.Total = *body.Usage.TotalTokens
	} else {
		tc.Total = tc.Input + tc.Output
	}
	return validateCounts(string(provider), tc)
}

func extractAnthropicUsage(raw []byte) (models.TokenCounts, error) {
	var body struct {
		Usage *struct {
			InputTokens  *int64 `json:"input_tokens"`
			OutputTokens *int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(ProviderAnthropic), Field: "usage", Err: err}
	}
	if body.Usage == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(ProviderAnthropic), Field: "usage"}
	}
	if body.Usage.InputTokens == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(ProviderAnthropic), Field: "usage.input_tokens"}
	}
	if body.Usage.OutputTokens == nil {
		return models.TokenCounts{}, &models.ExtractionError{Provider: string(ProviderAnthropic), Field: "usage.output_tokens"}
	}

	tc := models.TokenCounts{
		Input:  *body.Usage.InputTokens,
		Output: *body.Usage.OutputTokens,
	}
	tc.Total = tc.Input + tc.Output
	return validateCounts(string(ProviderAnthropic), tc)
}

func validateCounts(provider string, tc models.TokenCounts) (models.TokenCounts, error) {
	switch {
	case tc.Input < 0:
		return models.TokenCounts{}, &models.ExtractionError{Provider: provider, Field: "usage.input", Err: fmt.Errorf("negative count %d", tc.Input)}
	case tc.Output < 0:
		return models.TokenCounts{}, &models.ExtractionError{Provider: provider, Field: "usage.output", Err: fmt.Errorf("negative count %d", tc.Output)}
	case tc.Total < 0:
		return models.TokenCounts{}, &models.ExtractionError{Provider: provider, Field: "usage.total", Err: fmt.Errorf("negative count %d", tc.Total)}
	}
	return tc, nil
}
