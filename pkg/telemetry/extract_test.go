package telemetry

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmtrace/internal/models"
)

func TestExtractTokens(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		raw      string
		want     models.TokenCounts
	}{
		{
			name:     "openrouter computes total from parts",
			provider: ProviderOpenRouter,
			raw:      `{"usage":{"prompt_tokens":500,"completion_tokens":200}}`,
			want:     models.TokenCounts{Input: 500, Output: 200, Total: 700},
		},
		{
			name:     "openai explicit total wins over sum",
			provider: ProviderOpenAI,
			raw:      `{"usage":{"prompt_tokens":60,"completion_tokens":40,"total_tokens":120}}`,
			want:     models.TokenCounts{Input: 60, Output: 40, Total: 120},
		},
		{
			name:     "openai zero counts are valid",
			provider: ProviderOpenAI,
			raw:      `{"usage":{"prompt_tokens":0,"completion_tokens":0}}`,
			want:     models.TokenCounts{Input: 0, Output: 0, Total: 0},
		},
		{
			name:     "anthropic field names",
			provider: ProviderAnthropic,
			raw:      `{"usage":{"input_tokens":123,"output_tokens":45}}`,
			want:     models.TokenCounts{Input: 123, Output: 45, Total: 168},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractTokens(tt.provider, []byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTokensMalformed(t *testing.T) {
	tests := []struct {
		name      string
		provider  Provider
		raw       string
		wantField string
	}{
		{"missing usage object", ProviderOpenRouter, `{"choices":[]}`, "usage"},
		{"not json at all", ProviderOpenAI, `<html>rate limited</html>`, "usage"},
		{"missing prompt tokens", ProviderOpenAI, `{"usage":{"completion_tokens":5}}`, "usage.prompt_tokens"},
		{"missing completion tokens", ProviderOpenRouter, `{"usage":{"prompt_tokens":5}}`, "usage.completion_tokens"},
		{"anthropic missing input", ProviderAnthropic, `{"usage":{"output_tokens":5}}`, "usage.input_tokens"},
		{"anthropic missing output", ProviderAnthropic, `{"usage":{"input_tokens":5}}`, "usage.output_tokens"},
		{"negative count", ProviderOpenAI, `{"usage":{"prompt_tokens":-1,"completion_tokens":5}}`, "usage.input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractTokens(tt.provider, []byte(tt.raw))
			require.Error(t, err)

			var extractionErr *models.ExtractionError
			require.True(t, errors.As(err, &extractionErr), "expected ExtractionError, got %T", err)
			assert.Equal(t, tt.wantField, extractionErr.Field)
			assert.Equal(t, string(tt.provider), extractionErr.Provider)
		})
	}
}

func TestExtractTokensUnknownProvider(t *testing.T) {
	_, err := ExtractTokens(Provider("cohere"), []byte(`{}`))
	require.Error(t, err)
}

func TestFromChatCompletion(t *testing.T) {
	got := FromChatCompletion(openai.Usage{PromptTokens: 500, CompletionTokens: 200, TotalTokens: 700})
	assert.Equal(t, models.TokenCounts{Input: 500, Output: 200, Total: 700}, got)

	// Matches raw-JSON extraction of the same response.
	raw, err := ExtractOpenAI([]byte(`{"usage":{"prompt_tokens":500,"completion_tokens":200,"total_tokens":700}}`))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// Total computed when the client reports none.
	got = FromChatCompletion(openai.Usage{PromptTokens: 10, CompletionTokens: 5})
	assert.Equal(t, int64(15), got.Total)
}
