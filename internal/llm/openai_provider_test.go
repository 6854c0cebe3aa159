package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpenAIProvider(t *testing.T) {
	provider := NewOpenAIProvider("test-api-key")
	require.NotNil(t, provider)
	assert.Equal(t, "openai", provider.Name())
	assert.NotNil(t, provider.client)
}

func TestOpenAIProvider_BuildRequestParams(t *testing.T) {
	provider := NewOpenAIProvider("test-key")

	tests := []struct {
		name      string
		request   *GenerationRequest
		wantItems int
		reasoning bool
		schema    bool
	}{
		{
			name: "reasoning model with schema",
			request: &GenerationRequest{
				Model:         "gpt-5-mini",
				ReasoningMode: "medium",
				SystemPrompt:  "system",
				InputArray:    []map[string]any{UserMessage("make it swing")},
				OutputSchema:  VariationOutputSchema(),
			},
			wantItems: 1,
			reasoning: true,
			schema:    true,
		},
		{
			name: "non reasoning model skips effort",
			request: &GenerationRequest{
				Model:        "gpt-4.1-mini",
				SystemPrompt: "system",
				InputArray:   []map[string]any{DeveloperMessage("ctx"), UserMessage("go")},
			},
			wantItems: 2,
		},
		{
			name: "invalid items skipped",
			request: &GenerationRequest{
				Model:        "gpt-5",
				SystemPrompt: "system",
				InputArray:   []map[string]any{{"role": "user"}, UserMessage("ok")},
			},
			wantItems: 1,
			reasoning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := provider.buildRequestParams(tt.request)
			assert.Equal(t, tt.request.Model, params.Model)
			assert.Equal(t, tt.request.SystemPrompt, params.Instructions.Value)
			assert.Len(t, params.Input.OfInputItemList, tt.wantItems)
			if tt.reasoning {
				assert.NotEmpty(t, params.Reasoning.Effort)
			} else {
				assert.Empty(t, params.Reasoning.Effort)
			}
			if tt.schema {
				require.NotNil(t, params.Text.Format.OfJSONSchema)
				assert.Equal(t, VariationSchemaName, params.Text.Format.OfJSONSchema.Name)
			} else {
				assert.Nil(t, params.Text.Format.OfJSONSchema)
			}
		})
	}
}

func TestExtractAndCleanTextOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `{"a":1}`, want: `{"a":1}`},
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{}\n```", want: `{}`},
		{in: "   ", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractAndCleanTextOutput(tt.in))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
