package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiProvider_Name(t *testing.T) {
	provider := &GeminiProvider{client: nil}
	assert.Equal(t, "gemini", provider.Name())
}

func TestBuildGeminiContents(t *testing.T) {
	tests := []struct {
		name       string
		inputArray []map[string]any
		wantRoles  []string
		wantErr    bool
	}{
		{
			name:       "single user message",
			inputArray: []map[string]any{UserMessage("test content")},
			wantRoles:  []string{"user"},
		},
		{
			name:       "developer role folded into user",
			inputArray: []map[string]any{DeveloperMessage("context")},
			wantRoles:  []string{"user"},
		},
		{
			name: "assistant becomes model",
			inputArray: []map[string]any{
				UserMessage("one"),
				{"role": "assistant", "content": "two"},
			},
			wantRoles: []string{"user", "model"},
		},
		{
			name: "invalid message skipped",
			inputArray: []map[string]any{
				UserMessage("valid"),
				{"role": "user"},
			},
			wantRoles: []string{"user"},
		},
		{
			name:       "nothing usable",
			inputArray: []map[string]any{{"role": "user"}},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents, err := buildGeminiContents(tt.inputArray)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, contents, len(tt.wantRoles))
			for i, content := range contents {
				assert.Equal(t, tt.wantRoles[i], content.Role)
				assert.NotEmpty(t, content.Parts)
			}
		})
	}
}

func TestConvertSchemaToGemini_VariationSchema(t *testing.T) {
	schema := convertSchemaToGemini(GetVariationOutputSchema())
	require.NotNil(t, schema)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.ElementsMatch(t, []string{"explanation", "notes", "cc", "pitchBend", "aftertouch"}, schema.Required)

	notes := schema.Properties["notes"]
	require.NotNil(t, notes)
	assert.Equal(t, genai.TypeArray, notes.Type)
	require.NotNil(t, notes.Items)

	pitch := notes.Items.Properties["pitch"]
	require.NotNil(t, pitch)
	assert.Equal(t, genai.TypeInteger, pitch.Type)
	require.NotNil(t, pitch.Maximum)
	assert.Equal(t, 127.0, *pitch.Maximum)

	atPitch := schema.Properties["aftertouch"].Items.Properties["pitch"]
	require.NotNil(t, atPitch)
	assert.Equal(t, genai.TypeInteger, atPitch.Type)
	require.NotNil(t, atPitch.Nullable)
	assert.True(t, *atPitch.Nullable)
}

func TestConvertSchemaToGemini_Nil(t *testing.T) {
	assert.Nil(t, convertSchemaToGemini(nil))
}
