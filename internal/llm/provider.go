package llm

import "context"

// Provider defines the interface for LLM providers
// All providers MUST support structured output (JSON Schema) for reliable response parsing
type Provider interface {
	// Generate runs one request and returns the raw JSON text the schema constrained
	Generate(ctx context.Context, request *GenerationRequest) (*GenerationResponse, error)

	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string
}

// GenerationRequest contains all parameters needed for generation
type GenerationRequest struct {
	Model         string
	InputArray    []map[string]any
	ReasoningMode string
	SystemPrompt  string
	// Structured output schema - REQUIRED for reliable JSON parsing
	OutputSchema *OutputSchema
}

// OutputSchema defines the expected JSON output structure
type OutputSchema struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema object
}

// Usage is the token accounting of one call
type Usage struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	ReasoningTokens int64 `json:"reasoning_tokens"`
	TotalTokens     int64 `json:"total_tokens"`
}

// GenerationResponse contains the result from the LLM
type GenerationResponse struct {
	RawOutput string `json:"-"` // JSON text matching OutputSchema
	Model     string `json:"model"`
	Usage     Usage  `json:"usage"`
}

const (
	userRole      = "user"
	developerRole = "developer"
)

// UserMessage builds an input item with the user role.
func UserMessage(content string) map[string]any {
	return map[string]any{"role": userRole, "content": content}
}

// DeveloperMessage builds an input item with the developer role.
func DeveloperMessage(content string) map[string]any {
	return map[string]any{"role": developerRole, "content": content}
}
