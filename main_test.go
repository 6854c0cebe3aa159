package main

import (
	"testing"

	"github.com/Conceptual-Machines/magda-variations/internal/config"
	"github.com/Conceptual-Machines/magda-variations/internal/generator"
	"github.com/Conceptual-Machines/magda-variations/internal/observability"
	"github.com/stretchr/testify/assert"
)

func TestFilterSensitiveHeaders(t *testing.T) {
	filtered := filterSensitiveHeaders(map[string]string{
		"Authorization": "Bearer abc",
		"cookie":        "session=1",
		"X-Api-Key":     "k",
		"Content-Type":  "application/json",
	})

	assert.Equal(t, "[REDACTED]", filtered["Authorization"])
	assert.Equal(t, "[REDACTED]", filtered["cookie"])
	assert.Equal(t, "[REDACTED]", filtered["X-Api-Key"])
	assert.Equal(t, "application/json", filtered["Content-Type"])
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"default arranger", config.Config{GeneratorProvider: "arranger"}, generator.ArrangerName},
		{"llm without keys falls back", config.Config{GeneratorProvider: "openai"}, generator.ArrangerName},
		{"openai with key", config.Config{GeneratorProvider: "openai", OpenAIAPIKey: "sk-test"}, generator.LLMGeneratorName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newGenerator(&tt.cfg, observability.Disabled())
			assert.Equal(t, tt.want, gen.Name())
		})
	}
}
