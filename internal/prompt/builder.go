package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

// Builder builds prompts for the LLM generator
type Builder struct {
	loader *Loader
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder() *Builder {
	return &Builder{loader: NewPromptLoader()}
}

// BuildPrompt builds the complete system prompt
func (b *Builder) BuildPrompt() (string, error) {
	loaders := []func() (string, error){
		b.loader.GetSystemPrompt,
		b.loader.GetOutputFormatInstructions,
		b.loader.GetExpressionInstructions,
	}

	sections := make([]string, 0, len(loaders))
	for _, load := range loaders {
		section, err := load()
		if err != nil {
			return "", err
		}
		if section != "" {
			sections = append(sections, section)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// Region is the region context sent with every request
type Region struct {
	Name          string                `json:"name,omitempty"`
	LengthBeats   float64               `json:"lengthBeats"`
	BeatsPerBar   int                   `json:"beatsPerBar"`
	ExistingNotes []models.NoteSnapshot `json:"existingNotes"`
}

// BuildRegionContext renders the region as the developer message preceding the intent.
func (b *Builder) BuildRegionContext(r Region) (string, error) {
	if r.ExistingNotes == nil {
		r.ExistingNotes = []models.NoteSnapshot{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode region: %w", err)
	}
	return "Region:\n" + string(data), nil
}
