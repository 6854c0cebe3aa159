package prompt

import (
	_ "embed"
	"strings"
)

// Embed all prompt data files
//
//go:embed data/system_prompt.txt
var systemPromptTxt string

//go:embed data/output_format_instructions.txt
var outputFormatInstructionsTxt string

//go:embed data/expression_instructions.txt
var expressionInstructionsTxt string

type Loader struct{}

func NewPromptLoader() *Loader {
	return &Loader{}
}

// GetSystemPrompt loads the main system prompt
func (l *Loader) GetSystemPrompt() (string, error) {
	return strings.TrimSpace(systemPromptTxt), nil
}

// GetOutputFormatInstructions loads output format instructions
func (l *Loader) GetOutputFormatInstructions() (string, error) {
	return strings.TrimSpace(outputFormatInstructionsTxt), nil
}

// GetExpressionInstructions loads controller event guidelines
func (l *Loader) GetExpressionInstructions() (string, error) {
	return strings.TrimSpace(expressionInstructionsTxt), nil
}
