package observability

import (
	"strconv"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
)

// Pricing constants
const (
	tokensPerKilo       = 1000.0
	costFormatPrecision = 6

	gpt5InputPrice      = 0.00125
	gpt5OutputPrice     = 0.01
	gpt5MiniInputPrice  = 0.00025
	gpt5MiniOutputPrice = 0.002

	gpt51InputPrice      = 0.001
	gpt51OutputPrice     = 0.003
	gpt51MiniInputPrice  = 0.0005
	gpt51MiniOutputPrice = 0.0015

	gpt4oMiniInputPrice  = 0.00015
	gpt4oMiniOutputPrice = 0.0006

	geminiFlashInputPrice  = 0.0003
	geminiFlashOutputPrice = 0.0025

	defaultPricedModel = "gpt-5.1"
)

// ModelPricing contains pricing information per 1K tokens
type ModelPricing struct {
	InputPricePer1K  float64 // Price per 1K input tokens in USD
	OutputPricePer1K float64 // Price per 1K output tokens in USD
}

// PricingTable contains pricing for all models
var PricingTable = map[string]ModelPricing{
	"gpt-5":            {InputPricePer1K: gpt5InputPrice, OutputPricePer1K: gpt5OutputPrice},
	"gpt-5-mini":       {InputPricePer1K: gpt5MiniInputPrice, OutputPricePer1K: gpt5MiniOutputPrice},
	"gpt-5.1":          {InputPricePer1K: gpt51InputPrice, OutputPricePer1K: gpt51OutputPrice},
	"gpt-5.1-mini":     {InputPricePer1K: gpt51MiniInputPrice, OutputPricePer1K: gpt51MiniOutputPrice},
	"gpt-4o-mini":      {InputPricePer1K: gpt4oMiniInputPrice, OutputPricePer1K: gpt4oMiniOutputPrice},
	"gemini-2.5-flash": {InputPricePer1K: geminiFlashInputPrice, OutputPricePer1K: geminiFlashOutputPrice},
}

// CalculateCost calculates the cost in USD of one LLM call
func CalculateCost(model string, usage llm.Usage) float64 {
	pricing, exists := PricingTable[model]
	if !exists {
		pricing = PricingTable[defaultPricedModel]
	}

	inputCost := (float64(usage.InputTokens) / tokensPerKilo) * pricing.InputPricePer1K
	outputCost := (float64(usage.OutputTokens) / tokensPerKilo) * pricing.OutputPricePer1K
	// Reasoning tokens are billed at the input rate
	reasoningCost := (float64(usage.ReasoningTokens) / tokensPerKilo) * pricing.InputPricePer1K

	return inputCost + outputCost + reasoningCost
}

// FormatCost formats a cost value as a USD string
func FormatCost(cost float64) string {
	return "$" + strconv.FormatFloat(cost, 'f', costFormatPrecision, 64)
}
