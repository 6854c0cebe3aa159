package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/observability"
	"github.com/Conceptual-Machines/magda-variations/internal/prompt"
)

const LLMGeneratorName = "llm"

// ProviderSource resolves a provider for a model or explicit provider name.
type ProviderSource interface {
	GetProvider(ctx context.Context, model, providerName string) (llm.Provider, error)
}

// LLMGenerator asks a language model for the region's new content.
type LLMGenerator struct {
	providers       ProviderSource
	defaultModel    string
	defaultProvider string
	reasoningMode   string
	tracer          *observability.LangfuseClient
	prompts         *prompt.Builder
}

func NewLLMGenerator(providers ProviderSource, defaultModel, defaultProvider, reasoningMode string, tracer *observability.LangfuseClient) *LLMGenerator {
	if tracer == nil {
		tracer = observability.Disabled()
	}
	return &LLMGenerator{
		providers:       providers,
		defaultModel:    defaultModel,
		defaultProvider: defaultProvider,
		reasoningMode:   reasoningMode,
		tracer:          tracer,
		prompts:         prompt.NewPromptBuilder(),
	}
}

func (g *LLMGenerator) Name() string {
	return LLMGeneratorName
}

// llmOutput mirrors llm.GetVariationOutputSchema
type llmOutput struct {
	Explanation string                `json:"explanation"`
	Notes       []models.NoteSnapshot `json:"notes"`
	CC          []struct {
		CC    int     `json:"cc"`
		Beat  float64 `json:"beat"`
		Value int     `json:"value"`
	} `json:"cc"`
	PitchBend  []models.PitchBendEvent  `json:"pitchBend"`
	Aftertouch []models.AftertouchEvent `json:"aftertouch"`
}

func (g *LLMGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	modelName := req.Model
	if modelName == "" {
		modelName = g.defaultModel
	}
	providerName := req.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	provider, err := g.providers.GetProvider(ctx, modelName, providerName)
	if err != nil {
		return nil, err
	}

	systemPrompt, err := g.prompts.BuildPrompt()
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	regionContext, err := g.prompts.BuildRegionContext(prompt.Region{
		Name:          req.Region.Name,
		LengthBeats:   req.Region.DurationBeats,
		BeatsPerBar:   req.beatsPerBar(),
		ExistingNotes: snapshots(req.Existing),
	})
	if err != nil {
		return nil, err
	}

	input := []map[string]any{
		llm.DeveloperMessage(regionContext),
		llm.UserMessage(req.Intent),
	}

	trace := g.tracer.StartTrace(ctx, "variation.generate", req.Owner, map[string]any{
		"variation_id": req.VariationID,
		"region_id":    req.Region.RegionID,
		"provider":     provider.Name(),
	})
	defer trace.Finish()
	span := trace.Generation("region", map[string]any{"model": modelName})
	span.Input(input)
	defer span.Finish()

	resp, err := provider.Generate(ctx, &llm.GenerationRequest{
		Model:         modelName,
		InputArray:    input,
		ReasoningMode: g.reasoningMode,
		SystemPrompt:  systemPrompt,
		OutputSchema:  llm.VariationOutputSchema(),
	})
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	span.LogResponse(resp)

	result, err := parseOutput(resp.RawOutput, req.Region.DurationBeats)
	if err != nil {
		span.Fail(err)
		return nil, err
	}
	result.Model = resp.Model
	result.Usage = resp.Usage

	logger.Info("LLM generation parsed", logger.Fields{
		"variation_id": req.VariationID,
		"region_id":    req.Region.RegionID,
		"model":        resp.Model,
		"notes":        len(result.Notes),
		"controllers":  len(result.Controllers),
		"cost":         observability.FormatCost(observability.CalculateCost(resp.Model, resp.Usage)),
	})
	return result, nil
}

// parseOutput decodes the model answer. Events at or past the region end are dropped.
func parseOutput(raw string, length float64) (*Result, error) {
	var out llmOutput
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode model output: %v", ErrInvalidOutput, err)
	}

	result := &Result{Explanation: strings.TrimSpace(out.Explanation)}
	dropped := 0
	inRegion := func(beat float64) bool {
		if length > 0 && beat >= length {
			dropped++
			return false
		}
		return true
	}

	for _, n := range out.Notes {
		if inRegion(n.StartBeat) {
			result.Notes = append(result.Notes, n)
		}
	}
	for _, c := range out.CC {
		if inRegion(c.Beat) {
			result.Controllers = append(result.Controllers, models.NewCCChange(c.CC, c.Beat, c.Value))
		}
	}
	for _, pb := range out.PitchBend {
		if inRegion(pb.Beat) {
			result.Controllers = append(result.Controllers, models.NewPitchBendChange(pb.Beat, pb.Value))
		}
	}
	for _, at := range out.Aftertouch {
		if inRegion(at.Beat) {
			result.Controllers = append(result.Controllers, models.NewAftertouchChange(at.Beat, at.Value, at.Pitch))
		}
	}

	if dropped > 0 {
		logger.Warn("Dropped events outside region", logger.Fields{"dropped": dropped, "length_beats": length})
	}
	if err := ValidateResult(result); err != nil {
		return nil, err
	}
	return result, nil
}
