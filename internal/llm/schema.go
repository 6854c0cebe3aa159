package llm

const (
	// MIDI constraints
	midiNoteNumberMin = 0
	midiNoteNumberMax = 127
	velocityMin       = 1
	velocityMax       = 127
	controllerMax     = 127
	pitchBendMin      = -8192
	pitchBendMax      = 8191

	durationBeatsMin = 0.01

	VariationSchemaName = "region_variation"
)

// GetVariationOutputSchema returns the JSON schema for a regenerated region.
// Notes are the complete after-state of the region, region-relative beats.
// OpenAI strict mode wants every property listed in required, so optional
// values are expressed as nullable.
func GetVariationOutputSchema() map[string]any {
	beat := map[string]any{"type": "number", "minimum": 0}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"explanation": map[string]any{
				"type":        "string",
				"description": "One or two sentences describing the musical change.",
			},
			"notes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pitch":         map[string]any{"type": "integer", "minimum": midiNoteNumberMin, "maximum": midiNoteNumberMax},
						"startBeat":     beat,
						"durationBeats": map[string]any{"type": "number", "minimum": durationBeatsMin},
						"velocity":      map[string]any{"type": "integer", "minimum": velocityMin, "maximum": velocityMax},
						"channel":       map[string]any{"type": "integer", "minimum": 0, "maximum": 15},
					},
					"required":             []string{"pitch", "startBeat", "durationBeats", "velocity", "channel"},
					"additionalProperties": false,
				},
			},
			"cc": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"cc":    map[string]any{"type": "integer", "minimum": 0, "maximum": controllerMax},
						"beat":  beat,
						"value": map[string]any{"type": "integer", "minimum": 0, "maximum": controllerMax},
					},
					"required":             []string{"cc", "beat", "value"},
					"additionalProperties": false,
				},
			},
			"pitchBend": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"beat":  beat,
						"value": map[string]any{"type": "integer", "minimum": pitchBendMin, "maximum": pitchBendMax},
					},
					"required":             []string{"beat", "value"},
					"additionalProperties": false,
				},
			},
			"aftertouch": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"beat":  beat,
						"value": map[string]any{"type": "integer", "minimum": 0, "maximum": controllerMax},
						"pitch": map[string]any{
							"type":        []any{"integer", "null"},
							"description": "Note for polyphonic aftertouch, null for channel pressure.",
						},
					},
					"required":             []string{"beat", "value", "pitch"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"explanation", "notes", "cc", "pitchBend", "aftertouch"},
		"additionalProperties": false,
	}
}

// VariationOutputSchema wraps the schema for a GenerationRequest.
func VariationOutputSchema() *OutputSchema {
	return &OutputSchema{
		Name:        VariationSchemaName,
		Description: "Full replacement content for one MIDI region",
		Schema:      GetVariationOutputSchema(),
	}
}
