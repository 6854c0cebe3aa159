package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Conceptual-Machines/magda-variations/internal/llm"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

// ErrInvalidOutput marks generator output that cannot be placed in a region.
var ErrInvalidOutput = errors.New("invalid generator output")

const defaultBeatsPerBar = 4

// Request is one scope unit handed to a generator.
type Request struct {
	Intent string
	Region models.ScopeRegion
	// Existing is the region content at the variation's base state. Empty for new regions.
	Existing    []models.Note
	BeatsPerBar int
	Model       string
	Provider    string
	// Owner and VariationID are carried for tracing only.
	Owner       string
	VariationID string
}

// Result is the complete after-state of the region, region-relative.
type Result struct {
	Notes       []models.NoteSnapshot
	Controllers []models.ControllerChange
	Explanation string
	Model       string
	Usage       llm.Usage
}

// Generator turns an intent and a region into proposed content.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
	Name() string
}

func (r *Request) beatsPerBar() int {
	if r.BeatsPerBar > 0 {
		return r.BeatsPerBar
	}
	return defaultBeatsPerBar
}

// ValidateResult checks every note and controller event of a result.
func ValidateResult(res *Result) error {
	if res == nil {
		return fmt.Errorf("%w: empty result", ErrInvalidOutput)
	}
	for i, n := range res.Notes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%w: note %d: %v", ErrInvalidOutput, i, err)
		}
	}
	for i, c := range res.Controllers {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: controller %d: %v", ErrInvalidOutput, i, err)
		}
	}
	return nil
}

func snapshots(notes []models.Note) []models.NoteSnapshot {
	out := make([]models.NoteSnapshot, len(notes))
	for i, n := range notes {
		out[i] = n.NoteSnapshot
	}
	return out
}
