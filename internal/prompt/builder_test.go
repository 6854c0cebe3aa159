package prompt

import (
	"strings"
	"testing"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

func TestNewPromptBuilder(t *testing.T) {
	builder := NewPromptBuilder()
	if builder == nil {
		t.Fatal("NewPromptBuilder() returned nil")
		return
	}
	if builder.loader == nil {
		t.Fatal("NewPromptBuilder() created builder with nil loader")
	}
}

func TestBuildPrompt(t *testing.T) {
	builder := NewPromptBuilder()
	prompt, err := builder.BuildPrompt()
	if err != nil {
		t.Fatalf("BuildPrompt() returned error: %v", err)
	}

	for _, want := range []string{"MIDI arranger", "OUTPUT FORMAT", "EXPRESSION"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildPrompt() does not contain %q", want)
		}
	}

	// Sections keep their order
	if strings.Index(prompt, "OUTPUT FORMAT") > strings.Index(prompt, "EXPRESSION") {
		t.Error("BuildPrompt() put expression instructions before the output format")
	}
}

func TestBuildRegionContext(t *testing.T) {
	builder := NewPromptBuilder()

	tests := []struct {
		name   string
		region Region
		want   []string
	}{
		{
			name:   "empty region",
			region: Region{LengthBeats: 16, BeatsPerBar: 4},
			want:   []string{"Region:\n", `"lengthBeats":16`, `"existingNotes":[]`},
		},
		{
			name: "named region with notes",
			region: Region{
				Name:          "Keys",
				LengthBeats:   8,
				BeatsPerBar:   3,
				ExistingNotes: []models.NoteSnapshot{{Pitch: 60, StartBeat: 1, DurationBeats: 1, Velocity: 90}},
			},
			want: []string{`"name":"Keys"`, `"beatsPerBar":3`, `"pitch":60`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := builder.BuildRegionContext(tt.region)
			if err != nil {
				t.Fatalf("BuildRegionContext() returned error: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("BuildRegionContext() = %s, missing %s", got, want)
				}
			}
		})
	}
}
