package generator

import "sort"

// RhythmTemplate defines timing and accent patterns within one 4/4 bar
type RhythmTemplate struct {
	Name string
	// Offsets within a bar in beats (0-4)
	Offsets []float64
	// Velocity multipliers for accents (1.0 = normal)
	Accents []float64
	// Duration multiplier, above 1.0 overlaps the next hit until capped
	Articulation float64
}

const (
	articulationFull    = 1.0
	articulationHigh    = 0.9
	articulationMedium  = 0.8
	articulationMidHigh = 0.85
	articulationShort   = 0.4
	articulationOverlap = 1.1

	templateBarBeats = 4.0
)

var rhythmTemplates = map[string]RhythmTemplate{
	"whole":    {Name: "whole", Offsets: []float64{0}, Accents: []float64{1.0}, Articulation: articulationFull},
	"half":     {Name: "half", Offsets: []float64{0, 2}, Accents: []float64{1.0, 0.9}, Articulation: articulationFull},
	"quarters": {Name: "quarters", Offsets: []float64{0, 1, 2, 3}, Accents: []float64{1.0, 0.8, 0.9, 0.8}, Articulation: articulationHigh},
	"8ths": {
		Name:         "8ths",
		Offsets:      []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5},
		Accents:      []float64{1.0, 0.7, 0.9, 0.7, 0.95, 0.7, 0.9, 0.7},
		Articulation: articulationMidHigh,
	},
	"16ths": {
		Name:         "16ths",
		Offsets:      []float64{0, 0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2, 2.25, 2.5, 2.75, 3, 3.25, 3.5, 3.75},
		Accents:      []float64{1.0, 0.6, 0.8, 0.6, 0.9, 0.6, 0.8, 0.6, 0.95, 0.6, 0.8, 0.6, 0.9, 0.6, 0.8, 0.6},
		Articulation: articulationMedium,
	},
	"swing": {
		Name:         "swing",
		Offsets:      []float64{0, 0.67, 1, 1.67, 2, 2.67, 3, 3.67},
		Accents:      []float64{1.0, 0.7, 0.9, 0.7, 0.95, 0.7, 0.9, 0.7},
		Articulation: articulationMidHigh,
	},
	"shuffle": {
		Name:         "shuffle",
		Offsets:      []float64{0, 0.67, 1, 1.67, 2, 2.67, 3, 3.67},
		Accents:      []float64{1.0, 0.8, 0.9, 0.8, 1.0, 0.8, 0.9, 0.8},
		Articulation: articulationHigh,
	},
	"samba": {
		Name:         "samba",
		Offsets:      []float64{0, 0.5, 1.5, 2, 3, 3.5},
		Accents:      []float64{1.0, 0.7, 0.9, 0.85, 0.95, 0.7},
		Articulation: articulationMedium,
	},
	// 3+3+2
	"tresillo": {Name: "tresillo", Offsets: []float64{0, 1.5, 3}, Accents: []float64{1.0, 0.9, 0.95}, Articulation: articulationHigh},
	"offbeat": {
		Name:         "offbeat",
		Offsets:      []float64{0.5, 1.5, 2.5, 3.5},
		Accents:      []float64{0.9, 0.85, 0.9, 0.85},
		Articulation: articulationMidHigh,
	},
	"syncopated": {
		Name:         "syncopated",
		Offsets:      []float64{0, 0.5, 1.5, 2, 3, 3.5},
		Accents:      []float64{1.0, 0.8, 0.9, 0.85, 0.95, 0.8},
		Articulation: articulationMidHigh,
	},
	// pushes ahead of beats 2 and 4
	"anticipation": {
		Name:         "anticipation",
		Offsets:      []float64{0, 1, 1.75, 3, 3.75},
		Accents:      []float64{1.0, 0.8, 0.9, 0.85, 0.9},
		Articulation: articulationMidHigh,
	},
	"broken":   {Name: "broken", Offsets: []float64{0, 0.5, 1, 1.5}, Accents: []float64{1.0, 0.8, 0.85, 0.75}, Articulation: articulationHigh},
	"alberti":  {Name: "alberti", Offsets: []float64{0, 0.25, 0.5, 0.75}, Accents: []float64{1.0, 0.7, 0.85, 0.7}, Articulation: articulationMidHigh},
	"staccato": {Name: "staccato", Offsets: []float64{0, 1, 2, 3}, Accents: []float64{1.0, 0.9, 0.95, 0.9}, Articulation: articulationShort},
	"legato":   {Name: "legato", Offsets: []float64{0, 1, 2, 3}, Accents: []float64{0.9, 0.85, 0.9, 0.85}, Articulation: articulationOverlap},
}

// GetRhythmTemplate returns a rhythm template by name
func GetRhythmTemplate(name string) (RhythmTemplate, bool) {
	tmpl, ok := rhythmTemplates[name]
	return tmpl, ok
}

// RhythmTemplateNames lists the known templates in sorted order.
func RhythmTemplateNames() []string {
	names := make([]string, 0, len(rhythmTemplates))
	for name := range rhythmTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// hit is one onset of a template laid over a bar.
type hit struct {
	Offset   float64
	Accent   float64
	Duration float64
}

// hits scales the template onto a bar of barBeats beats. A note never runs
// past the next onset or the end of the bar.
func (t RhythmTemplate) hits(barBeats float64) []hit {
	scale := barBeats / templateBarBeats
	out := make([]hit, 0, len(t.Offsets))
	for i, offset := range t.Offsets {
		pos := offset * scale
		if pos >= barBeats {
			break
		}

		accent := 1.0
		if i < len(t.Accents) {
			accent = t.Accents[i]
		}

		duration := (barBeats / float64(len(t.Offsets))) * t.Articulation
		limit := barBeats - pos
		if i+1 < len(t.Offsets) && t.Offsets[i+1]*scale-pos < limit {
			limit = t.Offsets[i+1]*scale - pos
		}
		if duration > limit {
			duration = limit
		}

		out = append(out, hit{Offset: pos, Accent: accent, Duration: duration})
	}
	return out
}
