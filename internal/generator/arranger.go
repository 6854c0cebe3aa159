package generator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

const (
	ArrangerName = "arranger"

	defaultVelocity       = 100
	defaultOctave         = 4
	bassOctave            = 2
	lowOctave             = 3
	highOctave            = 5
	defaultChordTemplate  = "half"
	defaultArpTemplate    = "8ths"
	expressionCC          = 11
	pitchBendPeak         = 4096
	pressureAccent        = 100
	pressureRelease       = 64
	barFractionTolerance  = 1e-9
	tokenPunctuationTrims = ".!?()[]{}\"'`"
)

var (
	defaultProgression = []string{"C", "Am", "F", "G"}
	swellValues        = []int{48, 72, 96, 120}
)

// Arranger is a deterministic local generator. It reads chord symbols,
// rhythm template names and a few keywords from the intent and writes one
// chord per bar across the region.
type Arranger struct {
	Velocity int
}

func NewArranger() *Arranger {
	return &Arranger{Velocity: defaultVelocity}
}

func (a *Arranger) Name() string {
	return ArrangerName
}

// arrangement is what the arranger understood from an intent.
type arrangement struct {
	chords    []string
	template  RhythmTemplate
	arpeggio  bool
	descend   bool
	octave    int
	rootOnly  bool
	swell     bool
	bend      bool
	pressure  bool
	replace   bool
	templated bool
}

func parseIntent(intent string) arrangement {
	arr := arrangement{octave: defaultOctave}

	tokens := strings.FieldsFunc(intent, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == '|'
	})
	for _, raw := range tokens {
		token := strings.Trim(raw, tokenPunctuationTrims)
		if token == "" {
			continue
		}
		if IsChordSymbol(token) {
			arr.chords = append(arr.chords, token)
			continue
		}

		word := strings.ToLower(token)
		if tmpl, ok := GetRhythmTemplate(word); ok {
			arr.template = tmpl
			arr.templated = true
			continue
		}
		switch word {
		case "arp", "arpeggio", "arpeggios", "arpeggiated":
			arr.arpeggio = true
		case "down", "descending":
			arr.descend = true
		case "bass", "bassline":
			arr.octave = bassOctave
			arr.rootOnly = true
		case "low":
			arr.octave = lowOctave
		case "high":
			arr.octave = highOctave
		case "swell", "crescendo":
			arr.swell = true
		case "bend", "bends":
			arr.bend = true
		case "pressure", "aftertouch":
			arr.pressure = true
		case "replace", "rewrite":
			arr.replace = true
		}
	}

	if len(arr.chords) == 0 {
		arr.chords = defaultProgression
	}
	if !arr.templated {
		name := defaultChordTemplate
		if arr.arpeggio {
			name = defaultArpTemplate
		}
		arr.template = rhythmTemplates[name]
	}
	return arr
}

func (arr arrangement) voicings() ([][]int, error) {
	out := make([][]int, 0, len(arr.chords))
	for _, chord := range arr.chords {
		notes, err := ChordToMIDI(chord, arr.octave)
		if err != nil {
			return nil, err
		}
		if arr.rootOnly {
			// slash chords keep their bass note, which ChordToMIDI puts first
			notes = notes[:1]
		}
		if arr.descend {
			notes = reverseSlice(notes)
		}
		out = append(out, notes)
	}
	return out, nil
}

// Generate lays the progression over the region. Existing notes are kept
// unless the intent asks to replace them.
func (a *Arranger) Generate(ctx context.Context, req *Request) (*Result, error) {
	length := req.Region.DurationBeats
	if length <= 0 {
		return nil, fmt.Errorf("%w: region %s has no length", ErrInvalidOutput, req.Region.RegionID)
	}

	arr := parseIntent(req.Intent)
	voicings, err := arr.voicings()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	barBeats := float64(req.beatsPerBar())
	bars := int(math.Ceil(length/barBeats - barFractionTolerance))
	hits := arr.template.hits(barBeats)

	var notes []models.NoteSnapshot
	if !arr.replace {
		notes = snapshots(req.Existing)
	}
	var controllers []models.ControllerChange

	for bar := 0; bar < bars; bar++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		barStart := float64(bar) * barBeats
		voicing := voicings[bar%len(voicings)]
		for i, h := range hits {
			start := barStart + h.Offset
			if start >= length {
				break
			}
			duration := math.Min(h.Duration, length-start)
			velocity := clamp(int(math.Round(float64(a.velocity())*h.Accent)), 1, models.MaxVelocity)

			pitches := voicing
			if arr.arpeggio {
				pitches = voicing[i%len(voicing) : i%len(voicing)+1]
			}
			for _, pitch := range pitches {
				notes = append(notes, models.NoteSnapshot{
					Pitch:         pitch,
					StartBeat:     start,
					DurationBeats: duration,
					Velocity:      velocity,
				})
			}
		}
		controllers = append(controllers, arr.barControllers(barStart, barBeats, length)...)
	}

	return &Result{
		Notes:       notes,
		Controllers: controllers,
		Explanation: arr.explain(bars),
		Model:       ArrangerName,
	}, nil
}

func (a *Arranger) velocity() int {
	if a.Velocity > 0 {
		return a.Velocity
	}
	return defaultVelocity
}

// barControllers writes expression data for one bar, dropping events past the region end.
func (arr arrangement) barControllers(barStart, barBeats, length float64) []models.ControllerChange {
	var out []models.ControllerChange
	add := func(c models.ControllerChange) {
		if c.Beat < length {
			out = append(out, c)
		}
	}

	if arr.swell {
		step := barBeats / float64(len(swellValues))
		for i, v := range swellValues {
			add(models.NewCCChange(expressionCC, barStart+float64(i)*step, v))
		}
	}
	if arr.bend {
		add(models.NewPitchBendChange(barStart, 0))
		add(models.NewPitchBendChange(barStart+barBeats/2, pitchBendPeak))
		add(models.NewPitchBendChange(barStart+barBeats*3/4, 0))
	}
	if arr.pressure {
		add(models.NewAftertouchChange(barStart, pressureAccent, nil))
		add(models.NewAftertouchChange(barStart+barBeats/2, pressureRelease, nil))
	}
	return out
}

func (arr arrangement) explain(bars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s in a %s rhythm over %d bar", strings.Join(arr.chords, " "), arr.template.Name, bars)
	if bars != 1 {
		b.WriteString("s")
	}
	if arr.arpeggio {
		b.WriteString(", arpeggiated")
	}
	if arr.rootOnly {
		b.WriteString(", roots only")
	}
	var extras []string
	if arr.swell {
		extras = append(extras, "expression swell")
	}
	if arr.bend {
		extras = append(extras, "pitch bends")
	}
	if arr.pressure {
		extras = append(extras, "aftertouch")
	}
	if len(extras) > 0 {
		b.WriteString(" with ")
		b.WriteString(strings.Join(extras, " and "))
	}
	return b.String()
}

func reverseSlice(s []int) []int {
	result := make([]int, len(s))
	for i, v := range s {
		result[len(s)-1-i] = v
	}
	return result
}
