package diff

import (
	"fmt"
	"math"
	"sort"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/google/uuid"
)

// GroupingPolicy assigns a region-relative beat to a window and reports the window bounds.
type GroupingPolicy interface {
	// Window returns the key of the window containing beat.
	Window(beat float64) int
	// Bounds returns the region-relative [start, end) of a window.
	Bounds(key int) (start, end float64)
}

// BarWindows groups changes into fixed windows of Bars bars.
type BarWindows struct {
	Bars        int
	BeatsPerBar int
}

// DefaultGrouping is four bars of 4/4.
func DefaultGrouping() BarWindows {
	return BarWindows{Bars: 4, BeatsPerBar: 4}
}

func (w BarWindows) size() float64 {
	bars, bpb := w.Bars, w.BeatsPerBar
	if bars <= 0 {
		bars = 4
	}
	if bpb <= 0 {
		bpb = 4
	}
	return float64(bars * bpb)
}

func (w BarWindows) Window(beat float64) int {
	if beat < 0 {
		return 0
	}
	return int(math.Floor(beat/w.size() + epsilon))
}

func (w BarWindows) Bounds(key int) (float64, float64) {
	size := w.size()
	return float64(key) * size, float64(key+1) * size
}

// RegionInput is one scope unit: what a region held and what the generator produced for it.
type RegionInput struct {
	Region      models.ScopeRegion
	Before      []models.Note
	After       []models.NoteSnapshot
	Controllers []models.ControllerChange
	Explanation string
}

// Engine matches notes and groups the changes into phrases.
type Engine struct {
	Tolerance   float64
	Grouping    GroupingPolicy
	BeatsPerBar int
}

// NewEngine builds an engine; zero values fall back to defaults.
func NewEngine(tolerance float64, bars, beatsPerBar int) *Engine {
	if tolerance <= 0 {
		tolerance = DefaultToleranceBeats
	}
	if beatsPerBar <= 0 {
		beatsPerBar = 4
	}
	if bars <= 0 {
		bars = 4
	}
	return &Engine{
		Tolerance:   tolerance,
		Grouping:    BarWindows{Bars: bars, BeatsPerBar: beatsPerBar},
		BeatsPerBar: beatsPerBar,
	}
}

type bucket struct {
	key         int
	notes       []models.NoteChange
	controllers []models.ControllerChange
}

// Diff produces phrases for one region in ascending start order. Sequence is left unset.
func (e *Engine) Diff(in RegionInput) []models.Phrase {
	changes := MatchNotes(in.Before, in.After, e.Tolerance)

	buckets := map[int]*bucket{}
	get := func(key int) *bucket {
		b, ok := buckets[key]
		if !ok {
			b = &bucket{key: key}
			buckets[key] = b
		}
		return b
	}
	for _, c := range changes {
		b := get(e.Grouping.Window(c.StartBeat()))
		b.notes = append(b.notes, c)
	}
	for _, cc := range in.Controllers {
		b := get(e.Grouping.Window(cc.Beat))
		b.controllers = append(b.controllers, cc)
	}

	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	regionStart := in.Region.StartBeat
	regionEnd := regionStart + in.Region.DurationBeats

	phrases := make([]models.Phrase, 0, len(keys))
	for _, k := range keys {
		b := buckets[k]
		relStart, relEnd := e.Grouping.Bounds(k)
		start := regionStart + relStart
		end := regionStart + relEnd
		if in.Region.DurationBeats > 0 && regionEnd > start && end > regionEnd {
			end = regionEnd
		}

		notes := b.notes
		if notes == nil {
			notes = []models.NoteChange{}
		}
		controllers := b.controllers
		if controllers == nil {
			controllers = []models.ControllerChange{}
		}

		phrases = append(phrases, models.Phrase{
			PhraseID:          uuid.New().String(),
			TrackID:           in.Region.TrackID,
			RegionID:          in.Region.RegionID,
			StartBeat:         start,
			EndBeat:           end,
			Label:             e.label(start, end),
			Tags:              tags(notes, controllers),
			Explanation:       in.Explanation,
			NoteChanges:       notes,
			ControllerChanges: controllers,
		})
	}
	return phrases
}

func (e *Engine) label(start, end float64) string {
	bpb := float64(e.BeatsPerBar)
	first := int(math.Floor(start/bpb+epsilon)) + 1
	last := int(math.Ceil(end/bpb - epsilon))
	if last < first {
		last = first
	}
	if first == last {
		return fmt.Sprintf("Bar %d", first)
	}
	return fmt.Sprintf("Bars %d-%d", first, last)
}

func tags(notes []models.NoteChange, controllers []models.ControllerChange) []string {
	var counts models.NoteCounts
	counts.Add(notes)

	out := []string{}
	if counts.Added > 0 {
		out = append(out, "additions")
	}
	if counts.Removed > 0 {
		out = append(out, "removals")
	}
	if counts.Modified > 0 {
		out = append(out, "modifications")
	}
	if len(controllers) > 0 {
		out = append(out, "controllers")
	}
	return out
}
