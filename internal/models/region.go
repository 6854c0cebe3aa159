package models

// Region is the materialized content of a region in canonical state.
// Note and controller beats are region-relative.
type Region struct {
	RegionID      string            `json:"regionId"`
	TrackID       string            `json:"trackId"`
	Name          string            `json:"name"`
	StartBeat     float64           `json:"startBeat"`
	DurationBeats float64           `json:"durationBeats"`
	Notes         []Note            `json:"notes"`
	CC            []CCEvent         `json:"cc"`
	PitchBends    []PitchBendEvent  `json:"pitchBends"`
	Aftertouch    []AftertouchEvent `json:"aftertouch"`
}

// Clone returns a deep copy.
func (r *Region) Clone() *Region {
	if r == nil {
		return nil
	}
	out := *r
	out.Notes = append([]Note{}, r.Notes...)
	out.CC = append([]CCEvent{}, r.CC...)
	out.PitchBends = append([]PitchBendEvent{}, r.PitchBends...)
	out.Aftertouch = make([]AftertouchEvent, len(r.Aftertouch))
	for i, at := range r.Aftertouch {
		out.Aftertouch[i] = at
		if at.Pitch != nil {
			p := *at.Pitch
			out.Aftertouch[i].Pitch = &p
		}
	}
	return &out
}

// EndBeat is the absolute beat where the region ends.
func (r *Region) EndBeat() float64 {
	return r.StartBeat + r.DurationBeats
}

// RegionCreation holds the fields a client needs to create a region locally.
type RegionCreation struct {
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
	Name          string  `json:"name"`
}

// UpdatedRegion is the full post-commit state of a region touched by a commit.
// Creation is only set for regions the commit created.
type UpdatedRegion struct {
	Region
	Creation *RegionCreation `json:"creation,omitempty"`
}

// ScopeRegion is one unit of generation: a region to write into.
type ScopeRegion struct {
	TrackID       string  `json:"trackId"`
	RegionID      string  `json:"regionId"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
	Name          string  `json:"name,omitempty"`
	// IsNew is true when the region did not exist in canonical state at propose time.
	IsNew bool `json:"isNew"`
}

// Scope lists the regions a proposal may touch.
type Scope struct {
	Regions []ScopeRegion `json:"regions"`
}

// Options are per-variation overrides of generation and grouping settings.
type Options struct {
	PhraseBars     int     `json:"phraseBars,omitempty"`
	BeatsPerBar    int     `json:"beatsPerBar,omitempty"`
	ToleranceBeats float64 `json:"toleranceBeats,omitempty"`
	Model          string  `json:"model,omitempty"`
	Provider       string  `json:"provider,omitempty"`
}
