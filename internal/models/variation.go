package models

import "time"

// Status is the lifecycle state of a variation
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusStreaming Status = "STREAMING"
	StatusReady     Status = "READY"
	StatusCommitted Status = "COMMITTED"
	StatusDiscarded Status = "DISCARDED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCommitted, StatusDiscarded, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// NoteCounts tallies note changes by type
type NoteCounts struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}

// Add accumulates the changes of a phrase.
func (n *NoteCounts) Add(changes []NoteChange) {
	for _, c := range changes {
		switch c.ChangeType {
		case ChangeAdded:
			n.Added++
		case ChangeRemoved:
			n.Removed++
		case ChangeModified:
			n.Modified++
		}
	}
}

// Phrase is an independently reviewable slice of a variation.
// StartBeat and EndBeat are absolute; change beats are region-relative.
type Phrase struct {
	PhraseID          string             `json:"phraseId"`
	TrackID           string             `json:"trackId"`
	RegionID          string             `json:"regionId"`
	StartBeat         float64            `json:"startBeat"`
	EndBeat           float64            `json:"endBeat"`
	Label             string             `json:"label"`
	Tags              []string           `json:"tags"`
	Explanation       string             `json:"explanation"`
	NoteChanges       []NoteChange       `json:"noteChanges"`
	ControllerChanges []ControllerChange `json:"controllerChanges"`
	Sequence          int64              `json:"sequence"`
}

// Clone returns a deep copy.
func (p Phrase) Clone() Phrase {
	out := p
	out.Tags = append([]string{}, p.Tags...)
	out.NoteChanges = make([]NoteChange, len(p.NoteChanges))
	for i, c := range p.NoteChanges {
		out.NoteChanges[i] = c
		if c.Before != nil {
			b := *c.Before
			out.NoteChanges[i].Before = &b
		}
		if c.After != nil {
			a := *c.After
			out.NoteChanges[i].After = &a
		}
	}
	out.ControllerChanges = make([]ControllerChange, len(p.ControllerChanges))
	for i, c := range p.ControllerChanges {
		out.ControllerChanges[i] = c
		if c.CC != nil {
			n := *c.CC
			out.ControllerChanges[i].CC = &n
		}
		if c.Pitch != nil {
			n := *c.Pitch
			out.ControllerChanges[i].Pitch = &n
		}
	}
	return out
}

// Variation is a proposed change set derived from canonical state.
type Variation struct {
	VariationID     string     `json:"variationId"`
	ProjectID       string     `json:"projectId"`
	BaseStateID     string     `json:"baseStateId"`
	Intent          string     `json:"intent"`
	Status          Status     `json:"status"`
	AIExplanation   string     `json:"aiExplanation"`
	AffectedTracks  []string   `json:"affectedTracks"`
	AffectedRegions []string   `json:"affectedRegions"`
	NoteCounts      NoteCounts `json:"noteCounts"`
	Phrases         []Phrase   `json:"phrases"`
	Scope           Scope      `json:"scope"`
	Options         Options    `json:"options"`
	Owner           string     `json:"owner,omitempty"`
	LastSequence    int64      `json:"lastSequence"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so readers never share slices with writers.
func (v *Variation) Clone() *Variation {
	if v == nil {
		return nil
	}
	out := *v
	out.AffectedTracks = append([]string{}, v.AffectedTracks...)
	out.AffectedRegions = append([]string{}, v.AffectedRegions...)
	out.Scope.Regions = append([]ScopeRegion{}, v.Scope.Regions...)
	out.Phrases = make([]Phrase, len(v.Phrases))
	for i, p := range v.Phrases {
		out.Phrases[i] = p.Clone()
	}
	return &out
}

// Phrase looks up a phrase by id.
func (v *Variation) Phrase(id string) (Phrase, bool) {
	for _, p := range v.Phrases {
		if p.PhraseID == id {
			return p, true
		}
	}
	return Phrase{}, false
}

// ScopeRegion looks up the scope entry for a region id.
func (v *Variation) ScopeRegion(regionID string) (ScopeRegion, bool) {
	for _, r := range v.Scope.Regions {
		if r.RegionID == regionID {
			return r, true
		}
	}
	return ScopeRegion{}, false
}

// CommitResult is returned by a successful commit.
type CommitResult struct {
	ProjectID        string          `json:"projectId"`
	VariationID      string          `json:"variationId"`
	NewStateID       string          `json:"newStateId"`
	UndoLabel        string          `json:"undoLabel"`
	UpdatedRegions   []UpdatedRegion `json:"updatedRegions"`
	AppliedPhraseIDs []string        `json:"appliedPhraseIds"`
}
