// Package canonical holds the authoritative project state that commits write to.
package canonical

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrRegionNotFound  = errors.New("region not found")
	ErrProjectExists   = errors.New("project already exists")
	// ErrVersionMismatch means the project moved past the expected version.
	ErrVersionMismatch = errors.New("project version mismatch")
	ErrInvalidChange   = errors.New("invalid change")
)

// ChangeSet is everything a commit does to one region.
// RemoveNoteIDs are applied before AddNotes, so a modified note is removed and re-added under its id.
type ChangeSet struct {
	TrackID       string
	RegionID      string
	Create        *models.RegionCreation
	RemoveNoteIDs []string
	AddNotes      []models.Note
	Controllers   []models.ControllerChange
}

// Project is a read snapshot of canonical state.
type Project struct {
	ProjectID string          `json:"projectId"`
	Name      string          `json:"name"`
	StateID   string          `json:"stateId"`
	Regions   []models.Region `json:"regions"`
}

// Store is the canonical project store.
type Store interface {
	CreateProject(ctx context.Context, projectID, name string) (*Project, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	CurrentVersion(ctx context.Context, projectID string) (string, error)
	GetRegion(ctx context.Context, projectID, regionID string) (*models.Region, error)
	// ApplyChanges applies every change set or none. It fails with ErrVersionMismatch
	// unless the project is at expectedVersion, and returns the new version plus the
	// full state of every touched region in change-set order.
	ApplyChanges(ctx context.Context, projectID, expectedVersion string, changes []ChangeSet) (string, []models.Region, error)
}

func sortRegionContent(r *models.Region) {
	sort.SliceStable(r.Notes, func(i, j int) bool {
		a, b := r.Notes[i], r.Notes[j]
		if a.StartBeat != b.StartBeat {
			return a.StartBeat < b.StartBeat
		}
		if a.Pitch != b.Pitch {
			return a.Pitch < b.Pitch
		}
		return a.ID < b.ID
	})
	sort.SliceStable(r.CC, func(i, j int) bool {
		if r.CC[i].CC != r.CC[j].CC {
			return r.CC[i].CC < r.CC[j].CC
		}
		return r.CC[i].Beat < r.CC[j].Beat
	})
	sort.SliceStable(r.PitchBends, func(i, j int) bool { return r.PitchBends[i].Beat < r.PitchBends[j].Beat })
	sort.SliceStable(r.Aftertouch, func(i, j int) bool { return r.Aftertouch[i].Beat < r.Aftertouch[j].Beat })
}

// appendController adds a controller change to the matching region array.
func appendController(r *models.Region, c models.ControllerChange) error {
	if err := c.Validate(); err != nil {
		return errors.Join(ErrInvalidChange, err)
	}
	switch c.Kind {
	case models.ControllerCC:
		r.CC = append(r.CC, models.CCEvent{CC: *c.CC, Beat: c.Beat, Value: c.Value})
	case models.ControllerPitchBend:
		r.PitchBends = append(r.PitchBends, models.PitchBendEvent{Beat: c.Beat, Value: c.Value})
	case models.ControllerAftertouch:
		at := models.AftertouchEvent{Beat: c.Beat, Value: c.Value}
		if c.Pitch != nil {
			p := *c.Pitch
			at.Pitch = &p
		}
		r.Aftertouch = append(r.Aftertouch, at)
	}
	return nil
}

func withEmptySlices(r models.Region) models.Region {
	if r.Notes == nil {
		r.Notes = []models.Note{}
	}
	if r.CC == nil {
		r.CC = []models.CCEvent{}
	}
	if r.PitchBends == nil {
		r.PitchBends = []models.PitchBendEvent{}
	}
	if r.Aftertouch == nil {
		r.Aftertouch = []models.AftertouchEvent{}
	}
	return r
}

// applyChangeSet mutates r in place. Removing an unknown note or adding a duplicate id fails.
func applyChangeSet(r *models.Region, cs ChangeSet) error {
	for _, id := range cs.RemoveNoteIDs {
		idx := -1
		for i, n := range r.Notes {
			if n.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: note %s not in region %s", ErrInvalidChange, id, r.RegionID)
		}
		r.Notes = append(r.Notes[:idx], r.Notes[idx+1:]...)
	}

	for _, n := range cs.AddNotes {
		if err := n.Validate(); err != nil {
			return fmt.Errorf("%w: note %s: %v", ErrInvalidChange, n.ID, err)
		}
		for _, existing := range r.Notes {
			if existing.ID == n.ID {
				return fmt.Errorf("%w: note %s already in region %s", ErrInvalidChange, n.ID, r.RegionID)
			}
		}
		r.Notes = append(r.Notes, n)
	}

	for _, c := range cs.Controllers {
		if err := appendController(r, c); err != nil {
			return err
		}
	}

	sortRegionContent(r)
	return nil
}
