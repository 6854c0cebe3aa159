package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Conceptual-Machines/magda-variations/internal/canonical"
	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/metrics"
	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
)

const (
	undoLabelIntentMax = 60
	newRegionName      = "Variation"
)

// CommitRequest is the body of POST /variation/commit
type CommitRequest struct {
	ProjectID         string   `json:"projectId" binding:"required"`
	BaseStateID       string   `json:"baseStateId" binding:"required"`
	VariationID       string   `json:"variationId" binding:"required"`
	AcceptedPhraseIDs []string `json:"acceptedPhraseIds"`
}

// CommitEngine applies accepted phrases of a READY variation to canonical state.
type CommitEngine struct {
	store     variation.Store
	canonical canonical.Store
	metrics   metrics.Recorder
	locks     *keyedLocks
}

func NewCommitEngine(store variation.Store, canon canonical.Store, recorder metrics.Recorder, locks *keyedLocks) *CommitEngine {
	if locks == nil {
		locks = newKeyedLocks()
	}
	return &CommitEngine{store: store, canonical: canon, metrics: recorder, locks: locks}
}

// Commit checks the preconditions in order and applies the accepted phrases in one transaction.
// Only one commit per variation runs at a time; the loser sees already_committed.
func (e *CommitEngine) Commit(ctx context.Context, req CommitRequest) (*models.CommitResult, error) {
	unlock := e.locks.Lock(req.VariationID)
	defer unlock()

	result, err := e.commit(ctx, req)
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, variation.ErrConflict):
		outcome = metrics.OutcomeConflict
	case err != nil:
		outcome = metrics.OutcomeRejected
	}
	e.metrics.RecordCommit(ctx, outcome, len(req.AcceptedPhraseIDs))
	return result, err
}

func (e *CommitEngine) commit(ctx context.Context, req CommitRequest) (*models.CommitResult, error) {
	v, err := e.store.Get(req.VariationID)
	if err != nil {
		return nil, err
	}
	if v.ProjectID != req.ProjectID {
		return nil, variation.NotFound("variation", req.VariationID)
	}

	switch v.Status {
	case models.StatusReady:
	case models.StatusCommitted:
		return nil, variation.NewConflict(variation.ReasonAlreadyCommitted, "variation %s is already committed", v.VariationID)
	default:
		return nil, variation.NewConflict(variation.ReasonNotReady, "variation %s is %s, not READY", v.VariationID, v.Status)
	}

	if req.BaseStateID != v.BaseStateID {
		return nil, variation.NewConflict(variation.ReasonStaleBase,
			"baseStateId %s does not match the variation base %s", req.BaseStateID, v.BaseStateID)
	}
	current, err := e.canonical.CurrentVersion(ctx, v.ProjectID)
	if err != nil {
		if errors.Is(err, canonical.ErrProjectNotFound) {
			return nil, variation.NotFound("project", v.ProjectID)
		}
		return nil, err
	}
	if current != v.BaseStateID {
		return nil, variation.NewConflict(variation.ReasonStaleBase,
			"project is at state %s, variation was proposed against %s", current, v.BaseStateID)
	}

	accepted, err := acceptedPhrases(v, req.AcceptedPhraseIDs)
	if err != nil {
		return nil, err
	}

	changes := buildChangeSets(v, accepted)
	newState, regions, err := e.canonical.ApplyChanges(ctx, v.ProjectID, v.BaseStateID, changes)
	if err != nil {
		switch {
		case errors.Is(err, canonical.ErrVersionMismatch):
			return nil, variation.NewConflict(variation.ReasonStaleBase, "project moved past state %s", v.BaseStateID)
		case errors.Is(err, canonical.ErrInvalidChange):
			return nil, variation.BadRequest("%v", err)
		}
		return nil, fmt.Errorf("apply variation %s: %w", v.VariationID, err)
	}

	if err := e.store.CompareAndSetStatus(v.VariationID, models.StatusReady, models.StatusCommitted); err != nil {
		// canonical state already moved, so the commit stands
		logger.Error("Failed to mark variation committed", err, logger.ForVariation(v))
	}

	result := &models.CommitResult{
		ProjectID:        v.ProjectID,
		VariationID:      v.VariationID,
		NewStateID:       newState,
		UndoLabel:        undoLabel(v, len(accepted)),
		UpdatedRegions:   make([]models.UpdatedRegion, 0, len(regions)),
		AppliedPhraseIDs: make([]string, 0, len(accepted)),
	}
	for _, p := range accepted {
		result.AppliedPhraseIDs = append(result.AppliedPhraseIDs, p.PhraseID)
	}
	for i, r := range regions {
		updated := models.UpdatedRegion{Region: r}
		if i < len(changes) && changes[i].Create != nil {
			creation := *changes[i].Create
			updated.Creation = &creation
		}
		result.UpdatedRegions = append(result.UpdatedRegions, updated)
	}

	logger.Info("✅ Variation committed", logger.ForVariation(v).With(logger.Fields{
		"new_state_id": newState,
		"phrases":      len(accepted),
		"regions":      len(regions),
	}))
	return result, nil
}

// acceptedPhrases resolves ids to phrases in variation order, dropping duplicates.
func acceptedPhrases(v *models.Variation, ids []string) ([]models.Phrase, error) {
	if len(ids) == 0 {
		return nil, variation.BadRequest("acceptedPhraseIds is empty")
	}

	wanted := make(map[string]bool, len(ids))
	var unknown []string
	for _, id := range ids {
		if _, ok := v.Phrase(id); !ok {
			unknown = append(unknown, id)
			continue
		}
		wanted[id] = true
	}
	if len(unknown) > 0 {
		return nil, variation.BadRequest("unknown phrase ids: %s", strings.Join(unknown, ", "))
	}

	out := make([]models.Phrase, 0, len(wanted))
	for _, p := range v.Phrases {
		if wanted[p.PhraseID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// buildChangeSets folds accepted phrases into one change set per region, in first-touched order.
// A modified note is removed and re-added under the same id.
func buildChangeSets(v *models.Variation, accepted []models.Phrase) []canonical.ChangeSet {
	var order []string
	byRegion := map[string]*canonical.ChangeSet{}

	for _, p := range accepted {
		cs, ok := byRegion[p.RegionID]
		if !ok {
			cs = &canonical.ChangeSet{TrackID: p.TrackID, RegionID: p.RegionID}
			if sr, found := v.ScopeRegion(p.RegionID); found && sr.IsNew {
				name := sr.Name
				if name == "" {
					name = newRegionName
				}
				cs.Create = &models.RegionCreation{
					StartBeat:     sr.StartBeat,
					DurationBeats: sr.DurationBeats,
					Name:          name,
				}
			}
			byRegion[p.RegionID] = cs
			order = append(order, p.RegionID)
		}

		for _, c := range p.NoteChanges {
			switch c.ChangeType {
			case models.ChangeRemoved:
				cs.RemoveNoteIDs = append(cs.RemoveNoteIDs, c.NoteID)
			case models.ChangeAdded:
				cs.AddNotes = append(cs.AddNotes, models.Note{ID: c.NoteID, NoteSnapshot: *c.After})
			case models.ChangeModified:
				cs.RemoveNoteIDs = append(cs.RemoveNoteIDs, c.NoteID)
				cs.AddNotes = append(cs.AddNotes, models.Note{ID: c.NoteID, NoteSnapshot: *c.After})
			}
		}
		cs.Controllers = append(cs.Controllers, p.ControllerChanges...)
	}

	out := make([]canonical.ChangeSet, 0, len(order))
	for _, id := range order {
		out = append(out, *byRegion[id])
	}
	return out
}

func undoLabel(v *models.Variation, accepted int) string {
	intent := strings.TrimSpace(v.Intent)
	if r := []rune(intent); len(r) > undoLabelIntentMax {
		intent = string(r[:undoLabelIntentMax-3]) + "..."
	}
	label := fmt.Sprintf("Apply variation: %s", intent)
	if accepted < len(v.Phrases) {
		label += fmt.Sprintf(" (%d of %d phrases)", accepted, len(v.Phrases))
	}
	return label
}
