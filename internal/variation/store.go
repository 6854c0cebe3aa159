package variation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"github.com/google/uuid"
)

// Store owns variation records. Every status change goes through ValidateTransition.
type Store interface {
	Create(params CreateParams) (*models.Variation, error)
	AppendPhrase(variationID string, phrase models.Phrase) error
	SetStatus(variationID string, next models.Status) error
	CompareAndSetStatus(variationID string, expected, next models.Status) error
	Get(variationID string) (*models.Variation, error)
	MarkLastSequence(variationID string, n int64) error
	SetExplanation(variationID, explanation string) error
	SetError(variationID, message string) error
	List() ([]*models.Variation, error)
	Delete(variationID string) error
}

// CreateParams are the inputs recorded on a new variation.
type CreateParams struct {
	ProjectID   string
	BaseStateID string
	Intent      string
	Scope       models.Scope
	Options     models.Options
	Owner       string
}

// StatusMismatchError is returned by CompareAndSetStatus when the record moved on.
type StatusMismatchError struct {
	Expected models.Status
	Actual   models.Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("status is %s, expected %s", e.Actual, e.Expected)
}

func (e *StatusMismatchError) Unwrap() error { return ErrConflict }

// MemoryStore keeps variations in a map guarded by a RWMutex.
// Writers mutate a copy and swap it in, so readers always see a completed write.
type MemoryStore struct {
	mu         sync.RWMutex
	variations map[string]*models.Variation
	now        func() time.Time

	// persist is called with the new record before it replaces the old one.
	persist func(*models.Variation) error
	remove  func(id string) error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		variations: make(map[string]*models.Variation),
		now:        time.Now,
	}
}

func (s *MemoryStore) Create(params CreateParams) (*models.Variation, error) {
	now := s.now().UTC()
	v := &models.Variation{
		VariationID:     uuid.New().String(),
		ProjectID:       params.ProjectID,
		BaseStateID:     params.BaseStateID,
		Intent:          params.Intent,
		Status:          models.StatusCreated,
		AffectedTracks:  []string{},
		AffectedRegions: []string{},
		Phrases:         []models.Phrase{},
		Scope:           params.Scope,
		Options:         params.Options,
		Owner:           params.Owner,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, r := range params.Scope.Regions {
		v.AffectedTracks = appendUnique(v.AffectedTracks, r.TrackID)
		v.AffectedRegions = appendUnique(v.AffectedRegions, r.RegionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist(v); err != nil {
			return nil, err
		}
	}
	s.variations[v.VariationID] = v
	return v.Clone(), nil
}

func (s *MemoryStore) AppendPhrase(variationID string, phrase models.Phrase) error {
	return s.update(variationID, func(v *models.Variation) error {
		if v.Status != models.StatusStreaming {
			return NewConflict("not_streaming", "cannot append phrase to %s variation", v.Status)
		}
		v.Phrases = append(v.Phrases, phrase.Clone())
		v.NoteCounts.Add(phrase.NoteChanges)
		v.AffectedTracks = appendUnique(v.AffectedTracks, phrase.TrackID)
		v.AffectedRegions = appendUnique(v.AffectedRegions, phrase.RegionID)
		if phrase.Sequence > v.LastSequence {
			v.LastSequence = phrase.Sequence
		}
		return nil
	})
}

func (s *MemoryStore) SetStatus(variationID string, next models.Status) error {
	return s.update(variationID, func(v *models.Variation) error {
		if err := ValidateTransition(v.Status, next); err != nil {
			return err
		}
		v.Status = next
		return nil
	})
}

func (s *MemoryStore) CompareAndSetStatus(variationID string, expected, next models.Status) error {
	return s.update(variationID, func(v *models.Variation) error {
		if v.Status != expected {
			return &StatusMismatchError{Expected: expected, Actual: v.Status}
		}
		if err := ValidateTransition(v.Status, next); err != nil {
			return err
		}
		v.Status = next
		return nil
	})
}

func (s *MemoryStore) Get(variationID string) (*models.Variation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variations[variationID]
	if !ok {
		return nil, NotFound("variation", variationID)
	}
	return v.Clone(), nil
}

func (s *MemoryStore) MarkLastSequence(variationID string, n int64) error {
	return s.update(variationID, func(v *models.Variation) error {
		if n < v.LastSequence {
			return fmt.Errorf("sequence %d is behind last sequence %d", n, v.LastSequence)
		}
		v.LastSequence = n
		return nil
	})
}

func (s *MemoryStore) SetExplanation(variationID, explanation string) error {
	return s.update(variationID, func(v *models.Variation) error {
		v.AIExplanation = explanation
		return nil
	})
}

func (s *MemoryStore) SetError(variationID, message string) error {
	return s.update(variationID, func(v *models.Variation) error {
		v.ErrorMessage = message
		return nil
	})
}

// List returns snapshots ordered by creation time.
func (s *MemoryStore) List() ([]*models.Variation, error) {
	s.mu.RLock()
	out := make([]*models.Variation, 0, len(s.variations))
	for _, v := range s.variations {
		out = append(out, v.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Delete(variationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variations[variationID]; !ok {
		return NotFound("variation", variationID)
	}
	if s.remove != nil {
		if err := s.remove(variationID); err != nil {
			return err
		}
	}
	delete(s.variations, variationID)
	return nil
}

func (s *MemoryStore) update(variationID string, fn func(v *models.Variation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.variations[variationID]
	if !ok {
		return NotFound("variation", variationID)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = s.now().UTC()

	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return err
		}
	}
	s.variations[variationID] = next
	return nil
}

// load installs a record without validation. Used when restoring from disk.
func (s *MemoryStore) load(v *models.Variation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variations[v.VariationID] = v
}

func appendUnique(list []string, id string) []string {
	if id == "" {
		return list
	}
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
