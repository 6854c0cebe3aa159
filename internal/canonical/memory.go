package canonical

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
)

type memoryProject struct {
	name    string
	version int64
	regions map[string]*models.Region
	order   []string
}

// MemoryStore keeps canonical state in process. Versions are decimal integers starting at 1.
type MemoryStore struct {
	mu       sync.Mutex
	projects map[string]*memoryProject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string]*memoryProject)}
}

func (s *MemoryStore) CreateProject(_ context.Context, projectID, name string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[projectID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, projectID)
	}
	p := &memoryProject{name: name, version: 1, regions: map[string]*models.Region{}}
	s.projects[projectID] = p
	return s.snapshot(projectID, p), nil
}

func (s *MemoryStore) GetProject(_ context.Context, projectID string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return s.snapshot(projectID, p), nil
}

func (s *MemoryStore) CurrentVersion(_ context.Context, projectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return strconv.FormatInt(p.version, 10), nil
}

func (s *MemoryStore) GetRegion(_ context.Context, projectID, regionID string) (*models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	r, ok := p.regions[regionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, regionID)
	}
	out := withEmptySlices(*r.Clone())
	return &out, nil
}

func (s *MemoryStore) ApplyChanges(_ context.Context, projectID, expectedVersion string, changes []ChangeSet) (string, []models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	current := strconv.FormatInt(p.version, 10)
	if expectedVersion != current {
		return "", nil, fmt.Errorf("%w: expected %s, project is at %s", ErrVersionMismatch, expectedVersion, current)
	}

	// Work on copies; nothing is installed unless every change set applies.
	working := map[string]*models.Region{}
	var created []string
	var touched []string
	for _, cs := range changes {
		r, ok := working[cs.RegionID]
		if !ok {
			if existing, found := p.regions[cs.RegionID]; found {
				r = existing.Clone()
			} else if cs.Create != nil {
				r = &models.Region{
					RegionID:      cs.RegionID,
					TrackID:       cs.TrackID,
					Name:          cs.Create.Name,
					StartBeat:     cs.Create.StartBeat,
					DurationBeats: cs.Create.DurationBeats,
				}
				created = append(created, cs.RegionID)
			} else {
				return "", nil, fmt.Errorf("%w: %s", ErrRegionNotFound, cs.RegionID)
			}
			working[cs.RegionID] = r
			touched = append(touched, cs.RegionID)
		}
		if err := applyChangeSet(r, cs); err != nil {
			return "", nil, err
		}
	}

	for id, r := range working {
		p.regions[id] = r
	}
	p.order = append(p.order, created...)
	p.version++

	out := make([]models.Region, 0, len(touched))
	for _, id := range touched {
		out = append(out, withEmptySlices(*working[id].Clone()))
	}
	return strconv.FormatInt(p.version, 10), out, nil
}

func (s *MemoryStore) snapshot(projectID string, p *memoryProject) *Project {
	out := &Project{
		ProjectID: projectID,
		Name:      p.name,
		StateID:   strconv.FormatInt(p.version, 10),
		Regions:   make([]models.Region, 0, len(p.order)),
	}
	for _, id := range p.order {
		out.Regions = append(out.Regions, withEmptySlices(*p.regions[id].Clone()))
	}
	return out
}
