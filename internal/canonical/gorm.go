package canonical

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/Conceptual-Machines/magda-variations/internal/models"
	"gorm.io/gorm"
)

// GormStore keeps canonical state in postgres. ApplyChanges runs in one
// transaction holding a row lock on the project.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateProject(ctx context.Context, projectID, name string) (*Project, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectRecord{}).Where("id = ?", projectID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, projectID)
	}
	rec := models.ProjectRecord{ID: projectID, Name: name, Version: 1}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, err
	}
	return &Project{ProjectID: projectID, Name: name, StateID: "1", Regions: []models.Region{}}, nil
}

func (s *GormStore) GetProject(ctx context.Context, projectID string) (*Project, error) {
	db := s.db.WithContext(ctx)
	rec, err := findProject(db, projectID)
	if err != nil {
		return nil, err
	}

	var regionRows []models.RegionRecord
	if err := db.Where("project_id = ?", projectID).Order("created_at, id").Find(&regionRows).Error; err != nil {
		return nil, err
	}

	out := &Project{
		ProjectID: rec.ID,
		Name:      rec.Name,
		StateID:   strconv.FormatInt(rec.Version, 10),
		Regions:   make([]models.Region, 0, len(regionRows)),
	}
	for _, row := range regionRows {
		r, err := loadRegion(db, row)
		if err != nil {
			return nil, err
		}
		out.Regions = append(out.Regions, *r)
	}
	return out, nil
}

func (s *GormStore) CurrentVersion(ctx context.Context, projectID string) (string, error) {
	rec, err := findProject(s.db.WithContext(ctx), projectID)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(rec.Version, 10), nil
}

func (s *GormStore) GetRegion(ctx context.Context, projectID, regionID string) (*models.Region, error) {
	db := s.db.WithContext(ctx)
	var row models.RegionRecord
	err := db.Where("id = ? AND project_id = ?", regionID, projectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if _, perr := findProject(db, projectID); perr != nil {
			return nil, perr
		}
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, regionID)
	}
	if err != nil {
		return nil, err
	}
	return loadRegion(db, row)
}

func (s *GormStore) ApplyChanges(ctx context.Context, projectID, expectedVersion string, changes []ChangeSet) (string, []models.Region, error) {
	var newVersion string
	var out []models.Region

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the project row so concurrent commits serialize on the version check
		var project models.ProjectRecord
		if err := tx.Raw("SELECT * FROM projects WHERE id = ? FOR UPDATE", projectID).
			Scan(&project).Error; err != nil {
			return err
		}
		if project.ID == "" {
			return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
		}
		current := strconv.FormatInt(project.Version, 10)
		if expectedVersion != current {
			return fmt.Errorf("%w: expected %s, project is at %s", ErrVersionMismatch, expectedVersion, current)
		}

		working := map[string]*models.Region{}
		var touched []string
		for _, cs := range changes {
			r, ok := working[cs.RegionID]
			if !ok {
				loaded, err := s.regionForChange(tx, projectID, cs)
				if err != nil {
					return err
				}
				r = loaded
				working[cs.RegionID] = r
				touched = append(touched, cs.RegionID)
			}

			if err := applyChangeSet(r, cs); err != nil {
				return err
			}
			if err := persistChangeSet(tx, cs); err != nil {
				return err
			}
		}

		project.Version++
		if err := tx.Model(&models.ProjectRecord{}).Where("id = ?", projectID).
			Update("version", project.Version).Error; err != nil {
			return err
		}

		newVersion = strconv.FormatInt(project.Version, 10)
		out = make([]models.Region, 0, len(touched))
		for _, id := range touched {
			out = append(out, withEmptySlices(*working[id]))
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return newVersion, out, nil
}

func (s *GormStore) regionForChange(tx *gorm.DB, projectID string, cs ChangeSet) (*models.Region, error) {
	var row models.RegionRecord
	err := tx.Where("id = ? AND project_id = ?", cs.RegionID, projectID).First(&row).Error
	if err == nil {
		return loadRegion(tx, row)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if cs.Create == nil {
		return nil, fmt.Errorf("%w: %s", ErrRegionNotFound, cs.RegionID)
	}

	row = models.RegionRecord{
		ID:            cs.RegionID,
		ProjectID:     projectID,
		TrackID:       cs.TrackID,
		Name:          cs.Create.Name,
		StartBeat:     cs.Create.StartBeat,
		DurationBeats: cs.Create.DurationBeats,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, err
	}
	r := regionFromRow(row)
	return &r, nil
}

func persistChangeSet(tx *gorm.DB, cs ChangeSet) error {
	if len(cs.RemoveNoteIDs) > 0 {
		if err := tx.Where("id IN ? AND region_id = ?", cs.RemoveNoteIDs, cs.RegionID).
			Delete(&models.NoteRecord{}).Error; err != nil {
			return err
		}
	}

	if len(cs.AddNotes) > 0 {
		rows := make([]models.NoteRecord, len(cs.AddNotes))
		for i, n := range cs.AddNotes {
			rows[i] = models.NoteRecord{
				ID:            n.ID,
				RegionID:      cs.RegionID,
				Pitch:         n.Pitch,
				StartBeat:     n.StartBeat,
				DurationBeats: n.DurationBeats,
				Velocity:      n.Velocity,
				Channel:       n.Channel,
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}

	if len(cs.Controllers) > 0 {
		rows := make([]models.ControllerRecord, len(cs.Controllers))
		for i, c := range cs.Controllers {
			rows[i] = models.ControllerRecord{
				RegionID: cs.RegionID,
				Kind:     string(c.Kind),
				Beat:     c.Beat,
				Value:    c.Value,
				CC:       c.CC,
				Pitch:    c.Pitch,
			}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
	}
	return nil
}

func findProject(db *gorm.DB, projectID string) (*models.ProjectRecord, error) {
	var rec models.ProjectRecord
	err := db.Where("id = ?", projectID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadRegion(db *gorm.DB, row models.RegionRecord) (*models.Region, error) {
	r := regionFromRow(row)

	var notes []models.NoteRecord
	if err := db.Where("region_id = ?", row.ID).Find(&notes).Error; err != nil {
		return nil, err
	}
	for _, n := range notes {
		r.Notes = append(r.Notes, models.Note{
			ID: n.ID,
			NoteSnapshot: models.NoteSnapshot{
				Pitch:         n.Pitch,
				StartBeat:     n.StartBeat,
				DurationBeats: n.DurationBeats,
				Velocity:      n.Velocity,
				Channel:       n.Channel,
			},
		})
	}

	var controllers []models.ControllerRecord
	if err := db.Where("region_id = ?", row.ID).Order("id").Find(&controllers).Error; err != nil {
		return nil, err
	}
	for _, c := range controllers {
		change := models.ControllerChange{
			Kind:  models.ControllerKind(c.Kind),
			Beat:  c.Beat,
			Value: c.Value,
			CC:    c.CC,
			Pitch: c.Pitch,
		}
		if err := appendController(&r, change); err != nil {
			return nil, err
		}
	}

	sortRegionContent(&r)
	return &r, nil
}

func regionFromRow(row models.RegionRecord) models.Region {
	return withEmptySlices(models.Region{
		RegionID:      row.ID,
		TrackID:       row.TrackID,
		Name:          row.Name,
		StartBeat:     row.StartBeat,
		DurationBeats: row.DurationBeats,
	})
}
