package models

import (
	"time"

	"gorm.io/gorm"
)

// ProjectRecord is the canonical version row of a project.
// Version increases by one on every committed change set.
type ProjectRecord struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name"`
	Version   int64     `gorm:"not null;default:1" json:"version"`
}

func (ProjectRecord) TableName() string { return "projects" }

// RegionRecord stores a region header in canonical state.
type RegionRecord struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	ProjectID     string    `gorm:"not null;index;size:64" json:"project_id"`
	TrackID       string    `gorm:"not null;index;size:64" json:"track_id"`
	Name          string    `json:"name"`
	StartBeat     float64   `gorm:"not null" json:"start_beat"`
	DurationBeats float64   `gorm:"not null" json:"duration_beats"`
}

func (RegionRecord) TableName() string { return "regions" }

// NoteRecord stores a note. Beats are region-relative.
type NoteRecord struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	RegionID      string    `gorm:"not null;index;size:64" json:"region_id"`
	Pitch         int       `gorm:"not null" json:"pitch"`
	StartBeat     float64   `gorm:"not null" json:"start_beat"`
	DurationBeats float64   `gorm:"not null" json:"duration_beats"`
	Velocity      int       `gorm:"not null" json:"velocity"`
	Channel       int       `gorm:"not null;default:0" json:"channel"`
}

func (NoteRecord) TableName() string { return "notes" }

// ControllerRecord stores one cc, pitch bend or aftertouch event.
type ControllerRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RegionID  string    `gorm:"not null;index;size:64" json:"region_id"`
	Kind      string    `gorm:"not null;size:16" json:"kind"`
	Beat      float64   `gorm:"not null" json:"beat"`
	Value     int       `gorm:"not null" json:"value"`
	CC        *int      `json:"cc,omitempty"`
	Pitch     *int      `json:"pitch,omitempty"`
}

func (ControllerRecord) TableName() string { return "controller_events" }

// OwnerCredits tracks the proposal budget of a caller.
type OwnerCredits struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
	Owner     string         `gorm:"uniqueIndex;not null;size:128" json:"owner"`
	Role      string         `gorm:"default:'user';index" json:"role"`
	Credits   int            `gorm:"default:0;not null" json:"credits"`
}

// UsageLog records one charged proposal.
type UsageLog struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Owner          string    `gorm:"not null;index;size:128" json:"owner"`
	VariationID    string    `gorm:"not null;index;size:64" json:"variation_id"`
	ProjectID      string    `gorm:"not null;index;size:64" json:"project_id"`
	Model          string    `json:"model"`
	CreditsCharged int       `gorm:"not null" json:"credits_charged"`
	RequestID      string    `gorm:"index" json:"request_id"`
}
