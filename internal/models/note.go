package models

import (
	"errors"
	"fmt"
)

// MIDI value ranges
const (
	MinPitch     = 0
	MaxPitch     = 127
	MinVelocity  = 0
	MaxVelocity  = 127
	MinChannel   = 0
	MaxChannel   = 15
	MinCCValue   = 0
	MaxCCValue   = 127
	MinPitchBend = -8192
	MaxPitchBend = 8191
)

// NoteSnapshot is the musical content of a note at a point in time.
type NoteSnapshot struct {
	Pitch         int     `json:"pitch"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
	Velocity      int     `json:"velocity"`
	Channel       int     `json:"channel"`
}

// Validate checks MIDI ranges and timing.
func (s NoteSnapshot) Validate() error {
	if s.Pitch < MinPitch || s.Pitch > MaxPitch {
		return fmt.Errorf("pitch %d out of range", s.Pitch)
	}
	if s.Velocity < MinVelocity || s.Velocity > MaxVelocity {
		return fmt.Errorf("velocity %d out of range", s.Velocity)
	}
	if s.Channel < MinChannel || s.Channel > MaxChannel {
		return fmt.Errorf("channel %d out of range", s.Channel)
	}
	if s.StartBeat < 0 {
		return fmt.Errorf("startBeat %.3f is negative", s.StartBeat)
	}
	if s.DurationBeats <= 0 {
		return fmt.Errorf("durationBeats %.3f must be positive", s.DurationBeats)
	}
	return nil
}

// Equal reports whether two snapshots carry the same musical content.
func (s NoteSnapshot) Equal(o NoteSnapshot) bool {
	return s == o
}

// Note is a note that lives in a region and has a stable id.
type Note struct {
	ID string `json:"noteId"`
	NoteSnapshot
}

// ChangeType classifies a note change
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeRemoved  ChangeType = "removed"
	ChangeModified ChangeType = "modified"
)

// NoteChange is a single note-level difference between base and proposed content.
type NoteChange struct {
	NoteID     string        `json:"noteId"`
	ChangeType ChangeType    `json:"changeType"`
	Before     *NoteSnapshot `json:"before"`
	After      *NoteSnapshot `json:"after"`
}

// Validate enforces the before/after presence rules for each change type.
func (c NoteChange) Validate() error {
	if c.NoteID == "" {
		return errors.New("noteId is required")
	}
	switch c.ChangeType {
	case ChangeAdded:
		if c.Before != nil || c.After == nil {
			return fmt.Errorf("added change %s must have only after", c.NoteID)
		}
	case ChangeRemoved:
		if c.Before == nil || c.After != nil {
			return fmt.Errorf("removed change %s must have only before", c.NoteID)
		}
	case ChangeModified:
		if c.Before == nil || c.After == nil {
			return fmt.Errorf("modified change %s must have before and after", c.NoteID)
		}
		if c.Before.Equal(*c.After) {
			return fmt.Errorf("modified change %s has identical before and after", c.NoteID)
		}
	default:
		return fmt.Errorf("unknown change type %q", c.ChangeType)
	}
	if c.Before != nil {
		if err := c.Before.Validate(); err != nil {
			return fmt.Errorf("before: %w", err)
		}
	}
	if c.After != nil {
		if err := c.After.Validate(); err != nil {
			return fmt.Errorf("after: %w", err)
		}
	}
	return nil
}

// StartBeat returns the position used to place the change in time.
func (c NoteChange) StartBeat() float64 {
	if c.After != nil {
		return c.After.StartBeat
	}
	if c.Before != nil {
		return c.Before.StartBeat
	}
	return 0
}
