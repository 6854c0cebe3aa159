package models

import "fmt"

// ControllerKind tags a ControllerChange
type ControllerKind string

const (
	ControllerCC         ControllerKind = "cc"
	ControllerPitchBend  ControllerKind = "pitchBend"
	ControllerAftertouch ControllerKind = "aftertouch"
)

// ControllerChange is a tagged union of continuous-controller events.
// CC is set only for cc events. Pitch is set only for polyphonic aftertouch.
type ControllerChange struct {
	Kind  ControllerKind `json:"kind"`
	Beat  float64        `json:"beat"`
	Value int            `json:"value"`
	CC    *int           `json:"cc,omitempty"`
	Pitch *int           `json:"pitch,omitempty"`
}

// NewCCChange builds a control change event.
func NewCCChange(cc int, beat float64, value int) ControllerChange {
	return ControllerChange{Kind: ControllerCC, Beat: beat, Value: value, CC: &cc}
}

// NewPitchBendChange builds a pitch bend event.
func NewPitchBendChange(beat float64, value int) ControllerChange {
	return ControllerChange{Kind: ControllerPitchBend, Beat: beat, Value: value}
}

// NewAftertouchChange builds an aftertouch event. A nil pitch means channel pressure.
func NewAftertouchChange(beat float64, value int, pitch *int) ControllerChange {
	return ControllerChange{Kind: ControllerAftertouch, Beat: beat, Value: value, Pitch: pitch}
}

func (c ControllerChange) Validate() error {
	if c.Beat < 0 {
		return fmt.Errorf("%s beat %.3f is negative", c.Kind, c.Beat)
	}
	switch c.Kind {
	case ControllerCC:
		if c.CC == nil || *c.CC < 0 || *c.CC > 127 {
			return fmt.Errorf("cc number missing or out of range")
		}
		if c.Value < MinCCValue || c.Value > MaxCCValue {
			return fmt.Errorf("cc value %d out of range", c.Value)
		}
	case ControllerPitchBend:
		if c.Value < MinPitchBend || c.Value > MaxPitchBend {
			return fmt.Errorf("pitch bend %d out of range", c.Value)
		}
	case ControllerAftertouch:
		if c.Value < MinCCValue || c.Value > MaxCCValue {
			return fmt.Errorf("aftertouch value %d out of range", c.Value)
		}
		if c.Pitch != nil && (*c.Pitch < MinPitch || *c.Pitch > MaxPitch) {
			return fmt.Errorf("aftertouch pitch %d out of range", *c.Pitch)
		}
	default:
		return fmt.Errorf("unknown controller kind %q", c.Kind)
	}
	return nil
}

// CCEvent is a materialized control change in a region.
type CCEvent struct {
	CC    int     `json:"cc"`
	Beat  float64 `json:"beat"`
	Value int     `json:"value"`
}

// PitchBendEvent is a materialized pitch bend in a region.
type PitchBendEvent struct {
	Beat  float64 `json:"beat"`
	Value int     `json:"value"`
}

// AftertouchEvent is a materialized aftertouch in a region.
type AftertouchEvent struct {
	Beat  float64 `json:"beat"`
	Value int     `json:"value"`
	Pitch *int    `json:"pitch,omitempty"`
}
