package models

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates envelope payloads on the wire
type EventType string

const (
	EventMeta      EventType = "meta"
	EventPhrase    EventType = "phrase"
	EventDone      EventType = "done"
	EventError     EventType = "error"
	EventHeartbeat EventType = "heartbeat"
)

// EventPayload is implemented by every envelope body. The type is fixed per variant.
type EventPayload interface {
	EventType() EventType
}

// MetaPayload opens every stream.
type MetaPayload struct {
	Intent          string     `json:"intent"`
	AIExplanation   string     `json:"aiExplanation"`
	AffectedTracks  []string   `json:"affectedTracks"`
	AffectedRegions []string   `json:"affectedRegions"`
	NoteCounts      NoteCounts `json:"noteCounts"`
}

func (MetaPayload) EventType() EventType { return EventMeta }

// PhrasePayload carries one phrase.
type PhrasePayload struct {
	Phrase
}

func (PhrasePayload) EventType() EventType { return EventPhrase }

// DoneStatus is the terminal outcome reported by a done event
type DoneStatus string

const (
	DoneReady     DoneStatus = "ready"
	DoneFailed    DoneStatus = "failed"
	DoneDiscarded DoneStatus = "discarded"
)

// DonePayload closes every stream.
type DonePayload struct {
	Status        DoneStatus `json:"status"`
	PhraseCount   int        `json:"phraseCount"`
	NoteCounts    NoteCounts `json:"noteCounts"`
	AIExplanation string     `json:"aiExplanation,omitempty"`
}

func (DonePayload) EventType() EventType { return EventDone }

// ErrorPayload reports a generation failure before the final done.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (ErrorPayload) EventType() EventType { return EventError }

// HeartbeatPayload is empty.
type HeartbeatPayload struct{}

func (HeartbeatPayload) EventType() EventType { return EventHeartbeat }

// EventEnvelope wraps a payload with ordering and routing metadata.
// Sequence is zero and omitted for heartbeats.
type EventEnvelope struct {
	Type        EventType    `json:"type"`
	Sequence    int64        `json:"sequence,omitempty"`
	VariationID string       `json:"variationId"`
	ProjectID   string       `json:"projectId"`
	BaseStateID string       `json:"baseStateId"`
	TimestampMs int64        `json:"timestampMs"`
	Payload     EventPayload `json:"payload"`
}

// IsHeartbeat reports whether the envelope is a keepalive.
func (e EventEnvelope) IsHeartbeat() bool {
	return e.Type == EventHeartbeat
}

type rawEnvelope struct {
	Type        EventType       `json:"type"`
	Sequence    int64           `json:"sequence,omitempty"`
	VariationID string          `json:"variationId"`
	ProjectID   string          `json:"projectId"`
	BaseStateID string          `json:"baseStateId"`
	TimestampMs int64           `json:"timestampMs"`
	Payload     json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the payload into the concrete variant named by type.
func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload EventPayload
	switch raw.Type {
	case EventMeta:
		var p MetaPayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case EventPhrase:
		var p PhrasePayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case EventDone:
		var p DonePayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case EventError:
		var p ErrorPayload
		if err := decodePayload(raw.Payload, &p); err != nil {
			return err
		}
		payload = p
	case EventHeartbeat:
		payload = HeartbeatPayload{}
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}

	*e = EventEnvelope{
		Type:        raw.Type,
		Sequence:    raw.Sequence,
		VariationID: raw.VariationID,
		ProjectID:   raw.ProjectID,
		BaseStateID: raw.BaseStateID,
		TimestampMs: raw.TimestampMs,
		Payload:     payload,
	}
	return nil
}

func decodePayload(data json.RawMessage, into any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
