// Package stream delivers turn progress events to the live client channel
// bound to a session.
package stream

import (
	"time"

	"github.com/vidyalabs/tutor-server/internal/domain"
)

// EventType classifies a turn event.
type EventType string

const (
	// EventProgress reports one completed stage.
	EventProgress EventType = "progress"
	// EventAck acknowledges an accepted asynchronous turn (homework flow).
	EventAck EventType = "ack"
	// EventFinal carries the completed turn. Terminal.
	EventFinal EventType = "final"
	// EventError carries a fatal turn failure. Terminal.
	EventError EventType = "error"
)

// Event is one entry in the finite, non-restartable event sequence a turn
// produces. Each turn ends with exactly one terminal event: final or error.
type Event struct {
	Type      EventType           `json:"type"`
	SessionID string              `json:"session_id"`
	TurnID    string              `json:"turn_id,omitempty"`
	Stage     string              `json:"stage,omitempty"`
	Result    *domain.StageResult `json:"result,omitempty"`
	Turn      *domain.Turn        `json:"turn,omitempty"`
	ErrorKind domain.ErrorKind    `json:"error_kind,omitempty"`
	Message   string              `json:"message,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Terminal reports whether the event ends a turn's sequence.
func (e *Event) Terminal() bool {
	return e.Type == EventFinal || e.Type == EventError
}

// ProgressEvent builds a progress event for one completed stage.
func ProgressEvent(sessionID, turnID, stage string, result domain.StageResult) *Event {
	return &Event{
		Type:      EventProgress,
		SessionID: sessionID,
		TurnID:    turnID,
		Stage:     stage,
		Result:    &result,
		Timestamp: time.Now(),
	}
}

// AckEvent builds an acknowledgment event for an asynchronous turn.
func AckEvent(sessionID, turnID, message string) *Event {
	return &Event{
		Type:      EventAck,
		SessionID: sessionID,
		TurnID:    turnID,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// FinalEvent builds the terminal event carrying the completed turn.
func FinalEvent(sessionID string, turn *domain.Turn) *Event {
	return &Event{
		Type:      EventFinal,
		SessionID: sessionID,
		TurnID:    turn.ID,
		Turn:      turn,
		Timestamp: time.Now(),
	}
}

// ErrorEvent builds the terminal event for a fatal turn failure.
func ErrorEvent(sessionID, turnID string, kind domain.ErrorKind, message string) *Event {
	return &Event{
		Type:      EventError,
		SessionID: sessionID,
		TurnID:    turnID,
		ErrorKind: kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}
