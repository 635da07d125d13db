package core

import "time"

// EventType identifies a tour lifecycle event.
type EventType string

const (
	EventStart           EventType = "start"
	EventPause           EventType = "pause"
	EventResume          EventType = "resume"
	EventComplete        EventType = "complete"
	EventExit            EventType = "exit"
	EventStepStart       EventType = "step_start"
	EventStepComplete    EventType = "step_complete"
	EventUserInteraction EventType = "user_interaction"
)

// Event is one append-only analytics record. SessionID and Timestamp are
// stamped by the recorder when the event is enqueued.
type Event struct {
	Type      EventType      `json:"type"`
	StepID    string         `json:"stepId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Details   map[string]any `json:"details,omitempty"`
}
