// Package messages defines the wire types exchanged over the message bus.
package messages

import (
	"time"
)

// EventMessage is a fire-and-forget notification about execution lifecycle:
// execution_started, execution_paused, execution_completed,
// execution_failed, breaker_tripped, children_updated.
type EventMessage struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HumanInputMessage carries a user's answer back to a paused execution.
type HumanInputMessage struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	ThreadID    string         `json:"thread_id,omitempty"`
	Input       map[string]any `json:"input"`
	Timestamp   time.Time      `json:"timestamp"`
}
