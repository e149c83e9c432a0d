package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventSessionRestored    EventType = "session_restored"
	EventSessionLoggedIn    EventType = "session_logged_in"
	EventSessionLoggedOut   EventType = "session_logged_out"
	EventSessionFailed      EventType = "session_failed"
	EventSessionUserUpdated EventType = "session_user_updated"
	EventSessionErrorClear  EventType = "session_error_cleared"
	EventSessionLoading     EventType = "session_loading"
)

// Event represents a state change emitted by the session manager.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(eventType EventType, userID string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// SessionChangedPayload describes the session after a transition.
type SessionChangedPayload struct {
	State           string `json:"state"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsLoading       bool   `json:"is_loading"`
	Error           string `json:"error,omitempty"`
}
