// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventConnectionStatus EventType = "CONNECTION_STATUS"
	EventReading          EventType = "READING"
	EventLoggingStatus    EventType = "LOGGING_STATUS"
	EventError            EventType = "ERROR"
)

// Discrete status strings carried by status events
const (
	StatusConnecting       = "CONNECTING"
	StatusConnected        = "CONNECTED"
	StatusConnectionFailed = "CONNECTION_FAILED"
	StatusDisconnected     = "DISCONNECTED"
	StatusLogging          = "LOGGING"
	StatusNotLogging       = "NOT_LOGGING"
)

// SessionEvent is emitted by a running session towards the presentation layer
type SessionEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Type      EventType `json:"event_type"`
	Status    string    `json:"status,omitempty"`
	Reading   *Reading  `json:"reading,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewStatusEvent builds a connection or logging status event
func NewStatusEvent(sessionID uuid.UUID, eventType EventType, status, message string) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Type:      eventType,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewReadingEvent wraps a decoded reading
func NewReadingEvent(sessionID uuid.UUID, r Reading) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Type:      EventReading,
		Reading:   &r,
		Timestamp: r.Timestamp,
	}
}

// NewErrorEvent carries a failure message
func NewErrorEvent(sessionID uuid.UUID, err error) SessionEvent {
	return SessionEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Type:      EventError,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}
}
