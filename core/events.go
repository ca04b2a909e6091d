package core

import "time"

// EventType names a session lifecycle event
type EventType string

const (
	EventSessionStarted     EventType = "session.started"
	EventSessionWarning     EventType = "session.warning"
	EventSessionExpired     EventType = "session.expired"
	EventTokenRefreshed     EventType = "token.refreshed"
	EventTokenRefreshFailed EventType = "token.refresh_failed"
)

// Event is published whenever a session changes state
type Event struct {
	Type      EventType
	SessionID string
	UserID    string
	Reason    ExpiryReason // Set for session.expired
	At        time.Time
}
