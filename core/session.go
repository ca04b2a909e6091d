package core

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a session clock
type State int

const (
	StateUnstarted State = iota
	StateActive
	StateWarned
	StateExpired
)

// String returns a string representation of the State
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateActive:
		return "active"
	case StateWarned:
		return "warned"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// IsActive returns true if the state accepts activity
func (s State) IsActive() bool {
	return s == StateActive || s == StateWarned
}

// ExpiryReason explains why a session ended
type ExpiryReason string

const (
	ReasonInactivity    ExpiryReason = "inactivity"
	ReasonAbsolute      ExpiryReason = "absolute"
	ReasonTerminated    ExpiryReason = "terminated"
	ReasonRefreshFailed ExpiryReason = "refresh_failed"
)

// SessionState is a snapshot of an authenticated session
type SessionState struct {
	ID             string    // Unique session identifier
	UserID         string    // Principal the session belongs to
	StartedAt      time.Time // When the session was started, immutable
	LastActivity   time.Time // Last recorded activity
	AbsoluteExpiry time.Time // Hard ceiling, immutable
	State          State
}

// IsActive reports whether the session still accepts activity
func (s SessionState) IsActive() bool {
	return s.State.IsActive()
}

// SessionConfig holds the two expiry horizons of a session
type SessionConfig struct {
	Timeout           time.Duration // Inactivity window
	WarningBefore     time.Duration // Lead time before inactivity expiry, 0 disables the warning
	MaxDuration       time.Duration // Absolute session ceiling regardless of activity
	RefreshTokenTTL   time.Duration // Informational, not enforced
	HeartbeatInterval time.Duration // Minimum gap between activity heartbeats, 0 disables them
}

// DefaultSessionConfig returns 30 minute inactivity, 5 minute warning, 12 hour ceiling
func DefaultSessionConfig() SessionConfig {
	return SessionConfigFromMinutes(30, 5, 12, 7)
}

// SessionConfigFromMinutes builds a config from the units the auth server advertises
func SessionConfigFromMinutes(timeoutMinutes, warningMinutes, maxDurationHours, refreshTokenExpiryDays int) SessionConfig {
	return SessionConfig{
		Timeout:         time.Duration(timeoutMinutes) * time.Minute,
		WarningBefore:   time.Duration(warningMinutes) * time.Minute,
		MaxDuration:     time.Duration(maxDurationHours) * time.Hour,
		RefreshTokenTTL: time.Duration(refreshTokenExpiryDays) * 24 * time.Hour,
	}
}

// Validate rejects configurations whose timers could never fire as intended
func (c SessionConfig) Validate() error {
	switch {
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %v: %w", c.Timeout, ErrInvalidConfig)
	case c.MaxDuration <= 0:
		return fmt.Errorf("max duration must be positive, got %v: %w", c.MaxDuration, ErrInvalidConfig)
	case c.WarningBefore < 0:
		return fmt.Errorf("warning lead time must not be negative, got %v: %w", c.WarningBefore, ErrInvalidConfig)
	case c.WarningBefore >= c.Timeout:
		return fmt.Errorf("warning lead time %v must be shorter than timeout %v: %w", c.WarningBefore, c.Timeout, ErrInvalidConfig)
	case c.HeartbeatInterval < 0:
		return fmt.Errorf("heartbeat interval must not be negative, got %v: %w", c.HeartbeatInterval, ErrInvalidConfig)
	}
	return nil
}
