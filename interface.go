package warden

import (
	"context"
	"net/http"

	"github.com/layer-3/warden/core"
)

// Client is the session API an embedding application drives
type Client interface {
	// Login authenticates and starts a session
	Login(ctx context.Context, creds core.Credentials) (core.LoginResult, error)

	// Resume restores a session persisted by a previous process
	Resume(ctx context.Context) (bool, error)

	// RecordActivity restarts the inactivity window
	RecordActivity(ctx context.Context) bool

	// Terminate logs out and clears local credentials
	Terminate(ctx context.Context)

	// RemainingMinutes returns the time left before expiry, rounded up
	RemainingMinutes() int

	// Session returns a snapshot of the current session
	Session() core.SessionState

	// OnWarning and OnExpired register lifecycle callbacks
	OnWarning(fn func(minutesRemaining int))
	OnExpired(fn func(reason core.ExpiryReason))

	// HTTPClient returns a client that authorizes requests and refreshes on 401
	HTTPClient() *http.Client
}
