package ports

import (
	"context"

	"github.com/layer-3/warden/core"
)

//go:generate mockgen -source=gateway.go -destination=../mocks/gateway.go -package=mocks

// AuthGateway performs the network calls against the auth server
type AuthGateway interface {
	// Login exchanges credentials for tokens
	Login(ctx context.Context, creds core.Credentials) (core.LoginResponse, error)

	// Refresh exchanges a refresh token for a new token pair
	Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error)

	// Logout ends the session the given tokens belong to, best effort.
	// The tokens are passed in because local state is cleared before the call.
	Logout(ctx context.Context, tokens core.TokenPair) error

	// Heartbeat reports user activity to the server, best effort
	Heartbeat(ctx context.Context, userID string) error
}
