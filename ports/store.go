package ports

import (
	"context"

	"github.com/layer-3/warden/core"
)

// KV is the minimal key-value backend the stores persist into.
// Get returns core.ErrKeyNotFound for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// TokenStore holds the current token pair
type TokenStore interface {
	// Get returns the stored pair, or false when unauthenticated or unreadable
	Get(ctx context.Context) (core.TokenPair, bool)
	Set(ctx context.Context, pair core.TokenPair) error
	Clear(ctx context.Context) error
}

// SessionStore persists the session record across restarts
type SessionStore interface {
	Load(ctx context.Context) (core.SessionState, bool)
	Save(ctx context.Context, state core.SessionState) error
	Delete(ctx context.Context) error
}
