package ports

import (
	"context"

	"github.com/layer-3/warden/core"
)

// EventPublisher publishes session lifecycle events to other components
type EventPublisher interface {
	Publish(ctx context.Context, event core.Event) error
}

// Metrics records session and refresh outcomes
type Metrics interface {
	SessionStarted()
	SessionExpired(reason core.ExpiryReason)
	RefreshSettled(err error, waiters int)
}
