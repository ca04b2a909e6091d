package service

import (
	"context"
	"log/slog"

	"github.com/layer-3/warden/clock"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// Deps are the collaborators shared by the session components.
// Tokens, Sessions and Gateway are required; the rest default to no-ops.
type Deps struct {
	Tokens   ports.TokenStore
	Sessions ports.SessionStore
	Gateway  ports.AuthGateway
	Events   ports.EventPublisher
	Metrics  ports.Metrics
	Clock    clock.Clock
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = nopEvents{}
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// publish sends an event and only logs a failure
func (d Deps) publish(ctx context.Context, event core.Event) {
	if event.At.IsZero() {
		event.At = d.Clock.Now()
	}
	if err := d.Events.Publish(ctx, event); err != nil {
		d.Logger.Warn("event_publish_failed", "type", event.Type, "err", err)
	}
}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, core.Event) error { return nil }

type nopMetrics struct{}

func (nopMetrics) SessionStarted() {}

func (nopMetrics) SessionExpired(core.ExpiryReason) {}

func (nopMetrics) RefreshSettled(error, int) {}
