package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"

	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/clock"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/mocks"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fixture struct {
	gateway  *mocks.MockAuthGateway
	tokens   *store.TokenStore
	sessions *store.SessionStore
	clock    *clock.Fake
	events   *eventRecorder
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryKV()

	f := &fixture{
		gateway:  mocks.NewMockAuthGateway(ctrl),
		tokens:   store.NewTokenStore(kv, logger),
		sessions: store.NewSessionStore(kv, logger),
		clock:    clock.NewFake(epoch),
		events:   &eventRecorder{},
	}
	f.deps = Deps{
		Tokens:   f.tokens,
		Sessions: f.sessions,
		Gateway:  f.gateway,
		Events:   f.events,
		Clock:    f.clock,
		Logger:   logger,
	}
	return f
}

func (f *fixture) seedTokens(t *testing.T, access, refresh string) core.TokenPair {
	t.Helper()
	pair := core.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: epoch.Add(5 * time.Minute)}
	if err := f.tokens.Set(context.Background(), pair); err != nil {
		t.Fatalf("seed tokens: %v", err)
	}
	return pair
}

type eventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *eventRecorder) Publish(_ context.Context, event core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) types() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
