package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/layer-3/warden/core"
)

// Manager ties the token store, refresh coordinator and session clock into
// one client-side session
type Manager struct {
	deps           Deps
	cfg            core.SessionConfig
	refreshTimeout time.Duration

	authorizer *Authorizer
	clock      *SessionClock

	mu          sync.RWMutex
	coordinator *RefreshCoordinator
}

// NewManager creates a session manager. cfg is used by Login and Resume.
func NewManager(deps Deps, cfg core.SessionConfig, refreshTimeout time.Duration) *Manager {
	deps = deps.withDefaults()
	m := &Manager{
		deps:           deps,
		cfg:            cfg,
		refreshTimeout: refreshTimeout,
		authorizer:     NewAuthorizer(deps.Tokens),
		clock:          NewSessionClock(deps),
	}
	m.clock.onStarted = m.resetCoordinator
	m.clock.onEnded = m.dropCoordinator
	return m
}

// Login authenticates with the auth server and starts a session for the returned principal
func (m *Manager) Login(ctx context.Context, creds core.Credentials) (core.LoginResult, error) {
	if creds.Username == "" || creds.Password == "" {
		return core.LoginResult{}, fmt.Errorf("username and password are required: %w", core.ErrInvalidCredentials)
	}

	resp, err := m.deps.Gateway.Login(ctx, creds)
	if err != nil {
		return core.LoginResult{}, fmt.Errorf("login failed: %w", err)
	}

	if resp.UserID == "" {
		return core.LoginResult{}, fmt.Errorf("login response has no user id: %w", core.ErrMalformedResponse)
	}

	state, err := m.clock.start(ctx, resp.UserID, m.cfg, &resp.Tokens)
	if err != nil {
		return core.LoginResult{}, err
	}

	return core.LoginResult{
		UserID:                resp.UserID,
		SessionID:             state.ID,
		RequiresPasswordReset: resp.RequiresPasswordReset,
	}, nil
}

// StartSession starts the session clock for userID with a fresh refresh coordinator
func (m *Manager) StartSession(ctx context.Context, userID string, cfg core.SessionConfig) (core.SessionState, error) {
	return m.clock.Start(ctx, userID, cfg)
}

// Resume restores a session persisted by a previous process. It reports
// false when there is nothing to resume or the session expired meanwhile.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	record, hasSession := m.deps.Sessions.Load(ctx)
	_, hasTokens := m.deps.Tokens.Get(ctx)
	if !hasSession || !hasTokens {
		if hasSession || hasTokens {
			m.deps.Logger.Warn("discarding_partial_session", "has_session", hasSession, "has_tokens", hasTokens)
			if err := m.deps.Tokens.Clear(ctx); err != nil {
				return false, fmt.Errorf("failed to clear tokens: %w", err)
			}
			if err := m.deps.Sessions.Delete(ctx); err != nil {
				return false, fmt.Errorf("failed to delete session: %w", err)
			}
		}
		return false, nil
	}

	return m.clock.Restore(ctx, record, m.cfg)
}

// RecordActivity restarts the inactivity window of the active session
func (m *Manager) RecordActivity(ctx context.Context) bool {
	return m.clock.RecordActivity(ctx)
}

// Terminate ends the session, clears local tokens and logs out server-side
func (m *Manager) Terminate(ctx context.Context) {
	m.clock.Terminate(ctx)
}

// RemainingMinutes returns the whole minutes left before the session expires
func (m *Manager) RemainingMinutes() int {
	return m.clock.RemainingMinutes()
}

// State returns the lifecycle state of the current session
func (m *Manager) State() core.State {
	return m.clock.State().State
}

// Session returns a snapshot of the current session
func (m *Manager) Session() core.SessionState {
	return m.clock.State()
}

// OnWarning registers the callback for the inactivity warning
func (m *Manager) OnWarning(fn func(minutesRemaining int)) {
	m.clock.OnWarning(fn)
}

// OnExpired registers the callback for session expiry
func (m *Manager) OnExpired(fn func(reason core.ExpiryReason)) {
	m.clock.OnExpired(fn)
}

// Authorize attaches the current access token to req
func (m *Manager) Authorize(req *http.Request) *http.Request {
	return m.authorizer.Authorize(req)
}

// Refresh obtains a token to replay a request rejected while carrying staleAccessToken
func (m *Manager) Refresh(ctx context.Context, staleAccessToken string) (string, error) {
	m.mu.RLock()
	c := m.coordinator
	m.mu.RUnlock()

	if c == nil || !m.clock.State().IsActive() {
		return "", core.ErrNoSession
	}
	return c.Refresh(ctx, staleAccessToken)
}

// Close waits for background logout and heartbeat calls
func (m *Manager) Close() {
	m.clock.Wait()
}

// resetCoordinator installs a coordinator whose outcome only affects
// sessionID and detaches the previous one
func (m *Manager) resetCoordinator(sessionID string) {
	c := NewRefreshCoordinator(m.deps,
		WithRefreshTimeout(m.refreshTimeout),
		WithRefreshedHandler(func(core.TokenPair) { m.refreshed(sessionID) }),
		WithTerminationHandler(func(err error) { m.refreshFailed(sessionID, err) }),
	)

	m.mu.Lock()
	prev := m.coordinator
	m.coordinator = c
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (m *Manager) dropCoordinator() {
	m.mu.Lock()
	prev := m.coordinator
	m.coordinator = nil
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

func (m *Manager) refreshed(sessionID string) {
	state := m.clock.State()
	m.deps.publish(context.Background(), core.Event{Type: core.EventTokenRefreshed, SessionID: sessionID, UserID: state.UserID})
}

func (m *Manager) refreshFailed(sessionID string, err error) {
	state := m.clock.State()
	m.deps.publish(context.Background(), core.Event{Type: core.EventTokenRefreshFailed, SessionID: sessionID, UserID: state.UserID})

	if m.clock.expire(context.Background(), core.ReasonRefreshFailed, func() bool { return m.clock.state.ID == sessionID }) {
		m.deps.Logger.Warn("session_terminated_by_refresh", "session_id", sessionID, "err", err)
	}
}
