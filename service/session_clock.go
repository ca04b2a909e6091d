package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/layer-3/warden/clock"
	"github.com/layer-3/warden/core"
)

const (
	// persistInterval throttles LastActivity writes to the session store
	persistInterval = time.Minute

	// backgroundTimeout bounds best-effort heartbeat and logout calls
	backgroundTimeout = 10 * time.Second
)

// SessionClock tracks the inactivity and absolute horizons of one session
// at a time and tears the session down when either is reached.
//
// Token and session store mutations happen under the clock's lock so a
// session that is ending never touches the state of the one replacing it.
// onStarted and onEnded run under the lock. The public callbacks run outside
// it and may call back into the clock.
type SessionClock struct {
	deps Deps

	mu            sync.Mutex
	cfg           core.SessionConfig
	state         core.SessionState
	epoch         uint64 // bumped per session, guards the absolute timer
	gen           uint64 // bumped per activity, guards warning and inactivity timers
	warning       clock.Timer
	inactivity    clock.Timer
	absolute      clock.Timer
	lastHeartbeat time.Time
	lastPersist   time.Time

	onWarning func(minutesRemaining int)
	onExpired func(reason core.ExpiryReason)
	onStarted func(sessionID string)
	onEnded   func()

	bg sync.WaitGroup
}

// NewSessionClock creates an unstarted clock
func NewSessionClock(deps Deps) *SessionClock {
	return &SessionClock{deps: deps.withDefaults()}
}

// OnWarning registers the callback fired when the inactivity warning is due
func (s *SessionClock) OnWarning(fn func(minutesRemaining int)) {
	s.mu.Lock()
	s.onWarning = fn
	s.mu.Unlock()
}

// OnExpired registers the callback fired once when a session ends
func (s *SessionClock) OnExpired(fn func(reason core.ExpiryReason)) {
	s.mu.Lock()
	s.onExpired = fn
	s.mu.Unlock()
}

// Start begins a new session for userID. A previous session's timers are
// cancelled without firing any callback.
func (s *SessionClock) Start(ctx context.Context, userID string, cfg core.SessionConfig) (core.SessionState, error) {
	return s.start(ctx, userID, cfg, nil)
}

// start begins a session and, when tokens is set, stores them once the
// previous session can no longer write to the token store
func (s *SessionClock) start(ctx context.Context, userID string, cfg core.SessionConfig, tokens *core.TokenPair) (core.SessionState, error) {
	if err := cfg.Validate(); err != nil {
		return core.SessionState{}, err
	}

	s.mu.Lock()
	s.stopTimersLocked()
	if s.onEnded != nil {
		s.onEnded()
	}
	if tokens != nil {
		if err := s.deps.Tokens.Set(ctx, *tokens); err != nil {
			s.deps.Logger.Error("token_persist_failed", "user_id", userID, "err", err)
		}
	}

	now := s.deps.Clock.Now()
	s.cfg = cfg
	s.epoch++
	s.state = core.SessionState{
		ID:             uuid.NewString(),
		UserID:         userID,
		StartedAt:      now,
		LastActivity:   now,
		AbsoluteExpiry: now.Add(cfg.MaxDuration),
		State:          core.StateActive,
	}
	s.lastHeartbeat = time.Time{}
	s.lastPersist = now
	s.armIdleLocked(0)
	s.armAbsoluteLocked(now)
	if err := s.deps.Sessions.Save(ctx, s.state); err != nil {
		s.deps.Logger.Error("session_persist_failed", "session_id", s.state.ID, "err", err)
	}
	if s.onStarted != nil {
		s.onStarted(s.state.ID)
	}
	state := s.state
	s.mu.Unlock()

	s.deps.Metrics.SessionStarted()
	s.deps.publish(ctx, core.Event{Type: core.EventSessionStarted, SessionID: state.ID, UserID: state.UserID, At: now})
	s.deps.Logger.Info("session_started", "session_id", state.ID, "user_id", userID, "absolute_expiry", state.AbsoluteExpiry)

	return state, nil
}

// Restore resumes a persisted session. If either horizon passed while the
// process was down the session is expired immediately and Restore reports false.
func (s *SessionClock) Restore(ctx context.Context, record core.SessionState, cfg core.SessionConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.stopTimersLocked()
	if s.onEnded != nil {
		s.onEnded()
	}
	now := s.deps.Clock.Now()
	s.cfg = cfg
	s.epoch++
	s.state = record
	s.state.State = core.StateActive
	s.lastHeartbeat = time.Time{}
	s.lastPersist = now

	idle := now.Sub(record.LastActivity)
	if idle < 0 {
		idle = 0
	}

	var reason core.ExpiryReason
	switch {
	case !now.Before(record.AbsoluteExpiry):
		reason = core.ReasonAbsolute
	case idle >= cfg.Timeout:
		reason = core.ReasonInactivity
	}

	if reason != "" {
		finish := s.endLocked(ctx, reason)
		s.mu.Unlock()
		finish()
		return false, nil
	}

	s.armIdleLocked(idle)
	s.armAbsoluteLocked(now)
	if s.onStarted != nil {
		s.onStarted(record.ID)
	}
	s.mu.Unlock()

	s.deps.Logger.Info("session_resumed", "session_id", record.ID, "user_id", record.UserID, "idle", idle)
	return true, nil
}

// RecordActivity restarts the inactivity window. It reports false and does
// nothing once the session has ended or before it started.
func (s *SessionClock) RecordActivity(ctx context.Context) bool {
	s.mu.Lock()
	if !s.state.IsActive() {
		s.mu.Unlock()
		return false
	}

	now := s.deps.Clock.Now()
	s.state.LastActivity = now
	s.state.State = core.StateActive
	stopTimer(s.warning)
	stopTimer(s.inactivity)
	s.armIdleLocked(0)

	heartbeat := s.cfg.HeartbeatInterval > 0 && now.Sub(s.lastHeartbeat) >= s.cfg.HeartbeatInterval
	if heartbeat {
		s.lastHeartbeat = now
	}
	if now.Sub(s.lastPersist) >= persistInterval {
		s.lastPersist = now
		if err := s.deps.Sessions.Save(ctx, s.state); err != nil {
			s.deps.Logger.Error("session_persist_failed", "session_id", s.state.ID, "err", err)
		}
	}
	state := s.state
	s.mu.Unlock()

	if heartbeat {
		s.background(func(ctx context.Context) {
			if err := s.deps.Gateway.Heartbeat(ctx, state.UserID); err != nil {
				s.deps.Logger.Warn("heartbeat_failed", "session_id", state.ID, "err", err)
			}
		})
	}
	return true
}

// Terminate ends the session now. It is a no-op if no session is active.
func (s *SessionClock) Terminate(ctx context.Context) {
	s.expire(ctx, core.ReasonTerminated, nil)
}

// RemainingMinutes returns whole minutes, rounded up, until the earlier of
// the two horizons. It is 0 when no session is active.
func (s *SessionClock) RemainingMinutes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remainingMinutesLocked(s.deps.Clock.Now())
}

// State returns a snapshot of the current session
func (s *SessionClock) State() core.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Wait blocks until background heartbeat and logout calls have returned
func (s *SessionClock) Wait() {
	s.bg.Wait()
}

func (s *SessionClock) remainingMinutesLocked(now time.Time) int {
	if !s.state.IsActive() {
		return 0
	}

	deadline := s.state.LastActivity.Add(s.cfg.Timeout)
	if s.state.AbsoluteExpiry.Before(deadline) {
		deadline = s.state.AbsoluteExpiry
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Minute - 1) / time.Minute)
}

// armIdleLocked schedules the warning and inactivity timers as if idle had
// already elapsed since the last activity
func (s *SessionClock) armIdleLocked(idle time.Duration) {
	s.gen++
	gen := s.gen

	if s.cfg.WarningBefore > 0 {
		s.warning = s.deps.Clock.AfterFunc(s.cfg.Timeout-s.cfg.WarningBefore-idle, func() {
			s.fireWarning(gen)
		})
	}
	s.inactivity = s.deps.Clock.AfterFunc(s.cfg.Timeout-idle, func() {
		s.expire(context.Background(), core.ReasonInactivity, func() bool { return s.gen == gen })
	})
}

func (s *SessionClock) armAbsoluteLocked(now time.Time) {
	epoch := s.epoch
	s.absolute = s.deps.Clock.AfterFunc(s.state.AbsoluteExpiry.Sub(now), func() {
		s.expire(context.Background(), core.ReasonAbsolute, func() bool { return s.epoch == epoch })
	})
}

func (s *SessionClock) fireWarning(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state.State != core.StateActive {
		s.mu.Unlock()
		return
	}
	s.state.State = core.StateWarned
	remaining := s.remainingMinutesLocked(s.deps.Clock.Now())
	state := s.state
	onWarning := s.onWarning
	s.mu.Unlock()

	s.deps.Logger.Info("session_warning", "session_id", state.ID, "minutes_remaining", remaining)
	s.deps.publish(context.Background(), core.Event{Type: core.EventSessionWarning, SessionID: state.ID, UserID: state.UserID})

	if onWarning != nil {
		onWarning(remaining)
	}
}

// expire ends the active session for reason. current is evaluated under the
// lock and lets a timer bail out if it no longer belongs to the live session.
func (s *SessionClock) expire(ctx context.Context, reason core.ExpiryReason, current func() bool) bool {
	s.mu.Lock()
	if !s.state.IsActive() || (current != nil && !current()) {
		s.mu.Unlock()
		return false
	}
	finish := s.endLocked(ctx, reason)
	s.mu.Unlock()

	finish()
	return true
}

// endLocked marks the session expired and wipes its tokens and record. The
// returned func reports the expiry and must be called after unlocking.
func (s *SessionClock) endLocked(ctx context.Context, reason core.ExpiryReason) func() {
	s.state.State = core.StateExpired
	s.stopTimersLocked()
	if s.onEnded != nil {
		s.onEnded()
	}

	state := s.state
	pair, hasTokens := s.deps.Tokens.Get(ctx)
	if err := s.deps.Tokens.Clear(ctx); err != nil {
		s.deps.Logger.Error("token_clear_failed", "session_id", state.ID, "err", err)
	}
	if err := s.deps.Sessions.Delete(ctx); err != nil {
		s.deps.Logger.Error("session_delete_failed", "session_id", state.ID, "err", err)
	}
	onExpired := s.onExpired

	return func() {
		if hasTokens {
			s.background(func(ctx context.Context) {
				if err := s.deps.Gateway.Logout(ctx, pair); err != nil {
					s.deps.Logger.Warn("logout_failed", "session_id", state.ID, "err", err)
				}
			})
		}

		s.deps.Metrics.SessionExpired(reason)
		s.deps.publish(ctx, core.Event{Type: core.EventSessionExpired, SessionID: state.ID, UserID: state.UserID, Reason: reason})
		s.deps.Logger.Info("session_expired", "session_id", state.ID, "user_id", state.UserID, "reason", reason)

		if onExpired != nil {
			onExpired(reason)
		}
	}
}

func (s *SessionClock) background(fn func(ctx context.Context)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *SessionClock) stopTimersLocked() {
	stopTimer(s.warning)
	stopTimer(s.inactivity)
	stopTimer(s.absolute)
	s.warning, s.inactivity, s.absolute = nil, nil, nil
}

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}
