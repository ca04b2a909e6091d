package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const sessionKey = "session"

// sessionRecord is the persisted form of an active session
type sessionRecord struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	StartedAtMs      int64  `json:"started_at_ms"`
	LastActivityMs   int64  `json:"last_activity_ms"`
	AbsoluteExpiryMs int64  `json:"absolute_expiry_ms"`
}

// SessionStore keeps the active session record in a KV backend
type SessionStore struct {
	kv     ports.KV
	logger *slog.Logger
}

// NewSessionStore creates a session store over kv
func NewSessionStore(kv ports.KV, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{kv: kv, logger: logger}
}

var _ ports.SessionStore = (*SessionStore)(nil)

// Load returns the persisted session. Missing or corrupt records are absent.
func (s *SessionStore) Load(ctx context.Context) (core.SessionState, bool) {
	data, err := s.kv.Get(ctx, sessionKey)
	if err != nil {
		if !errors.Is(err, core.ErrKeyNotFound) {
			s.logger.Warn("session_store_read_failed", "err", err)
		}
		return core.SessionState{}, false
	}

	var rec sessionRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.UserID == "" || rec.AbsoluteExpiryMs == 0 {
		s.logger.Warn("session_store_record_corrupt", "err", err)
		return core.SessionState{}, false
	}

	return core.SessionState{
		ID:             rec.ID,
		UserID:         rec.UserID,
		StartedAt:      time.UnixMilli(rec.StartedAtMs),
		LastActivity:   time.UnixMilli(rec.LastActivityMs),
		AbsoluteExpiry: time.UnixMilli(rec.AbsoluteExpiryMs),
		State:          core.StateActive,
	}, true
}

// Save overwrites the persisted session
func (s *SessionStore) Save(ctx context.Context, state core.SessionState) error {
	data, err := json.Marshal(sessionRecord{
		ID:               state.ID,
		UserID:           state.UserID,
		StartedAtMs:      state.StartedAt.UnixMilli(),
		LastActivityMs:   state.LastActivity.UnixMilli(),
		AbsoluteExpiryMs: state.AbsoluteExpiry.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.kv.Set(ctx, sessionKey, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Delete removes the persisted session
func (s *SessionStore) Delete(ctx context.Context) error {
	if err := s.kv.Delete(ctx, sessionKey); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
