package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const tokenKey = "tokens"

// tokenRecord is the persisted form of a token pair
type tokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAtMs  int64  `json:"expires_at_ms,omitempty"`
}

// TokenStore keeps the token pair in a KV backend and caches it in memory
// once loaded, so reads do not reach the backend in steady state.
type TokenStore struct {
	kv     ports.KV
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	pair   core.TokenPair
}

// NewTokenStore creates a token store over kv
func NewTokenStore(kv ports.KV, logger *slog.Logger) *TokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenStore{kv: kv, logger: logger}
}

var _ ports.TokenStore = (*TokenStore)(nil)

// Get returns the current pair. A missing, unreadable or corrupt record is
// reported as absent.
func (s *TokenStore) Get(ctx context.Context) (core.TokenPair, bool) {
	s.mu.RLock()
	if s.loaded {
		pair := s.pair
		s.mu.RUnlock()
		return pair, !pair.IsZero()
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.load(ctx)
	}
	return s.pair, !s.pair.IsZero()
}

// load reads the record from the backend. Caller holds mu.
func (s *TokenStore) load(ctx context.Context) {
	data, err := s.kv.Get(ctx, tokenKey)
	switch {
	case errors.Is(err, core.ErrKeyNotFound):
		s.loaded = true
		return
	case err != nil:
		// Backend trouble is retried on the next Get
		s.logger.Warn("token_store_read_failed", "err", err)
		return
	}

	s.loaded = true
	pair, err := decodeTokens(data)
	if err != nil {
		s.logger.Warn("token_store_record_corrupt", "err", err)
		return
	}
	s.pair = pair
}

// Set overwrites the stored pair. The in-memory value is updated even when
// the backend write fails.
func (s *TokenStore) Set(ctx context.Context, pair core.TokenPair) error {
	data, err := encodeTokens(pair)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = pair
	s.loaded = true

	if err := s.kv.Set(ctx, tokenKey, data); err != nil {
		return fmt.Errorf("failed to persist tokens: %w", err)
	}
	return nil
}

// Clear removes the stored pair
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pair = core.TokenPair{}
	s.loaded = true

	if err := s.kv.Delete(ctx, tokenKey); err != nil && !errors.Is(err, core.ErrKeyNotFound) {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

func encodeTokens(pair core.TokenPair) ([]byte, error) {
	rec := tokenRecord{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if !pair.ExpiresAt.IsZero() {
		rec.ExpiresAtMs = pair.ExpiresAt.UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tokens: %w", err)
	}
	return data, nil
}

func decodeTokens(data []byte) (core.TokenPair, error) {
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to decode tokens: %w", err)
	}
	if rec.AccessToken == "" {
		return core.TokenPair{}, errors.New("record has no access token")
	}

	pair := core.TokenPair{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}
	if rec.ExpiresAtMs > 0 {
		pair.ExpiresAt = time.UnixMilli(rec.ExpiresAtMs)
	}
	return pair, nil
}
