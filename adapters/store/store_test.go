package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/stretchr/testify/require"
)

// flakyKV fails every operation while broken is set and counts reads
type flakyKV struct {
	*MemoryKV
	broken atomic.Bool
	reads  atomic.Int32
}

var errBackendDown = errors.New("backend down")

func newFlakyKV() *flakyKV {
	return &flakyKV{MemoryKV: NewMemoryKV()}
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	f.reads.Add(1)
	if f.broken.Load() {
		return nil, errBackendDown
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.broken.Load() {
		return errBackendDown
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	if f.broken.Load() {
		return errBackendDown
	}
	return f.MemoryKV.Delete(ctx, key)
}

func samplePair() core.TokenPair {
	return core.TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.UnixMilli(1735725600000),
	}
}

func TestMemoryKV_GetSetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()

	_, err := kv.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrKeyNotFound)

	value := []byte("v1")
	require.NoError(t, kv.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestTokenStore_EmptyIsAbsent(t *testing.T) {
	t.Parallel()

	s := NewTokenStore(NewMemoryKV(), nil)
	_, ok := s.Get(context.Background())
	require.False(t, ok)
}

func TestTokenStore_SetGetClear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()
	s := NewTokenStore(kv, nil)

	require.NoError(t, s.Set(ctx, samplePair()))
	got, ok := s.Get(ctx)
	require.True(t, ok)
	require.Equal(t, samplePair().AccessToken, got.AccessToken)
	require.Equal(t, samplePair().RefreshToken, got.RefreshToken)
	require.True(t, samplePair().ExpiresAt.Equal(got.ExpiresAt))

	// A second store over the same backend sees the persisted pair
	reloaded, ok := NewTokenStore(kv, nil).Get(ctx)
	require.True(t, ok)
	require.Equal(t, "access-1", reloaded.AccessToken)

	require.NoError(t, s.Clear(ctx))
	_, ok = s.Get(ctx)
	require.False(t, ok)
	_, err := kv.Get(ctx, tokenKey)
	require.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestTokenStore_CorruptRecordIsAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	for name, blob := range map[string]string{
		"not json":        "{{{",
		"no access token": `{"refresh_token":"r"}`,
		"wrong types":     `{"access_token":42}`,
	} {
		blob := blob
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			kv := NewMemoryKV()
			require.NoError(t, kv.Set(ctx, tokenKey, []byte(blob)))

			s := NewTokenStore(kv, nil)
			_, ok := s.Get(ctx)
			require.False(t, ok)

			// A later Set repairs the record
			require.NoError(t, s.Set(ctx, samplePair()))
			_, ok = NewTokenStore(kv, nil).Get(ctx)
			require.True(t, ok)
		})
	}
}

func TestTokenStore_CachesAfterFirstLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newFlakyKV()
	s := NewTokenStore(kv, nil)
	require.NoError(t, s.Set(ctx, samplePair()))

	for i := 0; i < 10; i++ {
		_, ok := s.Get(ctx)
		require.True(t, ok)
	}
	require.Zero(t, kv.reads.Load())
}

func TestTokenStore_BackendReadFailureIsRetried(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newFlakyKV()
	require.NoError(t, NewTokenStore(kv, nil).Set(ctx, samplePair()))

	s := NewTokenStore(kv, nil)
	kv.broken.Store(true)
	_, ok := s.Get(ctx)
	require.False(t, ok)

	kv.broken.Store(false)
	_, ok = s.Get(ctx)
	require.True(t, ok)
}

func TestTokenStore_SetKeepsMemoryValueWhenBackendFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := newFlakyKV()
	s := NewTokenStore(kv, nil)
	kv.broken.Store(true)

	err := s.Set(ctx, samplePair())
	require.ErrorIs(t, err, errBackendDown)

	got, ok := s.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "access-1", got.AccessToken)

	require.ErrorIs(t, s.Clear(ctx), errBackendDown)
	_, ok = s.Get(ctx)
	require.False(t, ok)
}

func TestSessionStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewSessionStore(NewMemoryKV(), nil)

	_, ok := s.Load(ctx)
	require.False(t, ok)

	started := time.UnixMilli(1735722000000)
	state := core.SessionState{
		ID:             "sess-1",
		UserID:         "user-1",
		StartedAt:      started,
		LastActivity:   started.Add(10 * time.Minute),
		AbsoluteExpiry: started.Add(12 * time.Hour),
		State:          core.StateWarned,
	}
	require.NoError(t, s.Save(ctx, state))

	got, ok := s.Load(ctx)
	require.True(t, ok)
	require.Equal(t, "sess-1", got.ID)
	require.Equal(t, "user-1", got.UserID)
	require.True(t, state.StartedAt.Equal(got.StartedAt))
	require.True(t, state.LastActivity.Equal(got.LastActivity))
	require.True(t, state.AbsoluteExpiry.Equal(got.AbsoluteExpiry))
	require.Equal(t, core.StateActive, got.State)

	require.NoError(t, s.Delete(ctx))
	_, ok = s.Load(ctx)
	require.False(t, ok)
}

func TestSessionStore_CorruptRecordIsAbsent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Set(ctx, sessionKey, []byte(`{"id":"x"}`)))

	_, ok := NewSessionStore(kv, nil).Load(ctx)
	require.False(t, ok)
}
