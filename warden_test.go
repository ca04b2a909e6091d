package warden

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/config"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/internal/authtest"
)

func testConfig(upstream, driver string) *config.Config {
	return &config.Config{
		Env: "local",
		Upstream: config.UpstreamConfig{
			AuthURL: upstream,
			APIURL:  upstream,
			Timeout: 5 * time.Second,
		},
		Session: config.SessionConfig{
			Timeout:        30 * time.Minute,
			WarningBefore:  5 * time.Minute,
			MaxDuration:    12 * time.Hour,
			RefreshTimeout: 5 * time.Second,
		},
		Store: config.StoreConfig{Driver: driver},
	}
}

func newWarden(t *testing.T, cfg *config.Config) *Warden {
	t.Helper()
	w, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, w.Close()) })
	return w
}

func TestWarden_HTTPClient(t *testing.T) {
	auth := authtest.NewServer()
	defer auth.Close()

	w := newWarden(t, testConfig(auth.URL, config.DriverMemory))

	_, err := w.Login(context.Background(), core.Credentials{Username: authtest.Username, Password: authtest.Password})
	require.NoError(t, err)
	assert.Equal(t, 30, w.RemainingMinutes())

	auth.ExpireAccessTokens()

	resp, err := w.HTTPClient().Get(auth.URL + "/api/profile")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, authtest.UserID, body.UserID)
	assert.EqualValues(t, 1, auth.Refreshes.Load())
}

func TestWarden_Router(t *testing.T) {
	auth := authtest.NewServer()
	defer auth.Close()

	w := newWarden(t, testConfig(auth.URL, config.DriverMemory))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session/login", strings.NewReader(`{"username":"alice","password":"s3cret"}`))
	req.Header.Set("Content-Type", "application/json")
	w.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	w.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, auth.APICalls.Load())

	rec = httptest.NewRecorder()
	w.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWarden_ResumesFromBadger(t *testing.T) {
	auth := authtest.NewServer()
	defer auth.Close()

	cfg := testConfig(auth.URL, config.DriverBadger)
	cfg.Store.Dir = t.TempDir()

	first, err := New(cfg, nil)
	require.NoError(t, err)
	result, err := first.Login(context.Background(), core.Credentials{Username: authtest.Username, Password: authtest.Password})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newWarden(t, cfg)
	resumed, err := second.Resume(context.Background())
	require.NoError(t, err)
	require.True(t, resumed)
	assert.Equal(t, result.SessionID, second.Session().ID)

	resp, err := second.HTTPClient().Get(auth.URL + "/api/items")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig("http://localhost", "etcd")
	_, err := New(cfg, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg = testConfig("http://localhost", config.DriverMemory)
	cfg.Session.WarningBefore = cfg.Session.Timeout
	_, err = New(cfg, nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
