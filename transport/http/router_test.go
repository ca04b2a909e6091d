package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/internal/authtest"
)

func (s *stack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_Login(t *testing.T) {
	s := newStack(t)
	s.auth.AddAccount("bob", "hunter2", "user-bob", true)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"missing fields", map[string]string{"username": "alice"}, http.StatusBadRequest},
		{"wrong password", map[string]string{"username": "alice", "password": "nope"}, http.StatusUnauthorized},
		{"locked account", map[string]string{"username": "bob", "password": "hunter2"}, http.StatusLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/session/login", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, decodeJSON(t, w), "error")
		})
	}

	w := s.do(t, http.MethodPost, "/session/login", map[string]string{"username": authtest.Username, "password": authtest.Password})
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeJSON(t, w)
	assert.Equal(t, authtest.UserID, out["user_id"])
	assert.Equal(t, false, out["requires_password_reset"])
	assert.NotEmpty(t, out["session_id"])
}

func TestRouter_SessionLifecycle(t *testing.T) {
	s := newStack(t)

	w := s.do(t, http.MethodGet, "/session/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeJSON(t, w)
	assert.Equal(t, "unstarted", status["state"])
	assert.NotContains(t, status, "started_at")

	w = s.do(t, http.MethodPost, "/session/activity", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.EqualValues(t, 0, s.auth.APICalls.Load())

	w = s.do(t, http.MethodPost, "/session/login", map[string]string{"username": authtest.Username, "password": authtest.Password})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/session/status", nil)
	status = decodeJSON(t, w)
	assert.Equal(t, "active", status["state"])
	assert.Equal(t, authtest.UserID, status["user_id"])
	assert.EqualValues(t, 30, status["remaining_minutes"])
	assert.Contains(t, status, "absolute_expiry")

	w = s.do(t, http.MethodPost, "/session/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 30, decodeJSON(t, w)["remaining_minutes"])

	w = s.do(t, http.MethodPost, "/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	s.manager.Close()
	assert.EqualValues(t, 1, s.auth.Logouts.Load())

	w = s.do(t, http.MethodGet, "/session/status", nil)
	assert.Equal(t, "expired", decodeJSON(t, w)["state"])

	w = s.do(t, http.MethodPost, "/session/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_ProxiesAPI(t *testing.T) {
	s := newStack(t)
	s.login(t)

	w := s.do(t, http.MethodGet, "/api/items", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decodeJSON(t, w)
	assert.Equal(t, "/items", out["path"])
	assert.Equal(t, s.accessToken(t), out["token"])

	s.auth.ExpireAccessTokens()

	w = s.do(t, http.MethodPost, "/api/orders", map[string]int{"qty": 2})
	require.Equal(t, http.StatusOK, w.Code)
	out = decodeJSON(t, w)
	assert.Equal(t, "{\"qty\":2}\n", out["body"])
	assert.Equal(t, s.accessToken(t), out["token"])
	assert.EqualValues(t, 1, s.auth.Refreshes.Load())
}

func TestRouter_ProxyRefreshFailure(t *testing.T) {
	s := newStack(t)
	s.login(t)
	s.auth.ExpireAccessTokens()
	s.auth.FailRefresh("refresh_token_expired")

	w := s.do(t, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Session expired", decodeJSON(t, w)["error"])

	w = s.do(t, http.MethodGet, "/session/status", nil)
	assert.Equal(t, "expired", decodeJSON(t, w)["state"])

	w = s.do(t, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "No active session", decodeJSON(t, w)["error"])
}

func TestRouter_Metrics(t *testing.T) {
	s := newStack(t)
	s.login(t)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "warden_session_started_total 1"))
}

func TestBufferBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	require.NoError(t, bufferBody(req))
	require.NotNil(t, req.GetBody)

	for i := 0; i < 2; i++ {
		body, err := req.GetBody()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(body)
		require.NoError(t, err)
		assert.Equal(t, "hello", buf.String())
	}

	big := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, MaxReplayBody+1)))
	assert.ErrorIs(t, bufferBody(big), errBodyTooLarge)
}
