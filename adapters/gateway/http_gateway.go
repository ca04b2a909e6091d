package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const (
	loginPath     = "/auth/login"
	refreshPath   = "/auth/refresh"
	logoutPath    = "/auth/logout"
	heartbeatPath = "/auth/heartbeat"

	errCodeRefreshExpired = "refresh_token_expired"
)

// LoginRequest is the body of a login call
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of a refresh call
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest is the body of a logout call
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// HeartbeatRequest is the body of a heartbeat call
type HeartbeatRequest struct {
	UserID string `json:"user_id"`
}

// TokenResponse is returned by login and refresh
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	ExpiresIn             int64  `json:"expires_in,omitempty"` // seconds
	UserID                string `json:"user_id,omitempty"`
	RequiresPasswordReset bool   `json:"requires_password_reset,omitempty"`
}

// ErrorResponse is the body of a failed call
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPGateway implements AuthGateway against the auth server's REST endpoints
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	tokens  ports.TokenStore
	now     func() time.Time
}

// NewHTTPGateway creates a gateway for the auth server at baseURL. The client
// must not be the authorizing transport, or refresh calls would recurse.
// tokens supplies the bearer for heartbeats.
func NewHTTPGateway(baseURL string, client *http.Client, tokens ports.TokenStore) *HTTPGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		now:     time.Now,
	}
}

var _ ports.AuthGateway = (*HTTPGateway)(nil)

// Login exchanges credentials for a token pair
func (g *HTTPGateway) Login(ctx context.Context, creds core.Credentials) (core.LoginResponse, error) {
	var resp TokenResponse
	status, errCode, err := g.post(ctx, loginPath, "", LoginRequest{Username: creds.Username, Password: creds.Password}, &resp)
	if err != nil {
		return core.LoginResponse{}, fmt.Errorf("login: %w", err)
	}

	switch {
	case status == http.StatusOK && resp.AccessToken != "":
	case status == http.StatusOK:
		return core.LoginResponse{}, fmt.Errorf("login: response has no access token: %w", core.ErrGatewayUnavailable)
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return core.LoginResponse{}, fmt.Errorf("login: %s: %w", describe(status, errCode), core.ErrInvalidCredentials)
	case status == http.StatusForbidden || status == http.StatusLocked:
		return core.LoginResponse{}, fmt.Errorf("login: %s: %w", describe(status, errCode), core.ErrAccountLocked)
	default:
		return core.LoginResponse{}, fmt.Errorf("login: %s: %w", describe(status, errCode), core.ErrGatewayUnavailable)
	}

	userID := resp.UserID
	if userID == "" {
		userID = subjectOf(resp.AccessToken)
	}

	return core.LoginResponse{
		Tokens:                g.pairFrom(resp, ""),
		UserID:                userID,
		RequiresPasswordReset: resp.RequiresPasswordReset,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. If the server does not
// rotate the refresh token, the old one is kept.
func (g *HTTPGateway) Refresh(ctx context.Context, refreshToken string) (core.TokenPair, error) {
	var resp TokenResponse
	status, errCode, err := g.post(ctx, refreshPath, "", RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("refresh: %w", err)
	}

	switch {
	case status == http.StatusOK && resp.AccessToken != "":
		return g.pairFrom(resp, refreshToken), nil
	case status == http.StatusOK:
		return core.TokenPair{}, fmt.Errorf("refresh: response has no access token: %w", core.ErrRefreshTokenInvalid)
	case status >= 500:
		return core.TokenPair{}, fmt.Errorf("refresh: %s: %w", describe(status, errCode), core.ErrGatewayUnavailable)
	case errCode == errCodeRefreshExpired:
		return core.TokenPair{}, fmt.Errorf("refresh: %s: %w", describe(status, errCode), core.ErrRefreshTokenExpired)
	default:
		return core.TokenPair{}, fmt.Errorf("refresh: %s: %w", describe(status, errCode), core.ErrRefreshTokenInvalid)
	}
}

// Logout invalidates the given tokens on the server
func (g *HTTPGateway) Logout(ctx context.Context, tokens core.TokenPair) error {
	status, errCode, err := g.post(ctx, logoutPath, tokens.AccessToken, LogoutRequest{RefreshToken: tokens.RefreshToken}, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("logout: %s", describe(status, errCode))
	}
	return nil
}

// Heartbeat reports activity for userID
func (g *HTTPGateway) Heartbeat(ctx context.Context, userID string) error {
	var bearer string
	if g.tokens != nil {
		if pair, ok := g.tokens.Get(ctx); ok {
			bearer = pair.AccessToken
		}
	}

	status, errCode, err := g.post(ctx, heartbeatPath, bearer, HeartbeatRequest{UserID: userID}, nil)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if status >= 300 {
		return fmt.Errorf("heartbeat: %s", describe(status, errCode))
	}
	return nil
}

func (g *HTTPGateway) pairFrom(resp TokenResponse, previousRefresh string) core.TokenPair {
	pair := core.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = previousRefresh
	}
	if resp.ExpiresIn > 0 {
		pair.ExpiresAt = g.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		pair.ExpiresAt = expiryOf(resp.AccessToken)
	}
	return pair
}

// post sends body as JSON and decodes a 200 response into out. It returns the
// status and, for failed calls, the server's error code. Transport failures
// wrap core.ErrGatewayUnavailable.
func (g *HTTPGateway) post(ctx context.Context, path, bearer string, body, out any) (int, string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", core.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", fmt.Errorf("%w: read response: %v", core.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		return resp.StatusCode, errResp.Error, nil
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return 0, "", fmt.Errorf("%w: decode response: %v", core.ErrGatewayUnavailable, err)
		}
	}
	return resp.StatusCode, "", nil
}

func describe(status int, errCode string) string {
	if errCode == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d (%s)", status, errCode)
}
