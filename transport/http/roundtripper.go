package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// Session is what AuthTransport needs from the session manager
type Session interface {
	Authorize(req *http.Request) *http.Request
	Refresh(ctx context.Context, staleAccessToken string) (string, error)
}

type retriedKey struct{}

// IsRetry reports whether ctx belongs to a request replayed after a refresh
func IsRetry(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// AuthTransport authorizes outbound requests and, on a 401, refreshes the
// session once and replays the request with the new token. A replayed request
// is never refreshed again.
type AuthTransport struct {
	session Session
	base    http.RoundTripper
}

// NewAuthTransport wraps base, http.DefaultTransport when nil
func NewAuthTransport(session Session, base http.RoundTripper) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &AuthTransport{session: session, base: base}
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	authorized := t.session.Authorize(req)

	resp, err := t.base.RoundTrip(authorized)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || IsRetry(req.Context()) {
		return resp, err
	}
	discard(resp)

	retry, err := replay(req)
	if err != nil {
		return nil, err
	}

	token, err := t.session.Refresh(req.Context(), service.BearerToken(authorized))
	if err != nil {
		return nil, err
	}
	retry.Header.Set("Authorization", "Bearer "+token)

	resp, err = t.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, core.ErrUnauthorizedAfterRefresh)
	}
	return resp, nil
}

// replay clones req with a rewound body for a second attempt
func replay(req *http.Request) (*http.Request, error) {
	retry := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))

	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, core.ErrRequestNotReplayable)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retry.Body = body
	}
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
