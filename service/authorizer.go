package service

import (
	"net/http"
	"strings"

	"github.com/layer-3/warden/ports"
)

const bearerPrefix = "Bearer "

// Authorizer attaches the current access token to outbound requests
type Authorizer struct {
	tokens ports.TokenStore
}

// NewAuthorizer creates an authorizer reading from tokens
func NewAuthorizer(tokens ports.TokenStore) *Authorizer {
	return &Authorizer{tokens: tokens}
}

// Authorize returns a copy of req carrying the access token as a bearer
// credential. Without a stored token req is returned unmodified.
func (a *Authorizer) Authorize(req *http.Request) *http.Request {
	pair, ok := a.tokens.Get(req.Context())
	if !ok {
		return req
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", bearerPrefix+pair.AccessToken)
	return out
}

// BearerToken returns the bearer credential carried by req, if any
func BearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return ""
	}
	return strings.TrimPrefix(auth, bearerPrefix)
}
