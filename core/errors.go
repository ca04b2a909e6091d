package core

import "errors"

var (
	ErrKeyNotFound   = errors.New("key not found")
	ErrInvalidConfig = errors.New("invalid session configuration")

	// Gateway errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountLocked       = errors.New("account locked")
	ErrRefreshTokenInvalid = errors.New("refresh token is invalid")
	ErrRefreshTokenExpired = errors.New("refresh token has expired")
	ErrGatewayUnavailable  = errors.New("auth gateway unavailable")
	ErrMalformedResponse   = errors.New("malformed auth gateway response")

	// Refresh coordination errors
	ErrNoSession                = errors.New("no active session")
	ErrNoRefreshToken           = errors.New("no refresh token present")
	ErrRefreshFailed            = errors.New("token refresh failed")
	ErrUnauthorizedAfterRefresh = errors.New("request unauthorized after token refresh")
	ErrRequestNotReplayable     = errors.New("request body cannot be replayed")
)
