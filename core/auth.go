package core

import "time"

// TokenPair holds the credentials issued by the auth server
type TokenPair struct {
	AccessToken  string    // Short-lived bearer credential
	RefreshToken string    // Credential used solely to obtain a new access token
	ExpiresAt    time.Time // When the access token expires, zero if unknown
}

// IsZero reports whether the pair carries no access token
func (p TokenPair) IsZero() bool {
	return p.AccessToken == ""
}

// Credentials are the login inputs passed through to the auth server
type Credentials struct {
	Username string
	Password string
}

// LoginResponse is what the auth server returns for a successful login
type LoginResponse struct {
	Tokens                TokenPair
	UserID                string
	RequiresPasswordReset bool
}

// LoginResult is the caller-facing outcome of a login
type LoginResult struct {
	UserID                string
	SessionID             string
	RequiresPasswordReset bool
}
