// Package authtest provides an in-process auth server for tests. It speaks the
// same REST contract as the real auth server and guards /api routes with
// bearer access tokens.
package authtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Default test account
const (
	Username = "alice"
	Password = "s3cret"
	UserID   = "user-alice"
)

var signingKey = []byte("authtest-signing-key")

type account struct {
	password string
	userID   string
	locked   bool
}

// Server is a fake auth server plus a protected API
type Server struct {
	URL string

	httpServer *httptest.Server

	mu           sync.Mutex
	accounts     map[string]account
	access       map[string]bool // issued access tokens, true while valid
	refresh      map[string]string
	refreshError string
	refreshGate  chan struct{}
	rejectAPI    bool

	Logins     atomic.Int32
	Refreshes  atomic.Int32
	Logouts    atomic.Int32
	Heartbeats atomic.Int32
	APICalls   atomic.Int32
}

// NewServer starts a server with the default account. Close it when done.
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		accounts: map[string]account{
			Username: {password: Password, userID: UserID},
		},
		access:  make(map[string]bool),
		refresh: make(map[string]string),
	}

	router := gin.New()
	auth := router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin)
		auth.POST("/refresh", s.handleRefresh)
		auth.POST("/logout", s.handleLogout)
		auth.POST("/heartbeat", s.handleHeartbeat)
	}

	api := router.Group("/api")
	api.Use(s.authMiddleware())
	{
		api.Any("/*path", s.handleAPI)
	}

	s.httpServer = httptest.NewServer(router)
	s.URL = s.httpServer.URL
	return s
}

// Close shuts the server down
func (s *Server) Close() {
	s.httpServer.Close()
}

// AddAccount registers another account
func (s *Server) AddAccount(username, password, userID string, locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[username] = account{password: password, userID: userID, locked: locked}
}

// ExpireAccessTokens makes every issued access token fail with 401
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token := range s.access {
		s.access[token] = false
	}
}

// FailRefresh makes refresh calls fail with the given error code, "" restores them
func (s *Server) FailRefresh(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshError = code
}

// HoldRefresh blocks refresh calls until the returned function is called
func (s *Server) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.refreshGate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.refreshGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

// RejectAPI makes /api reject every token, including freshly issued ones
func (s *Server) RejectAPI(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAPI = reject
}

// IssuedAccessTokens returns how many access tokens have been minted
func (s *Server) IssuedAccessTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.access)
}

func (s *Server) handleLogin(c *gin.Context) {
	s.Logins.Add(1)

	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()

	switch {
	case !ok || acc.password != req.Password:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	case acc.locked:
		c.JSON(http.StatusLocked, gin.H{"error": "account_locked"})
		return
	}

	access, refresh := s.issue(acc.userID)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"user_id":       acc.userID,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	s.Refreshes.Add(1)

	s.mu.Lock()
	gate := s.refreshGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	failure := s.refreshError
	userID, ok := s.refresh[req.RefreshToken]
	if ok && failure == "" {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()

	switch {
	case failure == "unavailable":
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": failure})
		return
	case failure != "":
		c.JSON(http.StatusUnauthorized, gin.H{"error": failure})
		return
	case !ok:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_refresh_token"})
		return
	}

	access, refresh := s.issue(userID)
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    300,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.Logouts.Add(1)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)

	s.mu.Lock()
	delete(s.refresh, req.RefreshToken)
	if token := bearer(c); token != "" {
		s.access[token] = false
	}
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	s.Heartbeats.Add(1)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAPI(c *gin.Context) {
	s.APICalls.Add(1)
	body, _ := c.GetRawData()
	c.JSON(http.StatusOK, gin.H{
		"path":    c.Param("path"),
		"user_id": c.GetString("user_id"),
		"token":   bearer(c),
		"body":    string(body),
	})
}

// authMiddleware rejects requests without a currently valid access token
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header is required"})
			return
		}

		s.mu.Lock()
		valid := s.access[token] && !s.rejectAPI
		s.mu.Unlock()
		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return signingKey, nil
		}); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.Subject)
		c.Next()
	}
}

func (s *Server) issue(userID string) (string, string) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	refresh := uuid.NewString()

	s.mu.Lock()
	s.access[access] = true
	s.refresh[refresh] = userID
	s.mu.Unlock()

	return access, refresh
}

func bearer(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
