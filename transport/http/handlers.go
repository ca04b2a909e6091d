package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// SessionHandlers contains HTTP handlers for the session endpoints
type SessionHandlers struct {
	manager *service.Manager
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(manager *service.Manager) *SessionHandlers {
	return &SessionHandlers{
		manager: manager,
	}
}

// StatusResponse describes the current session
type StatusResponse struct {
	State            string     `json:"state"`
	UserID           string     `json:"user_id,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	AbsoluteExpiry   *time.Time `json:"absolute_expiry,omitempty"`
}

// Login handles the login request
func (h *SessionHandlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := h.manager.Login(c.Request.Context(), core.Credentials{Username: req.Username, Password: req.Password})
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Login failed"

		switch {
		case errors.Is(err, core.ErrInvalidCredentials):
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid credentials"
		case errors.Is(err, core.ErrAccountLocked):
			statusCode = http.StatusLocked
			errorMsg = "Account locked"
		case errors.Is(err, core.ErrGatewayUnavailable), errors.Is(err, core.ErrMalformedResponse):
			statusCode = http.StatusBadGateway
			errorMsg = "Auth server unavailable"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":                 result.UserID,
		"session_id":              result.SessionID,
		"requires_password_reset": result.RequiresPasswordReset,
	})
}

// Logout ends the session. It succeeds even without an active session.
func (h *SessionHandlers) Logout(c *gin.Context) {
	h.manager.Terminate(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Activity records user activity and returns the new remaining time
func (h *SessionHandlers) Activity(c *gin.Context) {
	if !h.manager.RecordActivity(c.Request.Context()) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No active session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"remaining_minutes": h.manager.RemainingMinutes(),
	})
}

// Status returns the current session state
func (h *SessionHandlers) Status(c *gin.Context) {
	session := h.manager.Session()

	resp := StatusResponse{
		State:            session.State.String(),
		UserID:           session.UserID,
		RemainingMinutes: h.manager.RemainingMinutes(),
	}
	if session.IsActive() {
		resp.StartedAt = &session.StartedAt
		resp.AbsoluteExpiry = &session.AbsoluteExpiry
	}

	c.JSON(http.StatusOK, resp)
}
