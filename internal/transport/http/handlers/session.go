package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// SessionHandler exposes session inspection and lifetime control.
type SessionHandler struct {
	auth     *usecase.AuthService
	sessions *usecase.SessionService
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(auth *usecase.AuthService, sessions *usecase.SessionService) *SessionHandler {
	return &SessionHandler{auth: auth, sessions: sessions}
}

// Current handles GET /api/v1/session. It always answers 200; absence of a
// session is reported through the status field, not an error status.
func (h *SessionHandler) Current(c *gin.Context) {
	ctx := c.Request.Context()

	response := SessionStatusResponse{
		Status: string(h.sessions.Status(ctx)),
	}
	if session := h.sessions.Current(ctx); session != nil {
		response.Session = session
	}

	c.JSON(http.StatusOK, response)
}

// UpdateActivity handles POST /api/v1/session/activity. The inactivity clock
// restarts; expiry of the tracked session is detected on the way.
func (h *SessionHandler) UpdateActivity(c *gin.Context) {
	h.auth.UpdateActivity(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// Extend handles POST /api/v1/session/extend, resetting the inactivity clock
// without recording user activity.
func (h *SessionHandler) Extend(c *gin.Context) {
	if err := h.auth.ExtendSession(c.Request.Context()); err != nil {
		RespondWithAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Destroy handles DELETE /api/v1/session. It tears down the session and the
// stored credential, same as a logout.
func (h *SessionHandler) Destroy(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context()); err != nil {
		RespondWithAuthError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
