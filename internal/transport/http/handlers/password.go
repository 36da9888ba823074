package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// PasswordHandler exposes the email verification and password recovery
// flows.
type PasswordHandler struct {
	auth *usecase.AuthService
}

// NewPasswordHandler constructs a PasswordHandler.
func NewPasswordHandler(auth *usecase.AuthService) *PasswordHandler {
	return &PasswordHandler{auth: auth}
}

// SendVerificationEmail handles POST /api/v1/auth/verification-email.
func (h *PasswordHandler) SendVerificationEmail(c *gin.Context) {
	var req VerificationEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	if err := h.auth.SendVerificationEmail(c.Request.Context(), req.Email); err != nil {
		RespondWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "verification email sent"})
}

// RequestReset handles POST /api/v1/auth/password-reset/request. Unknown
// addresses get the same acknowledgment as known ones so the endpoint cannot
// be used to enumerate accounts; provider outages still surface as 503.
func (h *PasswordHandler) RequestReset(c *gin.Context) {
	var req PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	if err := h.auth.SendPasswordReset(c.Request.Context(), req.Email); err != nil {
		if tagged := domain.AsAuthError(err); tagged.Code != domain.CodeInvalidCredentials {
			RespondWithAuthError(c, err)
			return
		}
	}

	c.JSON(http.StatusAccepted, MessageResponse{Message: "password reset email sent"})
}

// ConfirmReset handles POST /api/v1/auth/password-reset/confirm.
func (h *PasswordHandler) ConfirmReset(c *gin.Context) {
	var req PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	if err := h.auth.ConfirmPasswordReset(c.Request.Context(), req.Code, req.NewPassword); err != nil {
		RespondWithAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
