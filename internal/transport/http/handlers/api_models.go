package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/transport/http/middleware"
)

// ErrorResponse is the uniform error payload for the control API.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponse builds an error payload tagged with the request's
// correlation ID.
func NewErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{
		Error:     message,
		RequestID: middleware.GetRequestID(c),
	}
}

// MessageResponse is a minimal acknowledgment payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest carries password credentials plus the requested persistence
// mode ("durable", "ephemeral", or "none"; unknown values fall back to
// durable).
type LoginRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	Persistence string `json:"persistence"`
}

// SignupRequest carries the fields for account creation.
type SignupRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
	Persistence string `json:"persistence"`
}

// FederatedLoginRequest carries an opaque federated credential (for example
// an ID token obtained from an external provider flow).
type FederatedLoginRequest struct {
	Credential  string `json:"credential" binding:"required"`
	Persistence string `json:"persistence"`
}

// VerificationEmailRequest asks the provider to send a verification email.
type VerificationEmailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetRequest starts the password recovery flow.
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// PasswordResetConfirmRequest completes the recovery flow with the emailed
// code and the replacement password.
type PasswordResetConfirmRequest struct {
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// AuthSessionResponse is returned by login and signup: the established
// session plus the credential pair that was stored for it.
type AuthSessionResponse struct {
	Session *domain.SessionData `json:"session"`
	Tokens  *domain.TokenData   `json:"tokens,omitempty"`
}

// RefreshResponse carries the pair minted by a forced refresh.
type RefreshResponse struct {
	Tokens *domain.TokenData `json:"tokens"`
}

// SessionStatusResponse reports the derived session status and, when one is
// tracked and alive, the session record itself.
type SessionStatusResponse struct {
	Status  string              `json:"status"`
	Session *domain.SessionData `json:"session,omitempty"`
}

// ErrorView is the serializable projection of a tagged auth error.
type ErrorView struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	Timestamp   time.Time `json:"timestamp"`
}

// StateView is the serializable projection of the orchestrator state.
type StateView struct {
	Status                string              `json:"status"`
	Mode                  string              `json:"mode"`
	Loading               bool                `json:"loading"`
	Busy                  bool                `json:"busy"`
	EmailVerified         bool                `json:"emailVerified"`
	VerificationEmailSent bool                `json:"verificationEmailSent"`
	Session               *domain.SessionData `json:"session,omitempty"`
	LastError             *ErrorView          `json:"lastError,omitempty"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

func newErrorView(err *domain.AuthError) *ErrorView {
	if err == nil {
		return nil
	}
	return &ErrorView{
		Code:        string(err.Code),
		Message:     err.Message,
		Recoverable: err.Recoverable,
		Timestamp:   err.Timestamp,
	}
}

func newStateView(state domain.AuthState) StateView {
	return StateView{
		Status:                string(state.Status),
		Mode:                  string(state.Mode),
		Loading:               state.Loading,
		Busy:                  state.Busy,
		EmailVerified:         state.EmailVerified,
		VerificationEmailSent: state.VerificationEmailSent,
		Session:               state.Session,
		LastError:             newErrorView(state.LastError),
		UpdatedAt:             state.UpdatedAt,
	}
}
