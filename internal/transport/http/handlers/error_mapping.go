package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/transport/http/middleware"
)

// statusForCode maps tagged error codes onto HTTP status codes. Degraded
// dependencies surface as 503 so supervisors retry instead of treating the
// failure as permanent.
func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidCredentials, domain.CodeSessionInvalid, domain.CodeSessionExpired:
		return http.StatusUnauthorized
	case domain.CodeUserDisabled:
		return http.StatusForbidden
	case domain.CodeEmailInUse, domain.CodeSessionLimitExceeded:
		return http.StatusConflict
	case domain.CodeWeakPassword:
		return http.StatusBadRequest
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeNetworkTimeout, domain.CodeNetworkUnavailable,
		domain.CodeProviderUnavailable, domain.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithAuthError converts a service failure into the uniform error
// payload. Internal errors get a generic message so provider internals never
// leak to callers; the full error is already logged by the service layer.
func RespondWithAuthError(c *gin.Context, err error) {
	tagged := domain.AsAuthError(err)
	if tagged == nil {
		return
	}

	message := tagged.Message
	if tagged.Code == domain.CodeInternal {
		message = "internal error"
	}

	c.AbortWithStatusJSON(statusForCode(tagged.Code), ErrorResponse{
		Error:     message,
		Code:      string(tagged.Code),
		RequestID: middleware.GetRequestID(c),
	})
}
