package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// newErrorResponse creates an error response tagged with the correlation ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:     errorMsg,
		RequestID: GetRequestID(c),
	}
}

// RequireSession gates an endpoint on the caller holding the current access
// token. The token is taken from the Authorization header, falling back to
// the credential cookie, and compared in constant time against the stored
// pair.
func RequireSession(tokens *usecase.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented, errMsg := presentedAccessToken(c)
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, errMsg))
			return
		}

		pair := tokens.Read(c.Request.Context())
		if pair == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "no active credential"))
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(pair.AccessToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid access token"))
			return
		}

		c.Next()
	}
}

// presentedAccessToken extracts the access token from the request. The second
// return value carries the rejection message when no token is found.
func presentedAccessToken(c *gin.Context) (string, string) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if cookie, err := c.Cookie(usecase.CookieAccessToken); err == nil && cookie != "" {
			return cookie, ""
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "invalid authorization format: expected 'Bearer <token>'"
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "missing access token"
	}
	return token, ""
}
