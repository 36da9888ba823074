package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/usecase"
)

// AuthHandler exposes the credential lifecycle over HTTP. Besides the JSON
// payloads it mirrors the stored pair onto response cookies so browser-based
// callers stay in sync with the daemon's cookie tier.
type AuthHandler struct {
	auth    *usecase.AuthService
	tokens  *usecase.TokenService
	cookies config.CookieSettings
	logger  *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, tokens *usecase.TokenService, cookies config.CookieSettings, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthHandler{
		auth:    auth,
		tokens:  tokens,
		cookies: cookies,
		logger:  logger,
	}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	session, err := h.auth.Login(c.Request.Context(), usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Mode:     domain.ParsePersistenceMode(req.Persistence),
	})
	if err != nil {
		RespondWithAuthError(c, err)
		return
	}

	pair := h.tokens.Read(c.Request.Context())
	h.writeTokenCookies(c, pair)

	c.JSON(http.StatusOK, AuthSessionResponse{Session: session, Tokens: pair})
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	session, err := h.auth.Signup(c.Request.Context(), usecase.SignupInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Mode:        domain.ParsePersistenceMode(req.Persistence),
	})
	if err != nil {
		RespondWithAuthError(c, err)
		return
	}

	pair := h.tokens.Read(c.Request.Context())
	h.writeTokenCookies(c, pair)

	c.JSON(http.StatusCreated, AuthSessionResponse{Session: session, Tokens: pair})
}

// LoginFederated handles POST /api/v1/auth/login/federated.
func (h *AuthHandler) LoginFederated(c *gin.Context) {
	var req FederatedLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	session, err := h.auth.LoginWithFederatedProvider(
		c.Request.Context(),
		req.Credential,
		domain.ParsePersistenceMode(req.Persistence),
	)
	if err != nil {
		RespondWithAuthError(c, err)
		return
	}

	pair := h.tokens.Read(c.Request.Context())
	h.writeTokenCookies(c, pair)

	c.JSON(http.StatusOK, AuthSessionResponse{Session: session, Tokens: pair})
}

// Refresh handles POST /api/v1/auth/refresh. It forces a refresh regardless
// of how much lifetime the current pair has left.
func (h *AuthHandler) Refresh(c *gin.Context) {
	pair, err := h.auth.RefreshSession(c.Request.Context())
	if err != nil {
		RespondWithAuthError(c, err)
		return
	}

	h.writeTokenCookies(c, pair)
	c.JSON(http.StatusOK, RefreshResponse{Tokens: pair})
}

// Logout handles POST /api/v1/auth/logout. Teardown is best effort: local
// state is always cleared even when the provider sign-out fails.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.auth.Logout(c.Request.Context()); err != nil {
		RespondWithAuthError(c, err)
		return
	}

	h.clearTokenCookies(c)
	c.Status(http.StatusNoContent)
}

// Reset handles POST /api/v1/auth/reset. It wipes both storage tiers and
// reinitializes, the recovery path for corrupted persisted state.
func (h *AuthHandler) Reset(c *gin.Context) {
	if err := h.auth.Reset(c.Request.Context()); err != nil {
		RespondWithAuthError(c, err)
		return
	}

	h.clearTokenCookies(c)
	c.Status(http.StatusNoContent)
}

// State handles GET /api/v1/auth/state.
func (h *AuthHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, newStateView(h.auth.CurrentState()))
}

// Stats handles GET /api/v1/auth/stats.
func (h *AuthHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.auth.Stats())
}

// writeTokenCookies mirrors the pair onto response cookies. The token
// cookies are HttpOnly; the expiration cookie is readable so a UI can show
// remaining lifetime without touching the tokens.
func (h *AuthHandler) writeTokenCookies(c *gin.Context, pair *domain.TokenData) {
	if pair == nil {
		return
	}

	maxAge := int(time.Until(pair.ExpirationTime).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}

	h.setCookie(c, usecase.CookieAccessToken, pair.AccessToken, maxAge, true)
	h.setCookie(c, usecase.CookieRefreshToken, pair.RefreshToken, maxAge, true)
	h.setCookie(c, usecase.CookieTokenExpiration, pair.ExpirationString(), maxAge, false)
}

// clearTokenCookies expires the credential cookies on the client.
func (h *AuthHandler) clearTokenCookies(c *gin.Context) {
	h.setCookie(c, usecase.CookieAccessToken, "", -1, true)
	h.setCookie(c, usecase.CookieRefreshToken, "", -1, true)
	h.setCookie(c, usecase.CookieTokenExpiration, "", -1, false)
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	path := h.cookies.Path
	if path == "" {
		path = "/"
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.cookies.Domain,
		MaxAge:   maxAge,
		Secure:   h.cookies.Secure,
		HttpOnly: httpOnly,
		SameSite: h.cookies.SameSiteMode(),
	})
}
