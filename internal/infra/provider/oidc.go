package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
)

// ErrUpstreamManaged marks operations the upstream issuer owns end to end:
// password sign-in, account creation, and account mail flows.
var ErrUpstreamManaged = errors.New("oidc provider: managed by the upstream issuer")

const defaultUpstreamTokenTTL = time.Hour

// OIDCProvider federates authentication to an upstream OpenID Connect
// issuer. Sign-in exchanges an authorization code at the token endpoint,
// verifies the returned ID token, and adopts the upstream token pair.
// Refresh goes back to the token endpoint with the stored refresh token.
type OIDCProvider struct {
	cfg           config.OIDCSettings
	logger        *zap.Logger
	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	revocationURL string
	now           func() time.Time

	mu          sync.Mutex
	current     *port.ProviderUser
	currentPair *domain.TokenData
	handlers    map[int]func(port.AuthChange)
	nextHandle  int
}

// NewOIDCProvider runs issuer discovery and builds the federated adapter.
func NewOIDCProvider(ctx context.Context, cfg config.OIDCSettings, log *zap.Logger) (*OIDCProvider, error) {
	if strings.TrimSpace(cfg.IssuerURL) == "" {
		return nil, fmt.Errorf("oidc provider: issuer url is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("oidc provider: client id is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	upstream, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: discover %s: %w", cfg.IssuerURL, err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
	}

	var extra struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	_ = upstream.Claims(&extra)

	return &OIDCProvider{
		cfg:    cfg,
		logger: log,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     upstream.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		verifier:      upstream.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		revocationURL: extra.RevocationEndpoint,
		now:           func() time.Time { return time.Now().UTC() },
		handlers:      make(map[int]func(port.AuthChange)),
	}, nil
}

// WithClock overrides the time source.
func (p *OIDCProvider) WithClock(clock func() time.Time) *OIDCProvider {
	if clock != nil {
		p.now = clock
	}
	return p
}

// SignIn is not served on federated deployments; passwords live upstream.
func (p *OIDCProvider) SignIn(_ context.Context, _, _ string) (*port.ProviderUser, *domain.TokenData, error) {
	return nil, nil, fmt.Errorf("%w: password sign-in", ErrUpstreamManaged)
}

// SignUp is not served; accounts are created at the upstream issuer.
func (p *OIDCProvider) SignUp(_ context.Context, _, _, _ string) (*port.ProviderUser, *domain.TokenData, error) {
	return nil, nil, fmt.Errorf("%w: account creation", ErrUpstreamManaged)
}

// SignInFederated exchanges an authorization code for the upstream token
// response, verifies the ID token it carries, and records the credential.
func (p *OIDCProvider) SignInFederated(ctx context.Context, credential string) (*port.ProviderUser, *domain.TokenData, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, nil, port.ErrInvalidCredentials
	}

	token, err := p.oauth.Exchange(ctx, credential)
	if err != nil {
		return nil, nil, classifyUpstreamErr(err, port.ErrInvalidCredentials)
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		return nil, nil, fmt.Errorf("%w: token response carried no id token", port.ErrInvalidCredentials)
	}

	idToken, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: id token rejected: %v", port.ErrInvalidCredentials, err)
	}

	user, err := federatedUser(idToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", port.ErrInvalidCredentials, err)
	}

	if token.RefreshToken == "" {
		return nil, nil, fmt.Errorf("%w: no refresh token granted (offline access missing)", port.ErrInvalidCredentials)
	}

	pair := pairFromUpstream(token, "", p.now())

	p.mu.Lock()
	current := user
	currentPair := pair
	p.current = &current
	p.currentPair = &currentPair
	p.mu.Unlock()

	p.emit(port.AuthChange{User: &user, Tokens: &pair})
	return &user, &pair, nil
}

// SignOut drops the current credential and best-effort revokes the refresh
// token upstream.
func (p *OIDCProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil
	}
	var refresh string
	if p.currentPair != nil {
		refresh = p.currentPair.RefreshToken
	}
	p.current = nil
	p.currentPair = nil
	p.mu.Unlock()

	p.revokeUpstream(ctx, refresh)
	p.emit(port.AuthChange{})
	return nil
}

// CurrentCredential returns the signed-in user and pair, or nils when no
// credential is held.
func (p *OIDCProvider) CurrentCredential(_ context.Context) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.currentPair == nil {
		return nil, nil, nil
	}
	user := *p.current
	pair := *p.currentPair
	return &user, &pair, nil
}

// Refresh exchanges the refresh token at the upstream token endpoint. Issuers
// that do not rotate refresh tokens keep the presented one in place.
func (p *OIDCProvider) Refresh(ctx context.Context, refreshToken string) (*domain.TokenData, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, port.ErrInvalidToken
	}

	token, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyUpstreamErr(err, port.ErrInvalidToken)
	}

	pair := pairFromUpstream(token, refreshToken, p.now())

	if rawID, ok := token.Extra("id_token").(string); ok && rawID != "" {
		if idToken, verr := p.verifier.Verify(ctx, rawID); verr == nil {
			if user, uerr := federatedUser(idToken); uerr == nil {
				p.mu.Lock()
				if p.current != nil && p.current.ID == user.ID {
					p.current = &user
				}
				p.mu.Unlock()
			}
		} else {
			p.logger.Warn("refreshed id token failed verification", zap.Error(verr))
		}
	}

	p.mu.Lock()
	if p.current != nil {
		refreshed := pair
		p.currentPair = &refreshed
	}
	p.mu.Unlock()

	return &pair, nil
}

// SendVerificationEmail is managed by the upstream issuer.
func (p *OIDCProvider) SendVerificationEmail(_ context.Context, _ string) error {
	return fmt.Errorf("%w: verification email", ErrUpstreamManaged)
}

// SendPasswordReset is managed by the upstream issuer.
func (p *OIDCProvider) SendPasswordReset(_ context.Context, _ string) error {
	return fmt.Errorf("%w: password reset", ErrUpstreamManaged)
}

// ConfirmPasswordReset is managed by the upstream issuer.
func (p *OIDCProvider) ConfirmPasswordReset(_ context.Context, _, _ string) error {
	return fmt.Errorf("%w: password reset", ErrUpstreamManaged)
}

// OnAuthChange registers a sign-in/sign-out listener.
func (p *OIDCProvider) OnAuthChange(handler func(port.AuthChange)) port.UnsubscribeFunc {
	if handler == nil {
		return func() {}
	}

	p.mu.Lock()
	id := p.nextHandle
	p.nextHandle++
	p.handlers[id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *OIDCProvider) emit(change port.AuthChange) {
	p.mu.Lock()
	handlers := make([]func(port.AuthChange), 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(change)
	}
}

// revokeUpstream posts the refresh token to the discovered revocation
// endpoint. Failures are logged, never surfaced: local teardown proceeds.
func (p *OIDCProvider) revokeUpstream(ctx context.Context, refreshToken string) {
	if p.revocationURL == "" || refreshToken == "" {
		return
	}

	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {p.cfg.ClientID},
		"client_secret":   {p.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		p.logger.Warn("upstream token revocation failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		p.logger.Warn("upstream token revocation rejected", zap.Int("status", resp.StatusCode))
	}
}

// federatedUser maps verified ID token claims onto the provider user shape.
func federatedUser(idToken *oidc.IDToken) (port.ProviderUser, error) {
	var claims struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return port.ProviderUser{}, fmt.Errorf("extract claims: %w", err)
	}
	if claims.Sub == "" {
		return port.ProviderUser{}, fmt.Errorf("id token missing sub claim")
	}

	return port.ProviderUser{
		ID:            claims.Sub,
		Email:         normalizeEmail(claims.Email),
		DisplayName:   claims.Name,
		AvatarURL:     claims.Picture,
		EmailVerified: claims.EmailVerified,
		Method:        domain.AuthMethodFederated,
	}, nil
}

// pairFromUpstream adapts an upstream token response. fallbackRefresh keeps
// the presented refresh token when the issuer does not rotate.
func pairFromUpstream(t *oauth2.Token, fallbackRefresh string, now time.Time) domain.TokenData {
	refresh := t.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	expiry := t.Expiry.UTC()
	if t.Expiry.IsZero() {
		expiry = now.Add(defaultUpstreamTokenTTL)
	}

	return domain.TokenData{
		AccessToken:    t.AccessToken,
		RefreshToken:   refresh,
		ExpirationTime: expiry,
		IssuedAt:       now,
		TokenType:      tokenType,
	}
}

// classifyUpstreamErr maps token endpoint failures onto port sentinels: 4xx
// responses are rejections, everything else is provider unavailability.
func classifyUpstreamErr(err error, rejection error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%w: %v", rejection, err)
	}
	return fmt.Errorf("%w: %v", port.ErrProviderUnavailable, err)
}

var _ port.IdentityProvider = (*OIDCProvider)(nil)
