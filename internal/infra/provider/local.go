package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/infra/logger"
	"github.com/mohabh15/studio-sub000/internal/infra/security"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultRefreshTokenTTL = 168 * time.Hour
	resetCodeTTL           = 15 * time.Minute
	verifyCodeTTL          = 24 * time.Hour
	minPasswordLength      = 8
)

// Mailer delivers account mail (verification and password reset codes).
type Mailer interface {
	SendVerification(ctx context.Context, email, code string) error
	SendPasswordReset(ctx context.Context, email, code string) error
}

// logMailer prints codes instead of delivering mail. It is the default
// delivery channel for local development deployments.
type logMailer struct {
	logger *zap.Logger
}

func (m *logMailer) SendVerification(_ context.Context, email, code string) error {
	m.logger.Info("verification code issued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("code", code))
	return nil
}

func (m *logMailer) SendPasswordReset(_ context.Context, email, code string) error {
	m.logger.Info("password reset code issued",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("code", code))
	return nil
}

type localUser struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	EmailVerified bool
	Disabled      bool
	CreatedAt     time.Time
}

// refreshGrant tracks one live opaque refresh token, keyed by its SHA-256
// hash. Grants rotate on every use.
type refreshGrant struct {
	UserID    string
	ExpiresAt time.Time
}

type mailGrant struct {
	Email     string
	ExpiresAt time.Time
}

// LocalProvider is a self-contained identity backend: users live in an
// in-process directory, passwords are stored as Argon2id hashes, access
// tokens are HS256 JWTs, and refresh tokens are opaque values rotated on
// every refresh.
type LocalProvider struct {
	cfg       config.LocalSettings
	logger    *zap.Logger
	mailer    Mailer
	validator *security.PasswordValidator
	now       func() time.Time

	mu          sync.Mutex
	users       map[string]*localUser
	refreshes   map[string]refreshGrant
	resets      map[string]mailGrant
	verifies    map[string]mailGrant
	current     *port.ProviderUser
	currentPair *domain.TokenData
	handlers    map[int]func(port.AuthChange)
	nextHandle  int
}

// NewLocalProvider builds the in-process identity backend. The Argon2
// parameters are applied globally before any password is hashed.
func NewLocalProvider(cfg config.LocalSettings, hash config.Argon2Settings, log *zap.Logger) (*LocalProvider, error) {
	if strings.TrimSpace(cfg.SigningSecret) == "" {
		return nil, fmt.Errorf("local provider: signing secret is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	if hash.Memory > 0 {
		err := security.ConfigureArgon2(security.Argon2Config{
			Memory:      hash.Memory,
			Iterations:  hash.Iterations,
			Parallelism: hash.Parallelism,
			SaltLength:  hash.SaltLength,
			KeyLength:   hash.KeyLength,
		})
		if err != nil {
			return nil, fmt.Errorf("local provider: %w", err)
		}
	}

	p := &LocalProvider{
		cfg:    cfg,
		logger: log,
		mailer: &logMailer{logger: log},
		validator: security.NewPasswordValidator(
			security.MinLengthRule(minPasswordLength),
			security.RequirePasswordStrengthRule(cfg.MinPasswordScore),
		),
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[string]*localUser),
		refreshes: make(map[string]refreshGrant),
		resets:    make(map[string]mailGrant),
		verifies:  make(map[string]mailGrant),
		handlers:  make(map[int]func(port.AuthChange)),
	}
	return p, nil
}

// WithMailer overrides the mail delivery channel.
func (p *LocalProvider) WithMailer(m Mailer) *LocalProvider {
	if m != nil {
		p.mailer = m
	}
	return p
}

// WithClock overrides the time source.
func (p *LocalProvider) WithClock(clock func() time.Time) *LocalProvider {
	if clock != nil {
		p.now = clock
	}
	return p
}

// SignIn authenticates an email/password pair and mints a credential pair.
func (p *LocalProvider) SignIn(_ context.Context, email, password string) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	user, ok := p.users[normalizeEmail(email)]
	if !ok {
		p.mu.Unlock()
		return nil, nil, port.ErrInvalidCredentials
	}
	if user.Disabled {
		p.mu.Unlock()
		return nil, nil, port.ErrUserDisabled
	}

	match, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("local provider: verify password: %w", err)
	}
	if !match {
		p.mu.Unlock()
		return nil, nil, port.ErrInvalidCredentials
	}

	pu, pair, err := p.issueLocked(user, domain.AuthMethodPassword)
	p.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	p.emit(port.AuthChange{User: &pu, Tokens: &pair})
	return &pu, &pair, nil
}

// SignUp registers a new account, enforcing the password policy, and signs
// the new user in.
func (p *LocalProvider) SignUp(_ context.Context, email, password, displayName string) (*port.ProviderUser, *domain.TokenData, error) {
	key := normalizeEmail(email)
	if key == "" {
		return nil, nil, port.ErrInvalidCredentials
	}

	if err := p.validator.Validate(password); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", port.ErrWeakPassword, err)
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return nil, nil, fmt.Errorf("local provider: hash password: %w", err)
	}

	p.mu.Lock()
	if _, exists := p.users[key]; exists {
		p.mu.Unlock()
		return nil, nil, port.ErrEmailInUse
	}

	user := &localUser{
		ID:           uuid.NewString(),
		Email:        key,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
		CreatedAt:    p.now(),
	}
	p.users[key] = user

	pu, pair, err := p.issueLocked(user, domain.AuthMethodPassword)
	p.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	p.emit(port.AuthChange{User: &pu, Tokens: &pair})
	return &pu, &pair, nil
}

// SignInFederated is not served by the local directory.
func (p *LocalProvider) SignInFederated(_ context.Context, _ string) (*port.ProviderUser, *domain.TokenData, error) {
	return nil, nil, fmt.Errorf("%w: federated sign-in requires the oidc provider", port.ErrInvalidCredentials)
}

// SignOut drops the current credential and revokes the user's refresh grants.
func (p *LocalProvider) SignOut(_ context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return nil
	}
	userID := p.current.ID
	p.current = nil
	p.currentPair = nil
	for hash, grant := range p.refreshes {
		if grant.UserID == userID {
			delete(p.refreshes, hash)
		}
	}
	p.mu.Unlock()

	p.emit(port.AuthChange{})
	return nil
}

// CurrentCredential returns the signed-in user and pair, or nils when no
// credential is held.
func (p *LocalProvider) CurrentCredential(_ context.Context) (*port.ProviderUser, *domain.TokenData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || p.currentPair == nil {
		return nil, nil, nil
	}
	user := *p.current
	pair := *p.currentPair
	return &user, &pair, nil
}

// Refresh exchanges a live refresh token for a fresh pair. The presented
// token is consumed: a second use of it fails.
func (p *LocalProvider) Refresh(_ context.Context, refreshToken string) (*domain.TokenData, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, port.ErrInvalidToken
	}

	hash := security.HashToken(refreshToken)

	p.mu.Lock()
	grant, ok := p.refreshes[hash]
	if !ok {
		p.mu.Unlock()
		return nil, port.ErrInvalidToken
	}
	if !grant.ExpiresAt.After(p.now()) {
		delete(p.refreshes, hash)
		p.mu.Unlock()
		return nil, port.ErrInvalidToken
	}

	user := p.userByIDLocked(grant.UserID)
	if user == nil {
		delete(p.refreshes, hash)
		p.mu.Unlock()
		return nil, port.ErrInvalidToken
	}
	if user.Disabled {
		delete(p.refreshes, hash)
		p.mu.Unlock()
		return nil, port.ErrUserDisabled
	}

	delete(p.refreshes, hash)
	method := domain.AuthMethodPassword
	if p.current != nil && p.current.ID == user.ID {
		method = p.current.Method
	}
	_, pair, err := p.issueLocked(user, method)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return &pair, nil
}

// SendVerificationEmail issues a verification code for the address.
func (p *LocalProvider) SendVerificationEmail(ctx context.Context, email string) error {
	key := normalizeEmail(email)

	p.mu.Lock()
	user, ok := p.users[key]
	if !ok {
		p.mu.Unlock()
		return port.ErrInvalidCredentials
	}
	if user.EmailVerified {
		p.mu.Unlock()
		return nil
	}

	code, err := security.GenerateNumericCode(6)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("local provider: generate code: %w", err)
	}
	p.verifies[security.HashToken(code)] = mailGrant{Email: key, ExpiresAt: p.now().Add(verifyCodeTTL)}
	p.mu.Unlock()

	return p.mailer.SendVerification(ctx, key, code)
}

// ConfirmEmailVerification marks the account behind the code as verified.
func (p *LocalProvider) ConfirmEmailVerification(_ context.Context, code string) error {
	hash := security.HashToken(strings.TrimSpace(code))

	p.mu.Lock()
	defer p.mu.Unlock()

	grant, ok := p.verifies[hash]
	if !ok || !grant.ExpiresAt.After(p.now()) {
		delete(p.verifies, hash)
		return port.ErrInvalidToken
	}
	delete(p.verifies, hash)

	user, ok := p.users[grant.Email]
	if !ok {
		return port.ErrInvalidToken
	}
	user.EmailVerified = true
	if p.current != nil && p.current.ID == user.ID {
		p.current.EmailVerified = true
	}
	return nil
}

// SendPasswordReset issues a reset code for the address.
func (p *LocalProvider) SendPasswordReset(ctx context.Context, email string) error {
	key := normalizeEmail(email)

	p.mu.Lock()
	if _, ok := p.users[key]; !ok {
		p.mu.Unlock()
		return port.ErrInvalidCredentials
	}

	code, err := security.GenerateNumericCode(6)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("local provider: generate code: %w", err)
	}
	p.resets[security.HashToken(code)] = mailGrant{Email: key, ExpiresAt: p.now().Add(resetCodeTTL)}
	p.mu.Unlock()

	return p.mailer.SendPasswordReset(ctx, key, code)
}

// ConfirmPasswordReset replaces the password behind a live reset code and
// revokes every refresh grant the account holds.
func (p *LocalProvider) ConfirmPasswordReset(_ context.Context, code, newPassword string) error {
	if err := p.validator.Validate(newPassword); err != nil {
		return fmt.Errorf("%w: %v", port.ErrWeakPassword, err)
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("local provider: hash password: %w", err)
	}

	codeHash := security.HashToken(strings.TrimSpace(code))

	p.mu.Lock()
	defer p.mu.Unlock()

	grant, ok := p.resets[codeHash]
	if !ok || !grant.ExpiresAt.After(p.now()) {
		delete(p.resets, codeHash)
		return port.ErrInvalidToken
	}
	delete(p.resets, codeHash)

	user, ok := p.users[grant.Email]
	if !ok {
		return port.ErrInvalidToken
	}
	user.PasswordHash = hash

	for tokenHash, g := range p.refreshes {
		if g.UserID == user.ID {
			delete(p.refreshes, tokenHash)
		}
	}
	return nil
}

// OnAuthChange registers a sign-in/sign-out listener.
func (p *LocalProvider) OnAuthChange(handler func(port.AuthChange)) port.UnsubscribeFunc {
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

// issueLocked mints a credential pair for the user and records it as the
// current credential. Callers hold p.mu and emit the auth change after
// unlocking.
func (p *LocalProvider) issueLocked(user *localUser, method domain.AuthMethod) (port.ProviderUser, domain.TokenData, error) {
	now := p.now()

	accessTTL := p.cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTokenTTL
	}
	refreshTTL := p.cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTokenTTL
	}

	expiresAt := now.Add(accessTTL)
	claims := accessClaims{
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    p.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.SigningSecret))
	if err != nil {
		return port.ProviderUser{}, domain.TokenData{}, fmt.Errorf("local provider: sign access token: %w", err)
	}

	refresh, err := security.GenerateSecureToken(32)
	if err != nil {
		return port.ProviderUser{}, domain.TokenData{}, fmt.Errorf("local provider: generate refresh token: %w", err)
	}
	p.refreshes[security.HashToken(refresh)] = refreshGrant{UserID: user.ID, ExpiresAt: now.Add(refreshTTL)}

	pu := port.ProviderUser{
		ID:            user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		EmailVerified: user.EmailVerified,
		Method:        method,
	}
	pair := domain.TokenData{
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpirationTime: expiresAt,
		IssuedAt:       now,
		TokenType:      "Bearer",
	}

	current := pu
	currentPair := pair
	p.current = &current
	p.currentPair = &currentPair

	return pu, pair, nil
}

// accessClaims is the HS256 access token payload.
type accessClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

func (p *LocalProvider) userByIDLocked(id string) *localUser {
	for _, u := range p.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// emit fans an auth change out to subscribers outside the provider lock.
func (p *LocalProvider) emit(change port.AuthChange) {
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

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ port.IdentityProvider = (*LocalProvider)(nil)
