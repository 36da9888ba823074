package port

import (
	"context"
	"errors"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
)

// Provider rejection sentinels. Adapters normalise their native failures onto
// these so the orchestrator can translate through one fixed code table.
var (
	// ErrInvalidCredentials indicates the identifier/password pair was rejected.
	ErrInvalidCredentials = errors.New("identity provider: invalid credentials")
	// ErrUserDisabled indicates the account is administratively disabled.
	ErrUserDisabled = errors.New("identity provider: user disabled")
	// ErrEmailInUse indicates a signup collision on the email address.
	ErrEmailInUse = errors.New("identity provider: email already in use")
	// ErrWeakPassword indicates the password failed the provider's policy.
	ErrWeakPassword = errors.New("identity provider: weak password")
	// ErrRateLimited indicates the provider throttled the caller.
	ErrRateLimited = errors.New("identity provider: rate limited")
	// ErrInvalidToken indicates a refresh or reset credential was rejected.
	ErrInvalidToken = errors.New("identity provider: invalid token")
	// ErrProviderUnavailable indicates a provider-side failure (5xx class).
	ErrProviderUnavailable = errors.New("identity provider: unavailable")
)

// ProviderUser is the provider's view of a signed-in identity.
type ProviderUser struct {
	ID            string
	Email         string
	DisplayName   string
	AvatarURL     string
	EmailVerified bool
	Method        domain.AuthMethod
}

// AuthChange is delivered to subscribers on sign-in/sign-out transitions.
// User and Tokens are set on sign-in and nil on sign-out.
type AuthChange struct {
	User   *ProviderUser
	Tokens *domain.TokenData
}

// UnsubscribeFunc detaches an auth change listener.
type UnsubscribeFunc func()

// IdentityProvider is the opaque capability set of the external
// authentication backend: password and federated login, signup, logout,
// current-credential retrieval, credential refresh, account mail flows, and a
// subscription for asynchronous sign-in/sign-out notifications.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*ProviderUser, *domain.TokenData, error)
	SignUp(ctx context.Context, email, password, displayName string) (*ProviderUser, *domain.TokenData, error)
	SignInFederated(ctx context.Context, credential string) (*ProviderUser, *domain.TokenData, error)
	SignOut(ctx context.Context) error
	CurrentCredential(ctx context.Context) (*ProviderUser, *domain.TokenData, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenData, error)
	SendVerificationEmail(ctx context.Context, email string) error
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, code string, newPassword string) error
	OnAuthChange(handler func(AuthChange)) UnsubscribeFunc
}
