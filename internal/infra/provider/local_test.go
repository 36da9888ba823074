package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
)

type captureMailer struct {
	mu     sync.Mutex
	verify map[string]string
	reset  map[string]string
	sent   int
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{
		verify: make(map[string]string),
		reset:  make(map[string]string),
	}
}

func (m *captureMailer) SendVerification(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verify[email] = code
	m.sent++
	return nil
}

func (m *captureMailer) SendPasswordReset(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset[email] = code
	m.sent++
	return nil
}

func (m *captureMailer) verifyCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verify[email]
}

func (m *captureMailer) resetCode(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reset[email]
}

func (m *captureMailer) deliveries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func newTestLocalProvider(t *testing.T) (*LocalProvider, *captureMailer) {
	t.Helper()

	cfg := config.LocalSettings{
		Issuer:           "authd-test",
		SigningSecret:    "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  24 * time.Hour,
		MinPasswordScore: 2,
	}
	// Minimal legal Argon2 parameters keep hashing fast in tests.
	hash := config.Argon2Settings{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	p, err := NewLocalProvider(cfg, hash, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}

	mailer := newCaptureMailer()
	p.WithMailer(mailer)
	return p, mailer
}

const (
	strongPassword  = "glacier-Verdant-82-maple"
	rotatedPassword = "quantum-Harbor-19-lilac"
)

func TestLocalProvider_SignUpThenSignIn(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	user, pair, err := p.SignUp(ctx, "Nora@Example.com", strongPassword, "Nora")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.Email != "nora@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.DisplayName != "Nora" {
		t.Fatalf("unexpected display name %q", user.DisplayName)
	}
	if !pair.Valid() {
		t.Fatalf("minted pair is not valid: %+v", pair)
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type %q", pair.TokenType)
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	again, pair2, err := p.SignIn(ctx, "nora@example.com", strongPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if again.ID != user.ID {
		t.Fatalf("sign-in resolved a different user: %s vs %s", again.ID, user.ID)
	}
	if pair2.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a fresh refresh token per sign-in")
	}
}

func TestLocalProvider_SignUpRejectsWeakPassword(t *testing.T) {
	p, _ := newTestLocalProvider(t)

	_, _, err := p.SignUp(context.Background(), "weak@example.com", "password123", "")
	if !errors.Is(err, port.ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestLocalProvider_SignUpRejectsDuplicateEmail(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	if _, _, err := p.SignUp(ctx, "dupe@example.com", strongPassword, ""); err != nil {
		t.Fatalf("first SignUp: %v", err)
	}

	_, _, err := p.SignUp(ctx, "  Dupe@Example.COM ", rotatedPassword, "")
	if !errors.Is(err, port.ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
}

func TestLocalProvider_SignInRejectsBadCredentials(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	if _, _, err := p.SignUp(ctx, "val@example.com", strongPassword, ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if _, _, err := p.SignIn(ctx, "val@example.com", "not-the-password-1"); !errors.Is(err, port.ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := p.SignIn(ctx, "ghost@example.com", strongPassword); !errors.Is(err, port.ErrInvalidCredentials) {
		t.Fatalf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLocalProvider_RefreshRotatesGrant(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	_, pair, err := p.SignUp(ctx, "rot@example.com", strongPassword, "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	next, err := p.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if next.AccessToken == pair.AccessToken {
		t.Fatal("access token was not reminted")
	}

	if _, err := p.Refresh(ctx, pair.RefreshToken); !errors.Is(err, port.ErrInvalidToken) {
		t.Fatalf("consumed token: expected ErrInvalidToken, got %v", err)
	}
	if _, err := p.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("rotated token should refresh: %v", err)
	}
}

func TestLocalProvider_RefreshRejectsExpiredGrant(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	current := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	p.WithClock(func() time.Time { return current })

	_, pair, err := p.SignUp(ctx, "stale@example.com", strongPassword, "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	current = current.Add(25 * time.Hour)

	if _, err := p.Refresh(ctx, pair.RefreshToken); !errors.Is(err, port.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired grant, got %v", err)
	}
}

func TestLocalProvider_PasswordResetFlow(t *testing.T) {
	p, mailer := newTestLocalProvider(t)
	ctx := context.Background()

	_, pair, err := p.SignUp(ctx, "reset@example.com", strongPassword, "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	if err := p.SendPasswordReset(ctx, "reset@example.com"); err != nil {
		t.Fatalf("SendPasswordReset: %v", err)
	}
	code := mailer.resetCode("reset@example.com")
	if code == "" {
		t.Fatal("no reset code delivered")
	}

	if err := p.ConfirmPasswordReset(ctx, code, rotatedPassword); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	if _, _, err := p.SignIn(ctx, "reset@example.com", strongPassword); !errors.Is(err, port.ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
	if _, _, err := p.SignIn(ctx, "reset@example.com", rotatedPassword); err != nil {
		t.Fatalf("new password should sign in: %v", err)
	}

	// The reset revoked every grant issued before it.
	if _, err := p.Refresh(ctx, pair.RefreshToken); !errors.Is(err, port.ErrInvalidToken) {
		t.Fatalf("pre-reset refresh token should be revoked, got %v", err)
	}

	if err := p.ConfirmPasswordReset(ctx, code, strongPassword); !errors.Is(err, port.ErrInvalidToken) {
		t.Fatalf("reset code should be single use, got %v", err)
	}
}

func TestLocalProvider_PasswordResetUnknownEmail(t *testing.T) {
	p, _ := newTestLocalProvider(t)

	err := p.SendPasswordReset(context.Background(), "nobody@example.com")
	if !errors.Is(err, port.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLocalProvider_EmailVerificationFlow(t *testing.T) {
	p, mailer := newTestLocalProvider(t)
	ctx := context.Background()

	user, _, err := p.SignUp(ctx, "verify@example.com", strongPassword, "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if user.EmailVerified {
		t.Fatal("new accounts start unverified")
	}

	if err := p.SendVerificationEmail(ctx, "verify@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail: %v", err)
	}
	code := mailer.verifyCode("verify@example.com")
	if code == "" {
		t.Fatal("no verification code delivered")
	}

	if err := p.ConfirmEmailVerification(ctx, code); err != nil {
		t.Fatalf("ConfirmEmailVerification: %v", err)
	}

	current, _, err := p.CurrentCredential(ctx)
	if err != nil {
		t.Fatalf("CurrentCredential: %v", err)
	}
	if current == nil || !current.EmailVerified {
		t.Fatalf("current credential should reflect verification: %+v", current)
	}

	// Verified accounts do not get another code.
	before := mailer.deliveries()
	if err := p.SendVerificationEmail(ctx, "verify@example.com"); err != nil {
		t.Fatalf("SendVerificationEmail on verified account: %v", err)
	}
	if mailer.deliveries() != before {
		t.Fatal("verified account should not receive a code")
	}
}

func TestLocalProvider_AuthChangeFanOut(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		changes []port.AuthChange
	)
	unsubscribe := p.OnAuthChange(func(change port.AuthChange) {
		mu.Lock()
		changes = append(changes, change)
		mu.Unlock()
	})

	if _, _, err := p.SignUp(ctx, "fan@example.com", strongPassword, ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	unsubscribe()

	if _, _, err := p.SignIn(ctx, "fan@example.com", strongPassword); err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(changes))
	}
	if changes[0].User == nil || changes[0].Tokens == nil {
		t.Fatal("sign-in change should carry user and tokens")
	}
	if changes[1].User != nil || changes[1].Tokens != nil {
		t.Fatal("sign-out change should carry nils")
	}
}

func TestLocalProvider_CurrentCredentialLifecycle(t *testing.T) {
	p, _ := newTestLocalProvider(t)
	ctx := context.Background()

	user, _, err := p.CurrentCredential(ctx)
	if err != nil || user != nil {
		t.Fatalf("expected no credential before sign-in, got %+v err %v", user, err)
	}

	if _, _, err := p.SignUp(ctx, "cur@example.com", strongPassword, ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	user, pair, err := p.CurrentCredential(ctx)
	if err != nil {
		t.Fatalf("CurrentCredential: %v", err)
	}
	if user == nil || pair == nil {
		t.Fatal("expected credential after sign-in")
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	user, _, err = p.CurrentCredential(ctx)
	if err != nil || user != nil {
		t.Fatalf("expected no credential after sign-out, got %+v err %v", user, err)
	}
}

func TestLocalProvider_FederatedSignInRejected(t *testing.T) {
	p, _ := newTestLocalProvider(t)

	_, _, err := p.SignInFederated(context.Background(), "upstream-id-token")
	if !errors.Is(err, port.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
