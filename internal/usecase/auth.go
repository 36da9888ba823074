package usecase

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/event"
)

// LoginInput carries the credentials for a password sign-in.
type LoginInput struct {
	Email    string
	Password string
	Mode     domain.PersistenceMode
}

// SignupInput carries the fields for account creation.
type SignupInput struct {
	Email       string
	Password    string
	DisplayName string
	Mode        domain.PersistenceMode
}

// AuthStats combines the per-store diagnostic counters with the bus counters.
type AuthStats struct {
	Token   TokenStats   `json:"token"`
	Session SessionStats `json:"session"`
	Bus     event.Stats  `json:"bus"`
}

// StateHandler observes auth state snapshots.
type StateHandler func(domain.AuthState)

// AuthService orchestrates the identity provider, the session store, and the
// token store behind one state machine. Every public operation returns its
// failure as a *domain.AuthError value; nothing panics across this surface.
type AuthService struct {
	provider port.IdentityProvider
	sessions *SessionService
	tokens   *TokenService
	bus      *event.Bus
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.RWMutex
	state     domain.AuthState
	stateSubs map[event.SubscriptionID]StateHandler
	unsub     port.UnsubscribeFunc
	closed    bool
}

// NewAuthService constructs the orchestrator and subscribes to the provider's
// auth-change notifications. The state starts in loading until Initialize or
// the first provider notification resolves it.
func NewAuthService(
	provider port.IdentityProvider,
	sessions *SessionService,
	tokens *TokenService,
	bus *event.Bus,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &AuthService{
		provider:  provider,
		sessions:  sessions,
		tokens:    tokens,
		bus:       bus,
		logger:    logger,
		stateSubs: make(map[event.SubscriptionID]StateHandler),
	}
	service.now = func() time.Time { return time.Now().UTC() }
	service.state = domain.AuthState{
		Status:    domain.StatusLoading,
		Mode:      domain.PersistenceDurable,
		Loading:   true,
		UpdatedAt: service.now(),
	}
	service.unsub = provider.OnAuthChange(service.handleAuthChange)
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) *AuthService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Initialize resolves the initial loading state: a provider credential or a
// persisted session moves the machine to authenticated, anything else to
// unauthenticated. Safe to call once at startup.
func (s *AuthService) Initialize(ctx context.Context) error {
	user, pair, err := s.provider.CurrentCredential(ctx)
	if err != nil {
		s.logger.Warn("initial credential lookup failed", zap.Error(err))
	}

	if user != nil && pair != nil {
		s.establishSession(ctx, user, pair, s.currentStateMode(), false)
		return nil
	}

	if session := s.sessions.Current(ctx); session != nil && !s.tokens.IsExpired(ctx, 0) {
		s.mutateState(func(st *domain.AuthState) {
			sessionCopy := *session
			st.Session = &sessionCopy
			st.EmailVerified = session.EmailVerified
			st.Loading = false
			s.applyStatus(st, domain.StatusAuthenticated)
		})
		return nil
	}

	s.mutateState(func(st *domain.AuthState) {
		st.Session = nil
		st.Loading = false
		s.applyStatus(st, domain.StatusUnauthenticated)
	})
	return nil
}

// Login signs the user in with email and password, establishes the session
// and credential pair under the requested persistence mode, and publishes the
// login event.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.SessionData, error) {
	s.setBusy(true)
	defer s.setBusy(false)

	user, pair, err := s.provider.SignIn(ctx, input.Email, input.Password)
	if err != nil {
		return nil, s.fail(ctx, "login", input.Email, err)
	}

	session, authErr := s.establishSession(ctx, user, pair, normalizeMode(input.Mode), false)
	if authErr != nil {
		return nil, authErr
	}
	return session, nil
}

// Signup creates the account, establishes the session, requests the
// verification email, and publishes the signup event.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*domain.SessionData, error) {
	s.setBusy(true)
	defer s.setBusy(false)

	user, pair, err := s.provider.SignUp(ctx, input.Email, input.Password, input.DisplayName)
	if err != nil {
		return nil, s.fail(ctx, "signup", input.Email, err)
	}

	session, authErr := s.establishSession(ctx, user, pair, normalizeMode(input.Mode), true)
	if authErr != nil {
		return nil, authErr
	}

	if err := s.provider.SendVerificationEmail(ctx, user.Email); err != nil {
		s.logger.Warn("verification email request failed",
			zap.String("email", user.Email),
			zap.Error(err),
		)
	} else {
		s.mutateState(func(st *domain.AuthState) {
			st.VerificationEmailSent = true
		})
	}

	s.publish(domain.Event{
		Type:   domain.EventSignup,
		UserID: user.ID,
		Payload: domain.SignupPayload{
			UserID: user.ID,
			Email:  user.Email,
		},
	})
	return session, nil
}

// LoginWithFederatedProvider exchanges an external identity credential (an
// authorization code or provider assertion) for a session through the
// federated provider flow.
func (s *AuthService) LoginWithFederatedProvider(ctx context.Context, credential string, mode domain.PersistenceMode) (*domain.SessionData, error) {
	s.setBusy(true)
	defer s.setBusy(false)

	user, pair, err := s.provider.SignInFederated(ctx, credential)
	if err != nil {
		return nil, s.fail(ctx, "federated_login", "", err)
	}

	session, authErr := s.establishSession(ctx, user, pair, normalizeMode(mode), false)
	if authErr != nil {
		return nil, authErr
	}
	return session, nil
}

// Logout tears down the session and the credential pair and signs out of the
// provider. The logout event is published by the session teardown.
func (s *AuthService) Logout(ctx context.Context) error {
	s.setBusy(true)
	defer s.setBusy(false)

	if err := s.sessions.Destroy(ctx); err != nil {
		s.logger.Warn("session teardown failed during logout", zap.Error(err))
	}
	s.tokens.Clear(ctx)

	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("provider sign-out failed", zap.Error(err))
	}

	s.mutateState(func(st *domain.AuthState) {
		st.Session = nil
		st.LastError = nil
		st.Loading = false
		s.applyStatus(st, domain.StatusUnauthenticated)
	})
	return nil
}

// RefreshSession forces a credential refresh and counts it as session
// activity.
func (s *AuthService) RefreshSession(ctx context.Context) (*domain.TokenData, error) {
	s.setBusy(true)
	defer s.setBusy(false)

	pair, err := s.tokens.Refresh(ctx)
	if err != nil {
		return nil, s.fail(ctx, "refresh_session", "", err)
	}

	s.sessions.UpdateActivity(ctx)
	return pair, nil
}

// ExtendSession resets the inactivity clock without user activity.
func (s *AuthService) ExtendSession(ctx context.Context) error {
	if err := s.sessions.Extend(ctx); err != nil {
		return s.fail(ctx, "extend_session", "", err)
	}
	return nil
}

// UpdateActivity marks user activity on the current session.
func (s *AuthService) UpdateActivity(ctx context.Context) {
	s.sessions.UpdateActivity(ctx)
}

// SendVerificationEmail asks the provider to (re)send the address
// verification email.
func (s *AuthService) SendVerificationEmail(ctx context.Context, email string) error {
	if err := s.provider.SendVerificationEmail(ctx, email); err != nil {
		return s.fail(ctx, "send_verification_email", email, err)
	}
	s.mutateState(func(st *domain.AuthState) {
		st.VerificationEmailSent = true
	})
	return nil
}

// SendPasswordReset asks the provider to start a password reset flow.
func (s *AuthService) SendPasswordReset(ctx context.Context, email string) error {
	if err := s.provider.SendPasswordReset(ctx, email); err != nil {
		return s.fail(ctx, "send_password_reset", email, err)
	}
	return nil
}

// ConfirmPasswordReset completes a password reset with the emailed code.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	if err := s.provider.ConfirmPasswordReset(ctx, code, newPassword); err != nil {
		return s.fail(ctx, "confirm_password_reset", "", err)
	}
	return nil
}

// Reset hard-resets the subsystem: every session and credential is dropped
// and the state machine returns to loading.
func (s *AuthService) Reset(ctx context.Context) error {
	s.setBusy(true)
	defer s.setBusy(false)

	if err := s.sessions.DestroyAll(ctx); err != nil {
		s.logger.Warn("session teardown failed during reset", zap.Error(err))
	}
	s.tokens.Clear(ctx)

	s.mutateState(func(st *domain.AuthState) {
		st.Session = nil
		st.LastError = nil
		st.EmailVerified = false
		st.VerificationEmailSent = false
		st.Loading = true
		s.applyStatus(st, domain.StatusUnauthenticated)
		s.applyStatus(st, domain.StatusLoading)
	})
	return nil
}

// HasValidSession requires the session store and the token store to agree
// independently.
func (s *AuthService) HasValidSession(ctx context.Context) bool {
	if !s.sessions.HasValidSession(ctx) {
		return false
	}
	switch s.tokens.State(ctx, 0) {
	case domain.TokenStateValid, domain.TokenStateExpiringSoon:
		return true
	default:
		return false
	}
}

// CurrentState returns an immutable snapshot of the auth state.
func (s *AuthService) CurrentState() domain.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// OnAuthEvent registers a handler for one event type (or event.AllEvents).
func (s *AuthService) OnAuthEvent(eventType domain.EventType, handler event.Handler) event.SubscriptionID {
	return s.bus.Subscribe(eventType, handler)
}

// OffAuthEvent removes a previously registered event handler.
func (s *AuthService) OffAuthEvent(id event.SubscriptionID) {
	s.bus.Unsubscribe(id)
}

// OnStateChange registers a handler invoked with a state snapshot after every
// relevant mutation.
func (s *AuthService) OnStateChange(handler StateHandler) event.SubscriptionID {
	if handler == nil {
		return ""
	}
	id := event.SubscriptionID(uuid.NewString())
	s.mu.Lock()
	s.stateSubs[id] = handler
	s.mu.Unlock()
	return id
}

// OffStateChange removes a state-change handler.
func (s *AuthService) OffStateChange(id event.SubscriptionID) {
	s.mu.Lock()
	delete(s.stateSubs, id)
	s.mu.Unlock()
}

// Stats aggregates the diagnostic counters of both stores and the bus.
func (s *AuthService) Stats() AuthStats {
	return AuthStats{
		Token:   s.tokens.Stats(),
		Session: s.sessions.Stats(),
		Bus:     s.bus.Stats(),
	}
}

// Close tears down the provider subscription and both stores. The service is
// inert afterwards.
func (s *AuthService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.sessions.Shutdown()
	s.tokens.Destroy()
}

// handleAuthChange reacts to provider-pushed credential changes: a user
// establishes or updates the session, an absent user forces local teardown.
func (s *AuthService) handleAuthChange(change port.AuthChange) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	if change.User == nil || change.Tokens == nil {
		s.forceLogout(ctx, domain.StatusUnauthenticated)
		return
	}
	s.establishSession(ctx, change.User, change.Tokens, s.currentStateMode(), false)
}

// establishSession creates or updates the session record, saves the pair,
// moves the machine to authenticated, and publishes the login event. The
// quiet flag suppresses the login event for flows that publish their own.
func (s *AuthService) establishSession(
	ctx context.Context,
	user *port.ProviderUser,
	pair *domain.TokenData,
	mode domain.PersistenceMode,
	quiet bool,
) (*domain.SessionData, *domain.AuthError) {
	data := domain.SessionData{
		UserID:        user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		EmailVerified: user.EmailVerified,
		Method:        user.Method,
	}

	s.sessions.SetMode(mode)

	updated := false
	if current := s.sessions.Current(ctx); current != nil && current.UserID == user.ID {
		s.sessions.UpdateActivity(ctx)
		data.StartedAt = current.StartedAt
		data.LastActivityAt = s.now()
		data.Active = true
		updated = true
	} else {
		meta, err := s.sessions.Create(ctx, data)
		if err != nil {
			return nil, s.fail(ctx, "establish_session", user.Email, err)
		}
		data.StartedAt = meta.CreatedAt
		data.LastActivityAt = meta.LastActivityAt
		data.Active = true
	}

	if err := s.tokens.Save(ctx, *pair, mode); err != nil {
		return nil, s.fail(ctx, "save_tokens", user.Email, err)
	}

	s.mutateState(func(st *domain.AuthState) {
		sessionCopy := data
		st.Session = &sessionCopy
		st.Mode = mode
		st.LastError = nil
		st.EmailVerified = user.EmailVerified
		st.Loading = false
		s.applyStatus(st, domain.StatusAuthenticated)
	})

	if !quiet && !updated {
		s.publish(domain.Event{
			Type:   domain.EventLogin,
			UserID: user.ID,
			Payload: domain.LoginPayload{
				Session: data,
				Method:  user.Method,
			},
		})
	}

	sessionCopy := data
	return &sessionCopy, nil
}

// fail translates an operation failure into the tagged error value, records
// it in the state, publishes the auth-error event, and applies forced-logout
// cleanup for non-recoverable codes.
func (s *AuthService) fail(ctx context.Context, operation, email string, err error) *domain.AuthError {
	authErr := translateError(err)
	if email != "" && authErr.Email == "" {
		authErr.Email = email
	}

	s.logger.Warn("auth operation failed",
		zap.String("operation", operation),
		zap.String("code", string(authErr.Code)),
		zap.Error(err),
	)

	// The limit rejection refuses a new session; the ones already held must
	// survive it, so it skips the cleanup other non-recoverable codes force.
	if !authErr.Recoverable && authErr.Code != domain.CodeSessionLimitExceeded {
		target := domain.StatusUnauthenticated
		if authErr.Code == domain.CodeSessionExpired {
			target = domain.StatusExpired
		}
		s.forceLogout(ctx, target)
	}

	s.mutateState(func(st *domain.AuthState) {
		errCopy := *authErr
		st.LastError = &errCopy
	})

	s.publish(domain.Event{
		Type: domain.EventAuthError,
		Payload: domain.AuthErrorPayload{
			Operation: operation,
			Error:     authErr,
		},
	})
	return authErr
}

// forceLogout clears local session and credential state after a terminal
// condition. Expired drains into unauthenticated on the next explicit logout.
func (s *AuthService) forceLogout(ctx context.Context, target domain.AuthStatus) {
	if err := s.sessions.Destroy(ctx); err != nil {
		s.logger.Warn("session teardown failed during forced logout", zap.Error(err))
	}
	s.tokens.Clear(ctx)

	s.mutateState(func(st *domain.AuthState) {
		st.Session = nil
		st.Loading = false
		s.applyStatus(st, target)
	})
}

// applyStatus moves the machine toward the target status, routing through
// unauthenticated when no direct transition exists.
func (s *AuthService) applyStatus(st *domain.AuthState, to domain.AuthStatus) {
	if st.Status == to {
		return
	}
	if !st.Status.CanTransition(to) && st.Status.CanTransition(domain.StatusUnauthenticated) {
		st.Status = domain.StatusUnauthenticated
	}
	if st.Status.CanTransition(to) {
		st.Status = to
	}
}

// mutateState applies the mutation under lock and notifies state subscribers
// with a cloned snapshot outside it.
func (s *AuthService) mutateState(mutate func(*domain.AuthState)) {
	s.mu.Lock()
	mutate(&s.state)
	s.state.UpdatedAt = s.now()
	snapshot := s.state.Clone()
	handlers := make([]StateHandler, 0, len(s.stateSubs))
	for _, handler := range s.stateSubs {
		handlers = append(handlers, handler)
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(snapshot)
	}
}

func (s *AuthService) setBusy(busy bool) {
	s.mutateState(func(st *domain.AuthState) {
		st.Busy = busy
	})
}

func (s *AuthService) currentStateMode() domain.PersistenceMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Mode
}

func (s *AuthService) publish(evt domain.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}

func normalizeMode(mode domain.PersistenceMode) domain.PersistenceMode {
	switch mode {
	case domain.PersistenceDurable, domain.PersistenceEphemeral, domain.PersistenceNone:
		return mode
	default:
		return domain.PersistenceDurable
	}
}

// translateError maps provider and transport failures onto the closed error
// code set. Tagged errors pass through unchanged.
func translateError(err error) *domain.AuthError {
	var tagged *domain.AuthError
	if errors.As(err, &tagged) {
		return tagged
	}

	code := domain.CodeInternal
	switch {
	case errors.Is(err, port.ErrInvalidCredentials):
		code = domain.CodeInvalidCredentials
	case errors.Is(err, port.ErrUserDisabled):
		code = domain.CodeUserDisabled
	case errors.Is(err, port.ErrEmailInUse):
		code = domain.CodeEmailInUse
	case errors.Is(err, port.ErrWeakPassword):
		code = domain.CodeWeakPassword
	case errors.Is(err, port.ErrRateLimited):
		code = domain.CodeRateLimited
	case errors.Is(err, port.ErrInvalidToken):
		code = domain.CodeSessionInvalid
	case errors.Is(err, port.ErrProviderUnavailable):
		code = domain.CodeProviderUnavailable
	case errors.Is(err, ErrNoRefreshToken):
		code = domain.CodeSessionInvalid
	case errors.Is(err, context.DeadlineExceeded):
		code = domain.CodeNetworkTimeout
	case isTimeout(err):
		code = domain.CodeNetworkTimeout
	case isNetworkError(err):
		code = domain.CodeNetworkUnavailable
	}

	return domain.NewAuthError(code, err.Error()).WithCause(err)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
