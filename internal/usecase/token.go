package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/core/port"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	appLogger "github.com/mohabh15/studio-sub000/internal/infra/logger"
	"github.com/mohabh15/studio-sub000/internal/storage"
)

// Cookie names for the credential pair. The expiration cookie carries the
// epoch-milliseconds instant as a numeric string.
const (
	CookieAccessToken     = "accessToken"
	CookieRefreshToken    = "refreshToken"
	CookieTokenExpiration = "tokenExpiration"
)

// tokenFallbackKey is the fallback-store key for the serialized pair. It lives
// in its own namespace so the token and session stores never contend.
const tokenFallbackKey = "auth_tokens.pair"

const scheduledRefreshTimeout = 30 * time.Second

var (
	// ErrInvalidTokenPair is returned by Save when the pair is structurally invalid.
	ErrInvalidTokenPair = errors.New("invalid token pair")
	// ErrNoRefreshToken is returned by Refresh when no stored pair carries a refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")
)

// TokenStats aggregates the token store's diagnostic counters.
type TokenStats struct {
	Saves           int64 `json:"saves"`
	Reads           int64 `json:"reads"`
	Clears          int64 `json:"clears"`
	Refreshes       int64 `json:"refreshes"`
	RefreshFailures int64 `json:"refreshFailures"`
	ScheduledFires  int64 `json:"scheduledFires"`
}

// TokenService owns the access/refresh pair: dual-tier persistence (cookies
// plus fallback store), proactive refresh scheduling, and single-flight
// refresh against the identity provider. All methods are goroutine-safe.
type TokenService struct {
	cfg      config.TokenSettings
	cookies  config.CookieSettings
	jar      port.CookieJar
	stores   *storage.Resolver
	provider port.IdentityProvider
	logger   *zap.Logger
	now      func() time.Time

	sf singleflight.Group

	mu           sync.Mutex
	mode         domain.PersistenceMode
	refreshTimer *time.Timer
	destroyed    bool

	saves           atomic.Int64
	reads           atomic.Int64
	clears          atomic.Int64
	refreshes       atomic.Int64
	refreshFailures atomic.Int64
	scheduledFires  atomic.Int64
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(
	cfg config.TokenSettings,
	cookies config.CookieSettings,
	jar port.CookieJar,
	stores *storage.Resolver,
	provider port.IdentityProvider,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &TokenService{
		cfg:      cfg,
		cookies:  cookies,
		jar:      jar,
		stores:   stores,
		provider: provider,
		logger:   logger,
		mode:     domain.PersistenceDurable,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Save persists the pair to both tiers under the given mode and arms the
// automatic refresh timer at expiration minus the refresh threshold. The
// cookie tier and the fallback tier are written independently.
func (s *TokenService) Save(ctx context.Context, data domain.TokenData, mode domain.PersistenceMode) error {
	if !data.Valid() {
		return ErrInvalidTokenPair
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	s.writeCookies(data)
	s.writeFallback(ctx, data, mode)

	s.saves.Add(1)
	s.armRefreshTimer(data.ExpirationTime)
	s.logger.Debug("token pair saved",
		zap.String("mode", string(mode)),
		zap.String("access_token", appLogger.MaskToken(data.AccessToken)),
		zap.Time("expires_at", data.ExpirationTime))
	return nil
}

// Read returns the stored pair, cookie tier first, fallback tier second. It
// returns nil unless the access token, refresh token, and a numeric
// expiration are all present. Pairs reconstructed from cookies carry a zero
// IssuedAt; the fallback record preserves the full pair.
func (s *TokenService) Read(ctx context.Context) *domain.TokenData {
	s.reads.Add(1)

	if data := s.readCookies(); data != nil {
		return data
	}
	return s.readFallback(ctx)
}

// Clear removes the pair from both tiers and cancels any pending refresh.
func (s *TokenService) Clear(ctx context.Context) {
	s.mu.Lock()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.mu.Unlock()

	if s.jar != nil {
		opts := s.cookieOptions(time.Time{})
		s.jar.Delete(CookieAccessToken, opts)
		s.jar.Delete(CookieRefreshToken, opts)
		s.jar.Delete(CookieTokenExpiration, opts)
	}
	for _, mode := range []domain.PersistenceMode{domain.PersistenceDurable, domain.PersistenceEphemeral} {
		s.stores.ForMode(mode).Delete(ctx, tokenFallbackKey)
	}

	s.clears.Add(1)
}

// IsExpired decodes the stored access token's payload without verifying the
// signature and reports whether exp minus the threshold has passed. Absent or
// undecodable tokens count as expired.
func (s *TokenService) IsExpired(ctx context.Context, thresholdMinutes int) bool {
	data := s.Read(ctx)
	if data == nil {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(data.AccessToken, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}

	threshold := time.Duration(thresholdMinutes) * time.Minute
	return !exp.Time.Add(-threshold).After(s.now())
}

// Refresh exchanges the stored refresh token for a new pair. Concurrent
// callers share a single in-flight provider round-trip. Network-class
// failures retry with capped exponential backoff up to the configured attempt
// ceiling; provider rejections return immediately. A successful refresh
// persists the new pair under the current mode and re-arms the refresh timer.
func (s *TokenService) Refresh(ctx context.Context) (*domain.TokenData, error) {
	result, err, _ := s.sf.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.TokenData), nil
}

func (s *TokenService) refresh(ctx context.Context) (*domain.TokenData, error) {
	current := s.Read(ctx)
	if current == nil || current.RefreshToken == "" {
		s.refreshFailures.Add(1)
		return nil, ErrNoRefreshToken
	}

	attempts := s.cfg.RefreshMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		pair, err := s.provider.Refresh(ctx, current.RefreshToken)
		if err == nil {
			s.refreshes.Add(1)
			s.persist(ctx, *pair)
			return pair, nil
		}

		lastErr = err
		if !isNetworkError(err) || attempt == attempts {
			break
		}

		timer := time.NewTimer(backoffDelay(s.cfg.RefreshBackoffBase, s.cfg.RefreshBackoffMax, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.refreshFailures.Add(1)
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.refreshFailures.Add(1)
	return nil, fmt.Errorf("refresh tokens: %w", lastErr)
}

// TimeUntilExpiration returns the whole minutes until the stored pair
// expires, floored, never negative. Absent pair reads as zero.
func (s *TokenService) TimeUntilExpiration(ctx context.Context) int {
	data := s.Read(ctx)
	if data == nil {
		return 0
	}
	return data.TimeUntilExpiration(s.now())
}

// State classifies the stored pair against the given expiring-soon threshold.
// A non-positive threshold falls back to the configured one.
func (s *TokenService) State(ctx context.Context, thresholdMinutes int) domain.TokenState {
	if thresholdMinutes <= 0 {
		thresholdMinutes = s.cfg.ExpiringSoonThresholdMinutes
	}

	data := s.Read(ctx)
	if data == nil {
		return domain.TokenStateAbsent
	}

	now := s.now()
	if data.IsExpired(now) {
		return domain.TokenStateExpired
	}
	if data.ExpiresWithin(now, time.Duration(thresholdMinutes)*time.Minute) {
		return domain.TokenStateExpiringSoon
	}
	return domain.TokenStateValid
}

// Stats returns a snapshot of the diagnostic counters.
func (s *TokenService) Stats() TokenStats {
	return TokenStats{
		Saves:           s.saves.Load(),
		Reads:           s.reads.Load(),
		Clears:          s.clears.Load(),
		Refreshes:       s.refreshes.Load(),
		RefreshFailures: s.refreshFailures.Load(),
		ScheduledFires:  s.scheduledFires.Load(),
	}
}

// Destroy stops the refresh timer and drops the single-flight memoization.
// No timer callback runs after Destroy returns.
func (s *TokenService) Destroy() {
	s.mu.Lock()
	s.destroyed = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.mu.Unlock()

	s.sf.Forget("refresh")
}

func (s *TokenService) currentMode() domain.PersistenceMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// persist mirrors Save for pairs obtained mid-flight, reusing the mode the
// last Save selected.
func (s *TokenService) persist(ctx context.Context, data domain.TokenData) {
	mode := s.currentMode()
	s.writeCookies(data)
	s.writeFallback(ctx, data, mode)
	s.armRefreshTimer(data.ExpirationTime)
}

func (s *TokenService) writeCookies(data domain.TokenData) {
	if s.jar == nil {
		return
	}
	opts := s.cookieOptions(data.ExpirationTime)
	s.jar.Set(CookieAccessToken, data.AccessToken, opts)
	s.jar.Set(CookieRefreshToken, data.RefreshToken, opts)
	s.jar.Set(CookieTokenExpiration, data.ExpirationString(), opts)
}

func (s *TokenService) writeFallback(ctx context.Context, data domain.TokenData, mode domain.PersistenceMode) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("marshal token pair", zap.Error(err))
		return
	}
	s.stores.ForMode(mode).Set(ctx, tokenFallbackKey, string(raw))
}

func (s *TokenService) readCookies() *domain.TokenData {
	if s.jar == nil {
		return nil
	}

	access, ok := s.jar.Get(CookieAccessToken)
	if !ok || access == "" {
		return nil
	}
	refresh, ok := s.jar.Get(CookieRefreshToken)
	if !ok || refresh == "" {
		return nil
	}
	rawExpiration, ok := s.jar.Get(CookieTokenExpiration)
	if !ok {
		return nil
	}
	expiration, ok := domain.ParseTokenExpiration(rawExpiration)
	if !ok {
		return nil
	}

	return &domain.TokenData{
		AccessToken:    access,
		RefreshToken:   refresh,
		ExpirationTime: expiration,
		TokenType:      "Bearer",
	}
}

func (s *TokenService) readFallback(ctx context.Context) *domain.TokenData {
	mode := s.currentMode()
	raw, ok := s.stores.ForMode(mode).Get(ctx, tokenFallbackKey)
	if !ok && mode != domain.PersistenceDurable {
		raw, ok = s.stores.Durable().Get(ctx, tokenFallbackKey)
	}
	if !ok {
		return nil
	}

	var data domain.TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Warn("unmarshal stored token pair", zap.Error(err))
		return nil
	}
	if data.AccessToken == "" || data.RefreshToken == "" || data.ExpirationTime.IsZero() {
		return nil
	}
	return &data
}

func (s *TokenService) cookieOptions(expires time.Time) port.CookieOptions {
	return port.CookieOptions{
		Expires:  expires,
		Path:     s.cookies.Path,
		Domain:   s.cookies.Domain,
		Secure:   s.cookies.Secure,
		SameSite: s.cookies.SameSiteMode(),
	}
}

// armRefreshTimer schedules a background refresh at expiration minus the
// refresh threshold, replacing any previously armed timer. Pairs already
// inside the threshold refresh immediately.
func (s *TokenService) armRefreshTimer(expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	delay := expiresAt.Add(-s.cfg.RefreshThreshold()).Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.refreshTimer = time.AfterFunc(delay, s.scheduledRefresh)
}

func (s *TokenService) scheduledRefresh() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.scheduledFires.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), scheduledRefreshTimeout)
	defer cancel()

	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled token refresh failed", zap.Error(err))
	}
}

func isNetworkError(err error) bool {
	if errors.Is(err, port.ErrProviderUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// backoffDelay doubles the base delay per attempt, capped at max.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}
