package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/event"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/storage"
)

// sessionsKey is the fallback-store key holding every user's latest session
// record as an array of [userId, record] tuples.
const sessionsKey = "app_sessions"

const sessionOpTimeout = 10 * time.Second

// SessionStats aggregates the session store's diagnostic counters.
type SessionStats struct {
	Created         int64 `json:"created"`
	Destroyed       int64 `json:"destroyed"`
	Expired         int64 `json:"expired"`
	ActivityUpdates int64 `json:"activityUpdates"`
	Warnings        int64 `json:"warnings"`
	Tracked         int   `json:"tracked"`
}

type sessionRecord struct {
	data domain.SessionData
	meta domain.SessionMetadata
}

// SessionService owns the logical session record: creation under the
// concurrency cap, the dual-timeout expiry rule, activity tracking, the
// pre-expiry warning, and persistence of the latest record per user. All
// methods are goroutine-safe.
type SessionService struct {
	cfg    config.SessionSettings
	stores *storage.Resolver
	bus    *event.Bus
	logger *zap.Logger
	now    func() time.Time

	mu           sync.Mutex
	mode         domain.PersistenceMode
	sessions     map[string]*sessionRecord
	currentID    string
	hydrated     bool
	expiryTimer  *time.Timer
	warningTimer *time.Timer
	shutdown     bool

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup

	created         atomic.Int64
	destroyedCount  atomic.Int64
	expiredCount    atomic.Int64
	activityUpdates atomic.Int64
	warnings        atomic.Int64
}

// NewSessionService constructs a SessionService and starts the periodic
// expiry sweep unless both timeouts are zero.
func NewSessionService(
	cfg config.SessionSettings,
	stores *storage.Resolver,
	bus *event.Bus,
	logger *zap.Logger,
) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}

	service := &SessionService{
		cfg:      cfg,
		stores:   stores,
		bus:      bus,
		logger:   logger,
		mode:     domain.PersistenceDurable,
		sessions: make(map[string]*sessionRecord),
	}
	service.now = func() time.Time { return time.Now().UTC() }
	service.startSweep()
	return service
}

// WithClock overrides the service clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) *SessionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// SetMode selects the fallback store used for subsequent writes.
func (s *SessionService) SetMode(mode domain.PersistenceMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// Create registers a new session for the given identity. When the owning user
// already holds the maximum number of active sessions the call fails with a
// session-limit error and existing sessions stay intact.
func (s *SessionService) Create(ctx context.Context, data domain.SessionData) (*domain.SessionMetadata, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown {
		return nil, domain.NewAuthError(domain.CodeSessionInvalid, "session store is shut down")
	}

	if limit := s.cfg.MaxConcurrentSessions; limit > 0 {
		active := 0
		for _, rec := range s.sessions {
			if rec.data.UserID != data.UserID || !rec.meta.Active {
				continue
			}
			if rec.meta.ExpiredAt(now, s.cfg.InactivityTimeout(), s.cfg.AbsoluteTimeout()) {
				continue
			}
			active++
		}
		if active >= limit {
			return nil, domain.NewAuthError(domain.CodeSessionLimitExceeded,
				fmt.Sprintf("user already has %d active sessions", active))
		}
	}

	meta := domain.SessionMetadata{
		SessionID:         uuid.NewString(),
		CreatedAt:         now,
		LastActivityAt:    now,
		DeviceFingerprint: deviceFingerprint(),
		Active:            true,
		PendingAutoExtend: s.cfg.AutoExtend,
	}
	data.StartedAt = now
	data.LastActivityAt = now
	data.Active = true

	rec := &sessionRecord{data: data, meta: meta}
	s.sessions[meta.SessionID] = rec
	s.currentID = meta.SessionID
	s.hydrated = true

	s.persistLocked(ctx, rec)
	s.armTimersLocked(now)

	s.created.Add(1)
	s.logger.Debug("session created",
		zap.String("session_id", meta.SessionID),
		zap.String("user_id", data.UserID),
	)

	metaCopy := meta
	return &metaCopy, nil
}

// UpdateActivity refreshes the activity timestamp of the current session and
// rearms the inactivity and warning timers. Absent session is a no-op.
func (s *SessionService) UpdateActivity(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.currentLocked(ctx)
	if rec == nil || s.shutdown {
		return
	}

	rec.meta.Touch(now)
	rec.data.LastActivityAt = now
	s.persistLocked(ctx, rec)
	s.armTimersLocked(now)
	s.activityUpdates.Add(1)
}

// Current returns a copy of the active session's identity snapshot, or nil.
// A stored record that fails the dual-timeout rule is destroyed as a side
// effect, including the terminal expiry event.
func (s *SessionService) Current(ctx context.Context) *domain.SessionData {
	now := s.now()

	s.mu.Lock()
	rec := s.currentLocked(ctx)
	if rec == nil {
		s.mu.Unlock()
		return nil
	}

	if rec.meta.ExpiredAt(now, s.cfg.InactivityTimeout(), s.cfg.AbsoluteTimeout()) {
		evt := s.expireLocked(ctx, rec, now)
		s.mu.Unlock()
		s.publish(evt)
		return nil
	}

	dataCopy := rec.data
	s.mu.Unlock()
	return &dataCopy
}

// Extend resets the inactivity clock without user activity ("stay logged
// in") and rearms the timers.
func (s *SessionService) Extend(ctx context.Context) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.currentLocked(ctx)
	if rec == nil {
		return domain.NewAuthError(domain.CodeSessionInvalid, "no active session to extend")
	}

	rec.meta.Touch(now)
	rec.meta.PendingAutoExtend = false
	rec.data.LastActivityAt = now
	s.persistLocked(ctx, rec)
	s.armTimersLocked(now)
	return nil
}

// Destroy tears down the current session: timers stopped, persisted record
// removed, logout event emitted. Absent session is a no-op.
func (s *SessionService) Destroy(ctx context.Context) error {
	s.mu.Lock()
	rec := s.currentLocked(ctx)
	if rec == nil {
		s.mu.Unlock()
		return nil
	}

	s.removeLocked(ctx, rec)
	s.destroyedCount.Add(1)
	userID := rec.data.UserID
	s.mu.Unlock()

	s.publish(domain.Event{
		Type:   domain.EventLogout,
		UserID: userID,
		Payload: domain.LogoutPayload{
			UserID: userID,
			Reason: "logout",
		},
	})
	return nil
}

// DestroyAll tears down every tracked session and deletes the whole
// persisted record set.
func (s *SessionService) DestroyAll(ctx context.Context) error {
	s.mu.Lock()
	userID := ""
	if rec, ok := s.sessions[s.currentID]; ok {
		userID = rec.data.UserID
	}

	count := len(s.sessions)
	s.sessions = make(map[string]*sessionRecord)
	s.currentID = ""
	s.hydrated = true
	s.stopTimersLocked()

	for _, mode := range []domain.PersistenceMode{domain.PersistenceDurable, domain.PersistenceEphemeral} {
		s.stores.ForMode(mode).Delete(ctx, sessionsKey)
	}
	if count > 0 {
		s.destroyedCount.Add(int64(count))
	}
	s.mu.Unlock()

	if count > 0 {
		s.publish(domain.Event{
			Type:   domain.EventLogout,
			UserID: userID,
			Payload: domain.LogoutPayload{
				UserID: userID,
				Reason: "logout_all",
			},
		})
	}
	return nil
}

// HasValidSession reports whether a non-expired session is tracked.
func (s *SessionService) HasValidSession(ctx context.Context) bool {
	return s.Status(ctx) == domain.SessionStatusActive
}

// Status derives the read-only session status without side effects.
func (s *SessionService) Status(ctx context.Context) domain.SessionStatus {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.currentLocked(ctx)
	if rec == nil {
		return domain.SessionStatusNone
	}
	if rec.meta.ExpiredAt(now, s.cfg.InactivityTimeout(), s.cfg.AbsoluteTimeout()) {
		return domain.SessionStatusExpired
	}
	return domain.SessionStatusActive
}

// Stats returns a snapshot of the diagnostic counters.
func (s *SessionService) Stats() SessionStats {
	s.mu.Lock()
	tracked := len(s.sessions)
	s.mu.Unlock()

	return SessionStats{
		Created:         s.created.Load(),
		Destroyed:       s.destroyedCount.Load(),
		Expired:         s.expiredCount.Load(),
		ActivityUpdates: s.activityUpdates.Load(),
		Warnings:        s.warnings.Load(),
		Tracked:         tracked,
	}
}

// Shutdown stops the timers and the sweep synchronously. No timer callback
// or sweep pass runs after Shutdown returns.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.stopTimersLocked()
	stop := s.sweepStop
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.sweepWG.Wait()
	}
}

// currentLocked returns the tracked current record, hydrating once from the
// persisted store when the in-memory state is empty (process restart). The
// most recently saved record wins.
func (s *SessionService) currentLocked(ctx context.Context) *sessionRecord {
	if rec, ok := s.sessions[s.currentID]; ok && s.currentID != "" {
		return rec
	}
	if s.hydrated {
		return nil
	}
	s.hydrated = true

	entries := s.loadPersisted(ctx)
	if len(entries) == 0 {
		return nil
	}

	var latest *domain.StoredSession
	for i := range entries {
		record := &entries[i].Record
		if latest == nil || record.SavedAt.After(latest.SavedAt) {
			latest = record
		}
	}
	if latest == nil || latest.Metadata.SessionID == "" {
		return nil
	}

	rec := &sessionRecord{data: latest.SessionData, meta: latest.Metadata}
	s.sessions[rec.meta.SessionID] = rec
	s.currentID = rec.meta.SessionID
	s.armTimersLocked(s.now())
	s.logger.Debug("session hydrated from store",
		zap.String("session_id", rec.meta.SessionID),
		zap.String("user_id", rec.data.UserID),
	)
	return rec
}

// expireLocked removes a record that failed the dual-timeout rule and
// returns the terminal expiry event for the caller to publish once the lock
// is released.
func (s *SessionService) expireLocked(ctx context.Context, rec *sessionRecord, now time.Time) domain.Event {
	reason := domain.ExpiryReasonInactivity
	if absolute := s.cfg.AbsoluteTimeout(); absolute > 0 && now.Sub(rec.meta.CreatedAt) > absolute {
		reason = domain.ExpiryReasonAbsolute
	}

	s.removeLocked(ctx, rec)
	s.expiredCount.Add(1)
	s.logger.Info("session expired",
		zap.String("session_id", rec.meta.SessionID),
		zap.String("user_id", rec.data.UserID),
		zap.String("reason", string(reason)),
	)
	return domain.Event{
		Type:   domain.EventSessionExpired,
		UserID: rec.data.UserID,
		Payload: domain.SessionExpiredPayload{
			SessionID: rec.meta.SessionID,
			UserID:    rec.data.UserID,
			Reason:    reason,
		},
	}
}

// removeLocked deletes a record from memory and from the persisted set.
func (s *SessionService) removeLocked(ctx context.Context, rec *sessionRecord) {
	delete(s.sessions, rec.meta.SessionID)
	if s.currentID == rec.meta.SessionID {
		s.currentID = ""
		s.stopTimersLocked()
	}

	entries := s.loadPersisted(ctx)
	kept := entries[:0]
	for _, entry := range entries {
		if entry.UserID != rec.data.UserID || entry.Record.Metadata.SessionID != rec.meta.SessionID {
			kept = append(kept, entry)
		}
	}
	s.writePersisted(ctx, kept)
}

// persistLocked replaces the owning user's persisted record with this one.
func (s *SessionService) persistLocked(ctx context.Context, rec *sessionRecord) {
	entries := s.loadPersisted(ctx)

	stored := domain.StoredSession{
		SessionData: rec.data,
		Metadata:    rec.meta,
		SavedAt:     s.now(),
	}

	replaced := false
	for i := range entries {
		if entries[i].UserID == rec.data.UserID {
			entries[i].Record = stored
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, persistedEntry{UserID: rec.data.UserID, Record: stored})
	}

	s.writePersisted(ctx, entries)
}

func (s *SessionService) loadPersisted(ctx context.Context) []persistedEntry {
	raw, ok := s.stores.ForMode(s.mode).Get(ctx, sessionsKey)
	if !ok && s.mode != domain.PersistenceDurable {
		raw, ok = s.stores.Durable().Get(ctx, sessionsKey)
	}
	if !ok {
		return nil
	}

	var entries []persistedEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Warn("unmarshal persisted sessions", zap.Error(err))
		return nil
	}
	return entries
}

func (s *SessionService) writePersisted(ctx context.Context, entries []persistedEntry) {
	if len(entries) == 0 {
		s.stores.ForMode(s.mode).Delete(ctx, sessionsKey)
		return
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	raw, err := json.Marshal(entries)
	if err != nil {
		s.logger.Error("marshal persisted sessions", zap.Error(err))
		return
	}
	s.stores.ForMode(s.mode).Set(ctx, sessionsKey, string(raw))
}

// armTimersLocked schedules the expiry timer at the earlier configured
// deadline and the warning timer only when the warning threshold is positive
// and shorter than the inactivity timeout. The warning is never tied to the
// absolute lifetime.
func (s *SessionService) armTimersLocked(now time.Time) {
	s.stopTimersLocked()
	if s.shutdown || s.currentID == "" {
		return
	}
	rec, ok := s.sessions[s.currentID]
	if !ok {
		return
	}

	inactivity := s.cfg.InactivityTimeout()
	absolute := s.cfg.AbsoluteTimeout()
	if inactivity <= 0 && absolute <= 0 {
		return
	}

	var deadline time.Time
	if inactivity > 0 {
		deadline = rec.meta.LastActivityAt.Add(inactivity)
	}
	if absolute > 0 {
		absoluteDeadline := rec.meta.CreatedAt.Add(absolute)
		if deadline.IsZero() || absoluteDeadline.Before(deadline) {
			deadline = absoluteDeadline
		}
	}

	delay := deadline.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.expiryTimer = time.AfterFunc(delay, s.onExpiryTimer)

	warning := s.cfg.WarningThreshold()
	if inactivity > 0 && warning > 0 && warning < inactivity {
		warnDelay := rec.meta.LastActivityAt.Add(inactivity - warning).Sub(now)
		if warnDelay < 0 {
			warnDelay = 0
		}
		s.warningTimer = time.AfterFunc(warnDelay, s.onWarningTimer)
	}
}

func (s *SessionService) stopTimersLocked() {
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if s.warningTimer != nil {
		s.warningTimer.Stop()
		s.warningTimer = nil
	}
}

// onExpiryTimer re-checks the rule under lock; activity may have advanced
// since the timer was armed, in which case the timer rearms instead.
func (s *SessionService) onExpiryTimer() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	now := s.now()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	rec, ok := s.sessions[s.currentID]
	if !ok || s.currentID == "" {
		s.mu.Unlock()
		return
	}

	if rec.meta.ExpiredAt(now, s.cfg.InactivityTimeout(), s.cfg.AbsoluteTimeout()) {
		evt := s.expireLocked(ctx, rec, now)
		s.mu.Unlock()
		s.publish(evt)
		return
	}
	s.armTimersLocked(now)
	s.mu.Unlock()
}

func (s *SessionService) onWarningTimer() {
	now := s.now()

	s.mu.Lock()
	if s.shutdown || s.currentID == "" {
		s.mu.Unlock()
		return
	}
	rec, ok := s.sessions[s.currentID]
	if !ok {
		s.mu.Unlock()
		return
	}

	inactivity := s.cfg.InactivityTimeout()
	remaining := rec.meta.LastActivityAt.Add(inactivity).Sub(now)
	if remaining <= 0 || inactivity <= 0 {
		s.mu.Unlock()
		return
	}

	minutes := int(remaining.Minutes())
	sessionID := rec.meta.SessionID
	userID := rec.data.UserID
	s.warnings.Add(1)
	s.mu.Unlock()

	s.logger.Info("session expiry warning",
		zap.String("session_id", sessionID),
		zap.Int("minutes_remaining", minutes),
	)
	s.publish(domain.Event{
		Type:   domain.EventSessionExpired,
		UserID: userID,
		Payload: domain.SessionWarningPayload{
			SessionID:        sessionID,
			MinutesRemaining: minutes,
		},
	})
}

// startSweep launches the periodic re-check of every tracked record.
// Suppressed entirely when both timeouts are zero.
func (s *SessionService) startSweep() {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		return
	}
	if s.cfg.InactivityTimeout() <= 0 && s.cfg.AbsoluteTimeout() <= 0 {
		return
	}

	s.sweepStop = make(chan struct{})
	s.sweepWG.Add(1)
	go func() {
		defer s.sweepWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.sweepStop:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// sweep destroys every tracked record that fails the dual-timeout rule.
func (s *SessionService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	now := s.now()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}

	var stale []*sessionRecord
	for _, rec := range s.sessions {
		if rec.meta.ExpiredAt(now, s.cfg.InactivityTimeout(), s.cfg.AbsoluteTimeout()) {
			stale = append(stale, rec)
		}
	}

	events := make([]domain.Event, 0, len(stale))
	for _, rec := range stale {
		events = append(events, s.expireLocked(ctx, rec, now))
	}
	s.mu.Unlock()

	for _, evt := range events {
		s.publish(evt)
	}
}

func (s *SessionService) publish(evt domain.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(evt)
}

// persistedEntry is one [userId, record] tuple in the persisted array.
type persistedEntry struct {
	UserID string
	Record domain.StoredSession
}

func (e persistedEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.UserID, e.Record})
}

func (e *persistedEntry) UnmarshalJSON(data []byte) error {
	var tuple [2]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("session tuple: %w", err)
	}
	if err := json.Unmarshal(tuple[0], &e.UserID); err != nil {
		return fmt.Errorf("session tuple user id: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &e.Record); err != nil {
		return fmt.Errorf("session tuple record: %w", err)
	}
	return nil
}

var (
	fingerprintOnce  sync.Once
	fingerprintValue string
)

// deviceFingerprint derives a stable identifier for this host. Hash input is
// hostname plus platform, truncated to 16 hex characters.
func deviceFingerprint() string {
	fingerprintOnce.Do(func() {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		sum := sha256.Sum256([]byte(hostname + "|" + runtime.GOOS + "|" + runtime.GOARCH))
		fingerprintValue = hex.EncodeToString(sum[:])[:16]
	})
	return fingerprintValue
}
