package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/event"
	"github.com/mohabh15/studio-sub000/internal/infra/config"
	"github.com/mohabh15/studio-sub000/internal/repository/memory"
	"github.com/mohabh15/studio-sub000/internal/storage"
)

func newTestSessionService(t *testing.T, cfg config.SessionSettings) (*SessionService, *event.Bus, *storage.Resolver) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	bus := event.NewBus(logger)
	resolver := storage.NewResolver(
		storage.NewStore("durable", memory.NewStore(), logger),
		storage.NewStore("ephemeral", memory.NewStore(), logger),
	)
	service := NewSessionService(cfg, resolver, bus, logger)
	t.Cleanup(service.Shutdown)
	return service, bus, resolver
}

func testSessionData(userID string) domain.SessionData {
	return domain.SessionData{
		UserID:        userID,
		Email:         userID + "@example.com",
		DisplayName:   "Test User",
		EmailVerified: true,
		Method:        domain.AuthMethodPassword,
	}
}

func collectEvents(bus *event.Bus, into *[]domain.Event) {
	bus.Subscribe(event.AllEvents, func(evt domain.Event) {
		*into = append(*into, evt)
	})
}

func TestSessionService_InactivityExpiry(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		AbsoluteTimeoutDays:      7,
		MaxConcurrentSessions:    5,
	}
	service, bus, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	current = current.Add(29 * time.Minute)
	if service.Current(ctx) == nil {
		t.Fatal("session should still be alive inside the inactivity window")
	}

	current = current.Add(2 * time.Minute)
	if got := service.Current(ctx); got != nil {
		t.Fatalf("expected expired session, got %+v", got)
	}

	var terminal *domain.SessionExpiredPayload
	for _, evt := range events {
		if payload, ok := evt.Payload.(domain.SessionExpiredPayload); ok {
			terminal = &payload
		}
	}
	if terminal == nil {
		t.Fatal("expected a terminal expiry event")
	}
	if terminal.Reason != domain.ExpiryReasonInactivity {
		t.Fatalf("expiry reason = %s, want %s", terminal.Reason, domain.ExpiryReasonInactivity)
	}
	if stats := service.Stats(); stats.Expired != 1 || stats.Tracked != 0 {
		t.Fatalf("stats after expiry = %+v", stats)
	}
}

func TestSessionService_AbsoluteExpiry(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 0,
		AbsoluteTimeoutDays:      1,
		MaxConcurrentSessions:    5,
	}
	service, bus, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Constant activity does not save a session past its absolute lifetime.
	for i := 0; i < 12; i++ {
		current = current.Add(2 * time.Hour)
		service.UpdateActivity(ctx)
	}
	current = current.Add(2 * time.Hour)

	if got := service.Current(ctx); got != nil {
		t.Fatalf("expected absolute expiry, got %+v", got)
	}

	found := false
	for _, evt := range events {
		if payload, ok := evt.Payload.(domain.SessionExpiredPayload); ok {
			found = true
			if payload.Reason != domain.ExpiryReasonAbsolute {
				t.Fatalf("expiry reason = %s, want %s", payload.Reason, domain.ExpiryReasonAbsolute)
			}
		}
	}
	if !found {
		t.Fatal("expected a terminal expiry event")
	}
}

func TestSessionService_ZeroTimeoutsNeverExpire(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 0,
		AbsoluteTimeoutDays:      0,
		MaxConcurrentSessions:    5,
		SweepInterval:            time.Minute,
	}
	service, _, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	ctx := context.Background()
	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	current = current.Add(10 * 365 * 24 * time.Hour)
	if service.Current(ctx) == nil {
		t.Fatal("session with both timeouts disabled should never expire")
	}

	// Sweep is suppressed entirely in this configuration.
	if service.sweepStop != nil {
		t.Fatal("sweep should not start when both timeouts are zero")
	}
	service.mu.Lock()
	armed := service.expiryTimer != nil || service.warningTimer != nil
	service.mu.Unlock()
	if armed {
		t.Fatal("no timers should be armed when both timeouts are zero")
	}
}

func TestSessionService_ConcurrentSessionLimit(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    2,
	}
	service, _, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
			t.Fatalf("create session %d: %v", i+1, err)
		}
	}

	_, err := service.Create(ctx, testSessionData("user-1"))
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || authErr.Code != domain.CodeSessionLimitExceeded {
		t.Fatalf("expected session limit error, got %v", err)
	}
	if stats := service.Stats(); stats.Tracked != 2 {
		t.Fatalf("existing sessions must stay intact, tracked = %d", stats.Tracked)
	}

	// A different user is unaffected by the first user's cap.
	if _, err := service.Create(ctx, testSessionData("user-2")); err != nil {
		t.Fatalf("create session for second user: %v", err)
	}
}

func TestSessionService_UpdateActivityExtendsLife(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, _, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	ctx := context.Background()
	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	current = current.Add(20 * time.Minute)
	service.UpdateActivity(ctx)

	current = current.Add(20 * time.Minute)
	if service.Current(ctx) == nil {
		t.Fatal("activity should have reset the inactivity clock")
	}

	current = current.Add(31 * time.Minute)
	if service.Current(ctx) != nil {
		t.Fatal("session should expire once the refreshed window elapses")
	}
	if stats := service.Stats(); stats.ActivityUpdates != 1 {
		t.Fatalf("activity updates = %d, want 1", stats.ActivityUpdates)
	}
}

func TestSessionService_WarningOnlyForInactivity(t *testing.T) {
	ctx := context.Background()

	inactivityCfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		WarningThresholdMinutes:  5,
		MaxConcurrentSessions:    5,
	}
	withInactivity, _, _ := newTestSessionService(t, inactivityCfg)
	if _, err := withInactivity.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	withInactivity.mu.Lock()
	armed := withInactivity.warningTimer != nil
	withInactivity.mu.Unlock()
	if !armed {
		t.Fatal("warning timer should arm alongside the inactivity timeout")
	}

	absoluteOnlyCfg := config.SessionSettings{
		InactivityTimeoutMinutes: 0,
		AbsoluteTimeoutDays:      7,
		WarningThresholdMinutes:  5,
		MaxConcurrentSessions:    5,
	}
	absoluteOnly, _, _ := newTestSessionService(t, absoluteOnlyCfg)
	if _, err := absoluteOnly.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	absoluteOnly.mu.Lock()
	armed = absoluteOnly.warningTimer != nil
	expiryArmed := absoluteOnly.expiryTimer != nil
	absoluteOnly.mu.Unlock()
	if armed {
		t.Fatal("warning timer must never arm for the absolute timeout alone")
	}
	if !expiryArmed {
		t.Fatal("expiry timer should still arm for the absolute timeout")
	}
}

func TestSessionService_WarningPayloadMinutesRemaining(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		WarningThresholdMinutes:  5,
		MaxConcurrentSessions:    5,
	}
	service, bus, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	meta, err := service.Create(ctx, testSessionData("user-1"))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	current = current.Add(25*time.Minute + 30*time.Second)
	service.onWarningTimer()

	if len(events) != 1 {
		t.Fatalf("expected 1 warning event, got %d", len(events))
	}
	payload, ok := events[0].Payload.(domain.SessionWarningPayload)
	if !ok {
		t.Fatalf("payload type = %T", events[0].Payload)
	}
	if payload.SessionID != meta.SessionID {
		t.Fatalf("warning session id = %s, want %s", payload.SessionID, meta.SessionID)
	}
	if payload.MinutesRemaining != 4 {
		t.Fatalf("minutes remaining = %d, want 4", payload.MinutesRemaining)
	}
	if stats := service.Stats(); stats.Warnings != 1 {
		t.Fatalf("warning counter = %d, want 1", stats.Warnings)
	}
}

func TestSessionService_PersistedRecordSurvivesRestart(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	logger := zaptest.NewLogger(t)
	bus := event.NewBus(logger)
	resolver := storage.NewResolver(
		storage.NewStore("durable", memory.NewStore(), logger),
		storage.NewStore("ephemeral", memory.NewStore(), logger),
	)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewSessionService(cfg, resolver, bus, logger).
		WithClock(func() time.Time { return current })
	meta, err := first.Create(context.Background(), testSessionData("user-1"))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	first.Shutdown()

	second := NewSessionService(cfg, resolver, bus, logger).
		WithClock(func() time.Time { return current.Add(5 * time.Minute) })
	t.Cleanup(second.Shutdown)

	got := second.Current(context.Background())
	if got == nil {
		t.Fatal("expected hydrated session after restart")
	}
	if got.UserID != "user-1" {
		t.Fatalf("hydrated user = %s, want user-1", got.UserID)
	}

	second.mu.Lock()
	hydratedID := second.currentID
	second.mu.Unlock()
	if hydratedID != meta.SessionID {
		t.Fatalf("hydrated session id = %s, want %s", hydratedID, meta.SessionID)
	}
}

func TestSessionService_PersistsTupleArrayPerUser(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	logger := zaptest.NewLogger(t)
	bus := event.NewBus(logger)
	resolver := storage.NewResolver(
		storage.NewStore("durable", memory.NewStore(), logger),
		storage.NewStore("ephemeral", memory.NewStore(), logger),
	)

	ctx := context.Background()
	for _, user := range []string{"user-b", "user-a"} {
		service := NewSessionService(cfg, resolver, bus, logger)
		if _, err := service.Create(ctx, testSessionData(user)); err != nil {
			t.Fatalf("create session for %s: %v", user, err)
		}
		service.Shutdown()
	}

	raw, ok := resolver.Durable().Get(ctx, sessionsKey)
	if !ok {
		t.Fatal("expected persisted session records")
	}

	var tuples [][2]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &tuples); err != nil {
		t.Fatalf("persisted value is not a tuple array: %v", err)
	}
	if len(tuples) != 2 {
		t.Fatalf("persisted tuples = %d, want 2", len(tuples))
	}

	var userID string
	if err := json.Unmarshal(tuples[0][0], &userID); err != nil {
		t.Fatalf("tuple head is not a user id string: %v", err)
	}
	if userID != "user-a" {
		t.Fatalf("tuples should sort by user id, got head %s", userID)
	}

	var record domain.StoredSession
	if err := json.Unmarshal(tuples[0][1], &record); err != nil {
		t.Fatalf("tuple body is not a stored session: %v", err)
	}
	if record.Metadata.SessionID == "" || record.SavedAt.IsZero() {
		t.Fatalf("stored record incomplete: %+v", record)
	}
}

func TestSessionService_DestroyEmitsLogout(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, bus, resolver := newTestSessionService(t, cfg)

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := service.Destroy(ctx); err != nil {
		t.Fatalf("destroy session: %v", err)
	}

	if len(events) != 1 || events[0].Type != domain.EventLogout {
		t.Fatalf("expected one logout event, got %+v", events)
	}
	if _, ok := resolver.Durable().Get(ctx, sessionsKey); ok {
		t.Fatal("persisted record should be removed on destroy")
	}
	if service.Current(ctx) != nil {
		t.Fatal("no session should remain after destroy")
	}

	// Destroying again is a no-op.
	if err := service.Destroy(ctx); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("no-op destroy must not emit, got %d events", len(events))
	}
}

func TestSessionService_DestroyAll(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, bus, resolver := newTestSessionService(t, cfg)

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	for _, user := range []string{"user-1", "user-2"} {
		if _, err := service.Create(ctx, testSessionData(user)); err != nil {
			t.Fatalf("create session for %s: %v", user, err)
		}
	}

	if err := service.DestroyAll(ctx); err != nil {
		t.Fatalf("destroy all: %v", err)
	}

	if stats := service.Stats(); stats.Tracked != 0 || stats.Destroyed != 2 {
		t.Fatalf("stats after destroy all = %+v", stats)
	}
	if _, ok := resolver.Durable().Get(ctx, sessionsKey); ok {
		t.Fatal("persisted records should be wiped")
	}

	sawLogout := false
	for _, evt := range events {
		if evt.Type == domain.EventLogout {
			sawLogout = true
		}
	}
	if !sawLogout {
		t.Fatal("expected a logout event from destroy all")
	}
}

func TestSessionService_StatusIsSideEffectFree(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, _, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	ctx := context.Background()
	if got := service.Status(ctx); got != domain.SessionStatusNone {
		t.Fatalf("status = %s, want %s", got, domain.SessionStatusNone)
	}

	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if got := service.Status(ctx); got != domain.SessionStatusActive {
		t.Fatalf("status = %s, want %s", got, domain.SessionStatusActive)
	}
	if !service.HasValidSession(ctx) {
		t.Fatal("expected valid session")
	}

	current = current.Add(31 * time.Minute)
	if got := service.Status(ctx); got != domain.SessionStatusExpired {
		t.Fatalf("status = %s, want %s", got, domain.SessionStatusExpired)
	}
	if stats := service.Stats(); stats.Tracked != 1 || stats.Expired != 0 {
		t.Fatalf("status must not destroy the record, stats = %+v", stats)
	}
}

func TestSessionService_SweepDestroysStaleRecords(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, bus, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	var events []domain.Event
	collectEvents(bus, &events)

	ctx := context.Background()
	for _, user := range []string{"user-1", "user-2"} {
		if _, err := service.Create(ctx, testSessionData(user)); err != nil {
			t.Fatalf("create session for %s: %v", user, err)
		}
	}

	current = current.Add(31 * time.Minute)
	service.sweep()

	if stats := service.Stats(); stats.Expired != 2 || stats.Tracked != 0 {
		t.Fatalf("stats after sweep = %+v", stats)
	}

	terminal := 0
	for _, evt := range events {
		if _, ok := evt.Payload.(domain.SessionExpiredPayload); ok {
			terminal++
		}
	}
	if terminal != 2 {
		t.Fatalf("terminal expiry events = %d, want 2", terminal)
	}
}

func TestSessionService_ExtendResetsClock(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
	}
	service, _, _ := newTestSessionService(t, cfg)

	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	service.WithClock(func() time.Time { return current })

	ctx := context.Background()

	err := service.Extend(ctx)
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || authErr.Code != domain.CodeSessionInvalid {
		t.Fatalf("extend without session should fail with session_invalid, got %v", err)
	}

	if _, err := service.Create(ctx, testSessionData("user-1")); err != nil {
		t.Fatalf("create session: %v", err)
	}

	current = current.Add(25 * time.Minute)
	if err := service.Extend(ctx); err != nil {
		t.Fatalf("extend session: %v", err)
	}

	current = current.Add(25 * time.Minute)
	if service.Current(ctx) == nil {
		t.Fatal("extend should have reset the inactivity clock")
	}
}

func TestSessionService_ShutdownBlocksFurtherUse(t *testing.T) {
	cfg := config.SessionSettings{
		InactivityTimeoutMinutes: 30,
		MaxConcurrentSessions:    5,
		SweepInterval:            10 * time.Millisecond,
	}
	service, _, _ := newTestSessionService(t, cfg)

	service.Shutdown()
	service.Shutdown()

	_, err := service.Create(context.Background(), testSessionData("user-1"))
	var authErr *domain.AuthError
	if !errors.As(err, &authErr) || authErr.Code != domain.CodeSessionInvalid {
		t.Fatalf("create after shutdown should fail with session_invalid, got %v", err)
	}
}
