package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/event"
	"github.com/mohabh15/studio-sub000/internal/usecase"
)

func TestMetricsObserveCountsEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	bus := event.NewBus(zaptest.NewLogger(t))

	metrics.Observe(bus)

	bus.Publish(domain.Event{Type: domain.EventLogin, UserID: "user-1", Payload: domain.LoginPayload{
		Session: domain.SessionData{UserID: "user-1", Method: domain.AuthMethodPassword},
		Method:  domain.AuthMethodPassword,
	}})
	bus.Publish(domain.Event{Type: domain.EventLogin, UserID: "user-2", Payload: domain.LoginPayload{
		Session: domain.SessionData{UserID: "user-2", Method: domain.AuthMethodFederated},
		Method:  domain.AuthMethodFederated,
	}})
	bus.Publish(domain.Event{Type: domain.EventSignup, UserID: "user-3", Payload: domain.SignupPayload{
		UserID: "user-3",
		Email:  "new@example.com",
	}})
	bus.Publish(domain.Event{Type: domain.EventLogout, UserID: "user-1", Payload: domain.LogoutPayload{
		UserID: "user-1",
		Reason: "user",
	}})
	bus.Publish(domain.Event{Type: domain.EventSessionExpired, UserID: "user-2", Payload: domain.SessionWarningPayload{
		SessionID:        "sess-2",
		MinutesRemaining: 5,
	}})
	bus.Publish(domain.Event{Type: domain.EventSessionExpired, UserID: "user-2", Payload: domain.SessionExpiredPayload{
		SessionID: "sess-2",
		UserID:    "user-2",
		Reason:    domain.ExpiryReasonInactivity,
	}})
	bus.Publish(domain.Event{Type: domain.EventAuthError, Payload: domain.AuthErrorPayload{
		Operation: "login",
		Error:     domain.NewAuthError(domain.CodeInvalidCredentials, "rejected"),
	}})

	if got := testutil.ToFloat64(metrics.Logins.WithLabelValues("password")); got != 1 {
		t.Fatalf("expected 1 password login, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.Logins.WithLabelValues("federated")); got != 1 {
		t.Fatalf("expected 1 federated login, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.Signups); got != 1 {
		t.Fatalf("expected 1 signup, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.Logouts.WithLabelValues("user")); got != 1 {
		t.Fatalf("expected 1 user logout, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.SessionWarnings); got != 1 {
		t.Fatalf("expected 1 session warning, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsExpired.WithLabelValues("inactivity")); got != 1 {
		t.Fatalf("expected 1 inactivity expiry, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.AuthErrors.WithLabelValues("invalid_credentials")); got != 1 {
		t.Fatalf("expected 1 invalid_credentials error, got %f", got)
	}
}

func TestMetricsObserveDefaultsErrorCode(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	bus := event.NewBus(zaptest.NewLogger(t))

	metrics.Observe(bus)

	bus.Publish(domain.Event{Type: domain.EventAuthError, Payload: domain.AuthErrorPayload{
		Operation: "refresh",
	}})

	if got := testutil.ToFloat64(metrics.AuthErrors.WithLabelValues("internal")); got != 1 {
		t.Fatalf("expected missing error to count as internal, got %f", got)
	}
}

func TestMetricsObserveStopsAfterUnsubscribe(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	bus := event.NewBus(zaptest.NewLogger(t))

	id := metrics.Observe(bus)

	bus.Publish(domain.Event{Type: domain.EventSignup, Payload: domain.SignupPayload{UserID: "user-1"}})
	bus.Unsubscribe(id)
	bus.Publish(domain.Event{Type: domain.EventSignup, Payload: domain.SignupPayload{UserID: "user-2"}})

	if got := testutil.ToFloat64(metrics.Signups); got != 1 {
		t.Fatalf("expected counting to stop after unsubscribe, got %f", got)
	}
}

func TestStatsCollectorExportsSnapshot(t *testing.T) {
	collector := NewStatsCollector(func() usecase.AuthStats {
		return usecase.AuthStats{
			Token: usecase.TokenStats{
				Saves:           4,
				Reads:           9,
				Clears:          2,
				Refreshes:       3,
				RefreshFailures: 1,
				ScheduledFires:  2,
			},
			Session: usecase.SessionStats{
				Created:         4,
				Destroyed:       3,
				Expired:         1,
				ActivityUpdates: 17,
				Tracked:         1,
			},
			Bus: event.Stats{
				Published:   25,
				Delivered:   50,
				Subscribers: 2,
			},
		}
	})

	if got := testutil.CollectAndCount(collector); got != 14 {
		t.Fatalf("expected 14 series, got %d", got)
	}

	expected := `
# HELP authd_sessions_tracked Sessions currently tracked in memory.
# TYPE authd_sessions_tracked gauge
authd_sessions_tracked 1
# HELP authd_token_refresh_failures_total Failed credential refreshes.
# TYPE authd_token_refresh_failures_total counter
authd_token_refresh_failures_total 1
# HELP authd_token_saves_total Credential pairs persisted.
# TYPE authd_token_saves_total counter
authd_token_saves_total 4
# HELP authd_bus_events_delivered_total Event deliveries to subscribers.
# TYPE authd_bus_events_delivered_total counter
authd_bus_events_delivered_total 50
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"authd_sessions_tracked",
		"authd_token_refresh_failures_total",
		"authd_token_saves_total",
		"authd_bus_events_delivered_total",
	)
	if err != nil {
		t.Fatalf("unexpected snapshot export: %v", err)
	}
}

func TestStatsCollectorRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	collector := NewStatsCollector(func() usecase.AuthStats { return usecase.AuthStats{} })
	if err := registry.Register(collector); err != nil {
		t.Fatalf("expected collector to register alongside event metrics: %v", err)
	}
}
