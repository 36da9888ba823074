package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohabh15/studio-sub000/internal/core/domain"
	"github.com/mohabh15/studio-sub000/internal/event"
)

const namespace = "authd"

// Metrics holds the subsystem's prometheus collectors. Event-driven counters
// are fed through Observe; HTTP collectors are fed by the transport
// middleware.
type Metrics struct {
	Logins          *prometheus.CounterVec
	Signups         prometheus.Counter
	Logouts         *prometheus.CounterVec
	SessionsExpired *prometheus.CounterVec
	SessionWarnings prometheus.Counter
	AuthErrors      *prometheus.CounterVec

	StorageDegradations *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Sessions established, labeled by authentication method.",
		}, []string{"method"}),
		Signups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signups_total",
			Help:      "Accounts created.",
		}),
		Logouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logouts_total",
			Help:      "Sessions torn down, labeled by teardown reason.",
		}, []string{"reason"}),
		SessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Sessions terminated by the dual-timeout rule, labeled by rule.",
		}, []string{"reason"}),
		SessionWarnings: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_warnings_total",
			Help:      "Pre-expiry warnings published.",
		}),
		AuthErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_errors_total",
			Help:      "Failed public operations, labeled by error code.",
		}, []string{"code"}),

		StorageDegradations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_degradations_total",
			Help:      "Driver failures absorbed into null reads or no-op writes.",
		}, []string{"backend", "op"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// DegradationHook adapts the degradation counter to the storage layer's
// callback signature.
func (m *Metrics) DegradationHook() func(backend, op string) {
	return func(backend, op string) {
		m.StorageDegradations.WithLabelValues(backend, op).Inc()
	}
}

// Observe feeds the event-driven counters from the bus.
func (m *Metrics) Observe(bus *event.Bus) event.SubscriptionID {
	return bus.Subscribe(event.AllEvents, func(evt domain.Event) {
		switch payload := evt.Payload.(type) {
		case domain.LoginPayload:
			m.Logins.WithLabelValues(string(payload.Method)).Inc()
		case domain.SignupPayload:
			m.Signups.Inc()
		case domain.LogoutPayload:
			m.Logouts.WithLabelValues(payload.Reason).Inc()
		case domain.SessionWarningPayload:
			m.SessionWarnings.Inc()
		case domain.SessionExpiredPayload:
			m.SessionsExpired.WithLabelValues(string(payload.Reason)).Inc()
		case domain.AuthErrorPayload:
			code := string(domain.CodeInternal)
			if payload.Error != nil {
				code = string(payload.Error.Code)
			}
			m.AuthErrors.WithLabelValues(code).Inc()
		}
	})
}
