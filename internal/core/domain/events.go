package domain

import "time"

// EventType names the closed event taxonomy published on the bus.
type EventType string

const (
	// EventLogin fires after a session and credential pair are established.
	EventLogin EventType = "login"
	// EventLogout fires after session teardown, explicit or forced.
	EventLogout EventType = "logout"
	// EventSignup fires after a successful account creation.
	EventSignup EventType = "signup"
	// EventSessionExpired carries either a warning payload with minutes
	// remaining or a terminal expiry payload.
	EventSessionExpired EventType = "session-expired"
	// EventAuthError fires whenever a public operation fails.
	EventAuthError EventType = "auth-error"
)

// Event is the envelope delivered to bus subscribers.
type Event struct {
	ID      string
	Type    EventType
	UserID  string
	At      time.Time
	Payload any
}

// LoginPayload accompanies EventLogin.
type LoginPayload struct {
	Session SessionData
	Method  AuthMethod
}

// LogoutPayload accompanies EventLogout.
type LogoutPayload struct {
	UserID string
	Reason string
}

// SignupPayload accompanies EventSignup.
type SignupPayload struct {
	UserID string
	Email  string
}

// SessionWarningPayload is the pre-expiry notification carried by
// EventSessionExpired before the terminal event.
type SessionWarningPayload struct {
	SessionID        string
	MinutesRemaining int
}

// ExpiryReason states which rule terminated the session.
type ExpiryReason string

const (
	// ExpiryReasonInactivity means the inactivity window elapsed.
	ExpiryReasonInactivity ExpiryReason = "inactivity"
	// ExpiryReasonAbsolute means the absolute lifetime elapsed.
	ExpiryReasonAbsolute ExpiryReason = "absolute"
)

// SessionExpiredPayload is the terminal payload carried by EventSessionExpired.
type SessionExpiredPayload struct {
	SessionID string
	UserID    string
	Reason    ExpiryReason
}

// AuthErrorPayload accompanies EventAuthError.
type AuthErrorPayload struct {
	Operation string
	Error     *AuthError
}
