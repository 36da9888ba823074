package domain

import (
	"strings"
	"time"
)

// PersistenceMode selects the fallback storage tier for tokens and sessions.
type PersistenceMode string

const (
	// PersistenceDurable keeps records in the durable key-value backend.
	PersistenceDurable PersistenceMode = "durable"
	// PersistenceEphemeral keeps records in process-lifetime memory only.
	PersistenceEphemeral PersistenceMode = "ephemeral"
	// PersistenceNone drops all writes; reads always miss.
	PersistenceNone PersistenceMode = "none"
)

// ParsePersistenceMode normalises textual input, defaulting to durable.
func ParsePersistenceMode(value string) PersistenceMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(PersistenceEphemeral):
		return PersistenceEphemeral
	case string(PersistenceNone):
		return PersistenceNone
	default:
		return PersistenceDurable
	}
}

// AuthStatus is the orchestrator's coarse session status machine.
type AuthStatus string

const (
	// StatusLoading is the initial state and the state after a hard reset,
	// before the provider subscription delivers the first notification.
	StatusLoading AuthStatus = "loading"
	// StatusAuthenticated means a live session and credential pair exist.
	StatusAuthenticated AuthStatus = "authenticated"
	// StatusUnauthenticated means no session is established.
	StatusUnauthenticated AuthStatus = "unauthenticated"
	// StatusExpired means the session expired and forced-logout cleanup is
	// pending or in progress.
	StatusExpired AuthStatus = "expired"
)

// CanTransition reports whether the status machine permits moving between the
// two states. Loading resolves to authenticated or unauthenticated;
// authenticated degrades to unauthenticated or expired; expired always drains
// into unauthenticated after cleanup.
func (s AuthStatus) CanTransition(to AuthStatus) bool {
	if s == to {
		return true
	}
	switch s {
	case StatusLoading:
		return to == StatusAuthenticated || to == StatusUnauthenticated
	case StatusAuthenticated:
		return to == StatusUnauthenticated || to == StatusExpired
	case StatusUnauthenticated:
		return to == StatusAuthenticated || to == StatusLoading
	case StatusExpired:
		return to == StatusUnauthenticated
	default:
		return false
	}
}

// AuthState is the single externally observed structure. Consumers receive
// value snapshots rebuilt on every relevant mutation; nothing here is shared.
type AuthState struct {
	Session               *SessionData
	Status                AuthStatus
	Mode                  PersistenceMode
	Loading               bool
	Busy                  bool
	LastError             *AuthError
	EmailVerified         bool
	VerificationEmailSent bool
	UpdatedAt             time.Time
}

// Clone returns a deep copy safe to hand to consumers.
func (s AuthState) Clone() AuthState {
	out := s
	if s.Session != nil {
		sessionCopy := *s.Session
		out.Session = &sessionCopy
	}
	if s.LastError != nil {
		errCopy := *s.LastError
		out.LastError = &errCopy
	}
	return out
}
