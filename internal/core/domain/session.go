package domain

import "time"

// AuthMethod identifies how the user proved their identity.
type AuthMethod string

const (
	// AuthMethodPassword marks sessions established with email and password.
	AuthMethodPassword AuthMethod = "password"
	// AuthMethodFederated marks sessions established through an external provider.
	AuthMethodFederated AuthMethod = "federated"
	// AuthMethodAnonymous marks guest sessions without a verified identity.
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// SessionStatus is the derived read-only state of the tracked session.
type SessionStatus string

const (
	// SessionStatusNone means no session is tracked.
	SessionStatusNone SessionStatus = "none"
	// SessionStatusActive means a session is tracked and not expired.
	SessionStatusActive SessionStatus = "active"
	// SessionStatusExpired means the tracked session failed the dual-timeout rule.
	SessionStatusExpired SessionStatus = "expired"
)

// SessionData is the identity snapshot of the signed-in user. The session
// store owns the live record; consumers receive copies, never references.
type SessionData struct {
	UserID         string     `json:"userId"`
	Email          string     `json:"email,omitempty"`
	DisplayName    string     `json:"displayName,omitempty"`
	AvatarURL      string     `json:"avatarUrl,omitempty"`
	EmailVerified  bool       `json:"emailVerified"`
	Method         AuthMethod `json:"authMethod"`
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	Active         bool       `json:"active"`
}

// SessionMetadata is the operational record keyed by the generated session
// identifier. One record exists per concurrent session and drives the
// inactivity and absolute-lifetime timers.
type SessionMetadata struct {
	SessionID         string    `json:"sessionId"`
	CreatedAt         time.Time `json:"createdAt"`
	LastActivityAt    time.Time `json:"lastActivityAt"`
	DeviceFingerprint string    `json:"deviceFingerprint,omitempty"`
	Active            bool      `json:"active"`
	PendingAutoExtend bool      `json:"pendingAutoExtend"`
}

// Touch refreshes the activity timestamp.
func (m *SessionMetadata) Touch(at time.Time) {
	m.LastActivityAt = at
}

// ExpiredAt applies the dual-timeout rule: the session is expired when the
// absolute lifetime is exceeded (if configured) or the inactivity window is
// exceeded (if configured). Both timeouts at zero means the session never
// expires.
func (m SessionMetadata) ExpiredAt(at time.Time, inactivity, absolute time.Duration) bool {
	if absolute > 0 && at.Sub(m.CreatedAt) > absolute {
		return true
	}
	if inactivity > 0 && at.Sub(m.LastActivityAt) > inactivity {
		return true
	}
	return false
}

// StoredSession is the persisted record kept under the app_sessions key, one
// per user, replaced on every save.
type StoredSession struct {
	SessionData SessionData     `json:"sessionData"`
	Metadata    SessionMetadata `json:"metadata"`
	SavedAt     time.Time       `json:"savedAt"`
}
