package domain

import (
	"strconv"
	"strings"
	"time"
)

// TokenState classifies the credential pair held by the token store.
type TokenState string

const (
	// TokenStateAbsent means no structurally valid pair is stored.
	TokenStateAbsent TokenState = "absent"
	// TokenStateValid means the pair is stored and outside the expiry threshold.
	TokenStateValid TokenState = "valid"
	// TokenStateExpiringSoon means the pair expires within the configured threshold.
	TokenStateExpiringSoon TokenState = "expiring_soon"
	// TokenStateExpired means the pair is past its expiration instant.
	TokenStateExpired TokenState = "expired"
)

// TokenData is the credential pair obtained from the identity provider.
// A pair whose expiration has passed is unusable regardless of cached copies.
type TokenData struct {
	AccessToken    string    `json:"accessToken"`
	RefreshToken   string    `json:"refreshToken"`
	ExpirationTime time.Time `json:"expirationTime"`
	IssuedAt       time.Time `json:"issuedAt"`
	TokenType      string    `json:"tokenType"`
}

// Valid reports whether all required fields are present and the expiration
// postdates issuance.
func (t TokenData) Valid() bool {
	if strings.TrimSpace(t.AccessToken) == "" || strings.TrimSpace(t.RefreshToken) == "" {
		return false
	}
	if t.ExpirationTime.IsZero() || t.IssuedAt.IsZero() {
		return false
	}
	return t.ExpirationTime.After(t.IssuedAt)
}

// IsExpired reports whether the pair is unusable at the given instant.
func (t TokenData) IsExpired(at time.Time) bool {
	return !t.ExpirationTime.After(at)
}

// ExpiresWithin reports whether the pair expires at or before now+threshold.
func (t TokenData) ExpiresWithin(at time.Time, threshold time.Duration) bool {
	return !t.ExpirationTime.After(at.Add(threshold))
}

// TimeUntilExpiration returns the whole minutes remaining, floored, never negative.
func (t TokenData) TimeUntilExpiration(at time.Time) int {
	remaining := t.ExpirationTime.Sub(at)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Minutes())
}

// ExpirationString renders the expiration as the epoch-milliseconds numeric
// string stored in the tokenExpiration cookie.
func (t TokenData) ExpirationString() string {
	return strconv.FormatInt(t.ExpirationTime.UnixMilli(), 10)
}

// ParseTokenExpiration parses an epoch-milliseconds numeric string. The bool
// result is false when the input is not numeric.
func ParseTokenExpiration(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}
