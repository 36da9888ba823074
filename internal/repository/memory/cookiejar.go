package memory

import (
	"sync"
	"time"

	"github.com/mohabh15/studio-sub000/internal/core/port"
)

type cookieEntry struct {
	value     string
	expiresAt time.Time
	opts      port.CookieOptions
}

func (e cookieEntry) expired(at time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(at)
}

// CookieJar is the in-process cookie tier used when no HTTP exchange carries
// the cookies. Expiry attributes are honored on read; other attributes are
// retained so a transport adapter can replay them.
type CookieJar struct {
	mu      sync.RWMutex
	entries map[string]cookieEntry
	now     func() time.Time
}

var _ port.CookieJar = (*CookieJar)(nil)

// NewCookieJar builds an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		entries: make(map[string]cookieEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the jar clock for deterministic tests.
func (j *CookieJar) WithClock(clock func() time.Time) *CookieJar {
	if clock != nil {
		j.now = clock
	}
	return j
}

// Get returns the cookie value when present and not expired.
func (j *CookieJar) Get(name string) (string, bool) {
	j.mu.RLock()
	entry, ok := j.entries[name]
	j.mu.RUnlock()

	if !ok {
		return "", false
	}
	if entry.expired(j.now()) {
		j.mu.Lock()
		delete(j.entries, name)
		j.mu.Unlock()
		return "", false
	}
	return entry.value, true
}

// Set stores the cookie. A negative MaxAge removes the cookie immediately,
// matching Set-Cookie semantics.
func (j *CookieJar) Set(name string, value string, opts port.CookieOptions) {
	if opts.MaxAge < 0 {
		j.Delete(name, opts)
		return
	}

	entry := cookieEntry{value: value, opts: opts}
	switch {
	case opts.MaxAge > 0:
		entry.expiresAt = j.now().Add(time.Duration(opts.MaxAge) * time.Second)
	case !opts.Expires.IsZero():
		entry.expiresAt = opts.Expires
	}

	j.mu.Lock()
	j.entries[name] = entry
	j.mu.Unlock()
}

// Delete removes the cookie if present.
func (j *CookieJar) Delete(name string, _ port.CookieOptions) {
	j.mu.Lock()
	delete(j.entries, name)
	j.mu.Unlock()
}

// Len reports the number of live cookies.
func (j *CookieJar) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
