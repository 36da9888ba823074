package port

import (
	"context"
	"net/http"
	"time"
)

// KeyValueStore is the driver contract shared by the durable and ephemeral
// storage backends. Drivers report failures as ordinary errors, with
// repository.ErrNotFound signalling a miss; the storage facade above this
// interface absorbs every failure into null reads and no-op writes.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}

// CookieOptions carries the attributes applied when writing a cookie.
type CookieOptions struct {
	Expires  time.Time
	MaxAge   int
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieJar is the cookie storage tier. Access is local and never fails;
// jars degrade to no-ops when the underlying medium is unavailable.
type CookieJar interface {
	Get(name string) (string, bool)
	Set(name string, value string, opts CookieOptions)
	Delete(name string, opts CookieOptions)
}
