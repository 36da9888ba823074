package port

import (
	"context"
	"time"
)

// RateLimitStore tracks attempts inside a sliding window so the transport can
// throttle abusive clients. Hit records and counts in one round trip.
type RateLimitStore interface {
	Hit(ctx context.Context, identifier string, window time.Duration, at time.Time) (int, error)
	RetryAfter(ctx context.Context, identifier string, window time.Duration, at time.Time) (time.Duration, bool, error)
}
