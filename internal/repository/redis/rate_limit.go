package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/mohabh15/studio-sub000/internal/core/port"
)

const defaultRateLimitPrefix = "authd:rate-limit"

// RateLimitStore tracks login attempts in Redis sorted sets so the transport
// can apply a sliding-window limit per client.
type RateLimitStore struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)

// NewRateLimitStore constructs the sliding-window attempt store. The TTL
// bounds how long idle windows linger; it should exceed the window length.
func NewRateLimitStore(client *red.Client, keyPrefix string, ttl time.Duration) *RateLimitStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitStore{client: client, prefix: prefix, ttl: ttl}
}

// Hit records an attempt at the given instant, discards attempts older than
// the window, and returns how many attempts remain inside it.
func (r *RateLimitStore) Hit(ctx context.Context, identifier string, window time.Duration, at time.Time) (int, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive")
	}

	key := r.key(identifier)
	threshold := strconv.FormatInt(at.Add(-window).UnixNano(), 10)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", threshold)
	pipe.ZAdd(ctx, key, red.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()})
	count := pipe.ZCard(ctx, key)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis rate limit hit: %w", err)
	}

	return int(count.Val()), nil
}

// RetryAfter reports how long until the oldest in-window attempt leaves the
// window. False when the window is empty.
func (r *RateLimitStore) RetryAfter(ctx context.Context, identifier string, window time.Duration, at time.Time) (time.Duration, bool, error) {
	if window <= 0 {
		return 0, false, fmt.Errorf("window must be positive")
	}

	key := r.key(identifier)
	values, err := r.client.ZRangeByScore(ctx, key, &red.ZRangeBy{
		Min:    strconv.FormatInt(at.Add(-window).UnixNano(), 10),
		Max:    strconv.FormatInt(at.UnixNano(), 10),
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("redis rate limit oldest: %w", err)
	}
	if len(values) == 0 {
		return 0, false, nil
	}

	oldest, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse attempt timestamp: %w", err)
	}

	retryAfter := time.Unix(0, oldest).Add(window).Sub(at)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return retryAfter, true, nil
}

func (r *RateLimitStore) key(identifier string) string {
	return fmt.Sprintf("%s:%s", r.prefix, identifier)
}
