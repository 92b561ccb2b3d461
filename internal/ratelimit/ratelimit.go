// Package ratelimit implements fixed-window request limiting on the shared
// counter store. It is abuse protection, independent of billing quotas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/counter"
)

// Limiter counts requests per key within fixed windows. The logic is
// stateless; all counts live in the counter store, so every handler instance
// enforces the same window.
type Limiter struct {
	store counter.Store
	now   func() time.Time

	// failClosed controls behavior when the counter store is unreachable:
	// false (default) admits the request with a warning, true rejects it.
	// Intake availability is usually worth more than strict limiting, so
	// fail-open is the default; tenants fronting expensive downstream work
	// can flip it.
	failClosed bool
}

// NewLimiter creates a Limiter on the given counter store.
func NewLimiter(store counter.Store, failClosed bool) *Limiter {
	return &Limiter{store: store, now: time.Now, failClosed: failClosed}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow reports whether one more request under key fits inside the current
// window of at most max requests per window duration.
//
// The counter key embeds the window start, so a fresh window begins exactly
// every `window` since the epoch. The increment happens before the verdict:
// a denied request still counts against the window, which keeps hammering
// clients denied instead of letting them race the boundary.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) bool {
	if max <= 0 || window <= 0 {
		return true
	}

	windowStart := l.now().UnixMilli() / window.Milliseconds() * window.Milliseconds()
	bucketKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart)

	count, err := l.store.IncrBy(ctx, bucketKey, 1, window)
	if err != nil {
		zap.L().Warn("ratelimit: counter store unavailable",
			zap.String("key", key),
			zap.Bool("fail_closed", l.failClosed),
			zap.Error(err),
		)
		return !l.failClosed
	}

	allowed := count <= int64(max)
	if !allowed {
		zap.L().Debug("ratelimit: denied",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Int("max", max),
		)
	}
	return allowed
}
