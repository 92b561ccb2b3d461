// Package counter abstracts the shared atomic counter store backing rate
// limiting and usage metering. All state lives outside the process, so any
// number of stateless handlers can increment the same key safely.
package counter

import (
	"context"
	"time"
)

// Store is an atomic increment-and-read counter keyed by string.
//
// IncrBy must be a single atomic operation returning the post-increment
// value; read-then-write is not acceptable, two concurrent callers would
// both observe the same prior count. A ttl > 0 applies only when the
// increment creates the key, giving fixed-window keys their expiry.
type Store interface {
	IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error)

	// IncrIfBelow increments key by n only when the post-increment value
	// would not exceed max, and reports whether the increment happened.
	// Check and increment are one atomic operation: two concurrent callers
	// can never both slip under the same remaining headroom. The returned
	// count is post-increment on success and the untouched current value on
	// refusal.
	IncrIfBelow(ctx context.Context, key string, n, max int64, ttl time.Duration) (count int64, ok bool, err error)

	Get(ctx context.Context, key string) (int64, error)
	Close() error
}
