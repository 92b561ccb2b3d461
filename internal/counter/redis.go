package counter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisStore implements Store on a shared Redis instance. INCRBY is atomic
// server-side, so concurrent handlers across instances see a single counter.
type RedisStore struct {
	client *redis.Client
}

// NewRedis connects to Redis using a URL (redis://host:port/db) and pings it.
func NewRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "counter: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "counter: ping redis")
	}
	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client (tests, shared pools).
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// IncrBy atomically increments key by n. The TTL is attached only on first
// write: INCRBY and a conditional EXPIRE NX travel in one pipeline, so the
// window expiry set by the creating request is never extended by later ones.
func (s *RedisStore) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, eris.Wrapf(err, "counter: incr %s", key)
	}
	return incr.Val(), nil
}

// incrIfBelow runs check-and-increment server-side so it is atomic across
// all handler instances.
var incrIfBelow = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
if c + n > max then
	return {c, 0}
end
c = redis.call('INCRBY', KEYS[1], n)
local ttl = tonumber(ARGV[3])
if ttl > 0 and redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return {c, 1}
`)

// IncrIfBelow atomically increments key by n unless that would push it past
// max. Returns the resulting (or unchanged) count and whether the increment
// was applied.
func (s *RedisStore) IncrIfBelow(ctx context.Context, key string, n, max int64, ttl time.Duration) (int64, bool, error) {
	res, err := incrIfBelow.Run(ctx, s.client, []string{key}, n, max, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, eris.Wrapf(err, "counter: conditional incr %s", key)
	}
	if len(res) != 2 {
		return 0, false, eris.Errorf("counter: conditional incr %s: unexpected reply", key)
	}
	return res[0], res[1] == 1, nil
}

// Get returns the current count for key, 0 when absent.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrapf(err, "counter: get %s", key)
	}
	return val, nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
