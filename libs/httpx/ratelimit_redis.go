package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares a fixed-window quota across gateway instances.
type RedisRateLimiter struct {
	rdb    redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

// hitScript returns {hits, pttl}. The expiry is set on the first hit only so
// the window does not slide.
var hitScript = redis.NewScript(`
local hits = redis.call("INCR", KEYS[1])
if hits == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`)

func NewRedisRateLimiter(rdb redis.Scripter, limit int, win time.Duration, prefix string) *RedisRateLimiter {
	limit, win = limiterDefaults(limit, win)
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: win, prefix: prefix}
}

func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return rateLimit(rl, logger, failOpen)
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (Quota, error) {
	vals, err := hitScript.Run(ctx, rl.rdb, []string{rl.prefix + ":" + key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Quota{}, err
	}
	if len(vals) != 2 {
		return Quota{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}
	return Quota{
		Limit:     rl.limit,
		Remaining: rl.limit - int(vals[0]),
		ResetIn:   time.Duration(vals[1]) * time.Millisecond,
	}, nil
}
