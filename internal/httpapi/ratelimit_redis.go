package httpapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local ttl_seconds = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
  tokens = capacity
  last_refill = now_ms
end

if interval_ms > 0 then
  local elapsed = math.max(0, now_ms - last_refill)
  local intervals = math.floor(elapsed / interval_ms)
  if intervals > 0 then
    tokens = math.min(capacity, tokens + intervals)
    last_refill = last_refill + (intervals * interval_ms)
  end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after_ms = interval_ms - (now_ms - last_refill)
  if retry_after_ms < 0 then retry_after_ms = 0 end
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, retry_after_ms }
`)

// RedisLimiter is a token bucket shared by every API replica. Each client key
// holds up to burst tokens and regains one every 1/perSecond seconds.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	burst    int
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, burst int, perSecond float64) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "consultdesk:rate_limit"
	}
	if burst <= 0 {
		burst = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	interval := time.Duration(float64(time.Second) / perSecond)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ttl := time.Duration(burst) * interval * 2
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return &RedisLimiter{
		client:   client,
		prefix:   prefix,
		burst:    burst,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.client == nil {
		return true, 0, nil
	}
	rkey := fmt.Sprintf("%s:%s", l.prefix, key)
	args := []any{
		l.now().UnixMilli(),
		l.burst,
		l.interval.Milliseconds(),
		int64(l.ttl / time.Second),
	}
	raw, err := tokenBucketScript.Run(ctx, l.client, []string{rkey}, args...).Result()
	if err != nil {
		return false, 0, err
	}
	return parseBucketReply(raw)
}

func parseBucketReply(raw any) (bool, time.Duration, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter allowed type: %T", values[0])
	}
	retryMs, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("unexpected redis limiter retry type: %T", values[1])
	}
	return allowed == 1, time.Duration(retryMs) * time.Millisecond, nil
}

// FallbackLimiter asks primary first and falls back to secondary when
// primary returns an error, so an unreachable Redis degrades to per-replica limits.
type FallbackLimiter struct {
	Primary   Limiter
	Secondary Limiter
}

func (f FallbackLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	ok, retry, err := f.Primary.Allow(ctx, key)
	if err == nil {
		return ok, retry, nil
	}
	if f.Secondary == nil {
		return false, 0, err
	}
	return f.Secondary.Allow(ctx, key)
}
