package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript applies one request to the hash at KEYS[1] atomically.
// Times are unix milliseconds.  Returns {allowed, remaining, reset_ms, retry_ms}.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local max = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local st = redis.call('HMGET', key, 'window_start', 'count', 'blocked_until')
local ws = tonumber(st[1])
local count = tonumber(st[2]) or 0
local bu = tonumber(st[3]) or 0

if bu > now then
    return {0, 0, bu, bu - now}
end

if ws == nil or bu > 0 or now - ws >= window then
    ws = now
    count = 0
    bu = 0
end

if count >= max then
    bu = now + window
    redis.call('HSET', key, 'window_start', ws, 'count', count, 'blocked_until', bu)
    redis.call('PEXPIRE', key, window)
    return {0, 0, bu, window}
end

count = count + 1
redis.call('HSET', key, 'window_start', ws, 'count', count, 'blocked_until', 0)
redis.call('PEXPIRE', key, ws + window - now)
return {1, max - count, ws + window, 0}
`)

// RedisStore keeps window state in Redis.  The script runs atomically per
// key, so every instance sharing the Redis sees exact counts.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, p Profile, now time.Time) (Decision, error) {
	vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{s.prefix + ":" + key},
		now.UnixMilli(), p.Max, p.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit script: %w", err)
	}
	return decodeScriptResult(vals, p)
}

func decodeScriptResult(vals interface{}, p Profile) (Decision, error) {
	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 4 {
		return Decision{}, fmt.Errorf("ratelimit script: unexpected result %#v", vals)
	}
	return Decision{
		Allowed:    asInt64(arr[0]) == 1,
		Limit:      p.Max,
		Remaining:  int(asInt64(arr[1])),
		Reset:      time.UnixMilli(asInt64(arr[2])),
		RetryAfter: time.Duration(asInt64(arr[3])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
