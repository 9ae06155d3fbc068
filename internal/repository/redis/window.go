package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for a sliding window over an ordered set.
// KEYS[1] = key
// ARGV[1] = now_ms
// ARGV[2] = window_ms
// ARGV[3] = limit (0 = no limit, count only)
// ARGV[4] = member (unique)
const luaSlidingWindow = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

-- remove expired
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
-- add current hit
redis.call('ZADD', key, 'NX', now, member)
local count = redis.call('ZCARD', key)
-- keep TTL ~ window
redis.call('PEXPIRE', key, window)

if limit > 0 and count > limit then
  local earliest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local earliestScore = tonumber(earliest[2]) or (now - window)
  local retry_ms = window - (now - earliestScore)
  if retry_ms < 0 then retry_ms = 0 end
  return {0, count, retry_ms}
end
return {1, count, 0}
`

// SlidingWindow counts hits per key over a trailing window. With a limit it
// is a rate limiter; with limit 0 it is the hold-creation rate source the
// allocation strategy reads.
type SlidingWindow struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	script *redis.Script
}

func NewSlidingWindow(
	rdb *redis.Client,
	prefix string,
	limit int,
	window time.Duration,
) *SlidingWindow {
	return &SlidingWindow{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		script: redis.NewScript(luaSlidingWindow),
	}
}

func (w *SlidingWindow) key(suffix string) string {
	return fmt.Sprintf("%s:%s", w.prefix, suffix)
}

// Allow records a hit and reports whether the key stays within the limit.
func (w *SlidingWindow) Allow(ctx context.Context, suffix string) (allowed bool, current int64, retryAfter time.Duration, err error) {
	return w.run(ctx, suffix, w.limit)
}

// Observe records a hit and returns the hit count within the trailing
// window, with no limit applied.
func (w *SlidingWindow) Observe(ctx context.Context, suffix string) (int64, error) {
	_, current, _, err := w.run(ctx, suffix, 0)
	return current, err
}

func (w *SlidingWindow) run(ctx context.Context, suffix string, limit int) (allowed bool, current int64, retryAfter time.Duration, err error) {
	key := w.key(suffix)
	nowMs := time.Now().UnixNano() / 1e6
	winMs := w.window.Milliseconds()
	member := randomHex(12)

	res, err := w.script.Run(
		ctx,
		w.rdb,
		[]string{key},
		nowMs, winMs, limit, member,
	).Result()
	if err != nil {
		return false, 0, 0, err
	}

	arr, ok := res.([]any)
	if !ok || len(arr) != 3 {
		return false, 0, 0, fmt.Errorf("bad script result: %v", res)
	}

	allowed = toInt(arr[0]) == 1
	current = toInt(arr[1])
	retryAfter = time.Duration(toInt(arr[2])) * time.Millisecond

	return
}

func toInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		var x int64
		fmt.Sscan(t, &x)
		return x
	default:
		return 0
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
