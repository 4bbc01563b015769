package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"retryflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// tokenBucketScript implements the Token Bucket algorithm.
// Input: ARGV[1]=rate, ARGV[2]=capacity, ARGV[3]=now, ARGV[4]=requested
// Output: { allowed, remaining, reset_after }
var tokenBucketScript = redis.NewScript(`
local tokens_key = KEYS[1]
local ts_key = KEYS[2]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

local fill_time = capacity / rate
local ttl = math.ceil(fill_time * 2)

-- Load state
local last_tokens = tonumber(redis.call("get", tokens_key))
if last_tokens == nil then last_tokens = capacity end

local last_ts = tonumber(redis.call("get", ts_key))
if last_ts == nil then last_ts = now end

-- Refill
local delta = math.max(0, now - last_ts)
local filled_tokens = math.min(capacity, last_tokens + (delta * rate))
local allowed = 0
local remaining = filled_tokens
local reset_after = 0

if filled_tokens >= requested then
    allowed = 1
    filled_tokens = filled_tokens - requested
    remaining = filled_tokens
else
    allowed = 0
    remaining = filled_tokens
    reset_after = (requested - filled_tokens) / rate
end

if allowed == 1 then
    redis.call("set", tokens_key, filled_tokens, "EX", ttl)
    redis.call("set", ts_key, now, "EX", ttl)
end

return { allowed, remaining, reset_after }
`)

const (
	rateLimitKeyPrefix = "retryflow:ratelimit:"
	localIdleTTL       = 10 * time.Minute
	redisBudget        = 100 * time.Millisecond
)

type localLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter is a per-caller token bucket kept in redis. When redis is
// unreachable it fails open onto in-process limiters with the same rate.
type RateLimiter struct {
	rdb   redis.Scripter
	rps   int
	burst int
	local sync.Map // caller -> *localLimiter
}

func NewRateLimiter(rdb redis.Scripter, requestsPerSecond int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &RateLimiter{rdb: rdb, rps: requestsPerSecond, burst: requestsPerSecond}
}

// Run evicts idle local limiters until ctx is cancelled.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(localIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *RateLimiter) evictIdle(now time.Time) {
	l.local.Range(func(key, value any) bool {
		if now.UnixNano()-value.(*localLimiter).lastSeen.Load() > int64(localIdleTTL) {
			l.local.Delete(key)
		}
		return true
	})
}

func (l *RateLimiter) localFor(caller string) *rate.Limiter {
	v, _ := l.local.LoadOrStore(caller, &localLimiter{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)})
	ll := v.(*localLimiter)
	ll.lastSeen.Store(time.Now().UnixNano())
	return ll.limiter
}

// callerKey buckets client nodes by group so one noisy group cannot starve
// the rest; anything else is bucketed by address.
func callerKey(c *gin.Context) string {
	if group := c.GetHeader(GroupHeader); group != "" {
		return "group:" + group
	}
	return "ip:" + c.ClientIP()
}

func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerKey(c)
		prefix := rateLimitKeyPrefix + caller
		keys := []string{prefix + ":tokens", prefix + ":ts"}
		args := []any{
			float64(l.rps),
			float64(l.burst),
			float64(time.Now().UnixMicro()) / 1e6,
			1,
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), redisBudget)
		result, err := tokenBucketScript.Run(ctx, l.rdb, keys, args...).Result()
		cancel()

		c.Header("X-RateLimit-Limit", strconv.Itoa(l.rps))

		if err != nil {
			logger.Warn("redis rate limit failed, using local limiter",
				zap.Error(err),
				zap.String("caller", caller))

			limiter := l.localFor(caller)
			if !limiter.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
				return
			}
			c.Header("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			c.Next()
			return
		}

		res, ok := result.([]any)
		if !ok || len(res) != 3 {
			logger.Error("invalid redis rate limit response", zap.Any("response", result))
			c.Next()
			return
		}

		allowed := toInt(res[0]) == 1
		remaining := toInt(res[1])
		resetAfter := toFloat(res[2])

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(resetAfter*float64(time.Second))).Unix(), 10))

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
			return
		}
		c.Next()
	}
}

func toInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	default:
		return 0
	}
}
