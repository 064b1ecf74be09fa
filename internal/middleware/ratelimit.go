package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/config"
)

// KindRateLimited is the error kind of a 429 response.
const KindRateLimited = "RateLimited"

// tokenBucketScript refills the bucket by whole intervals, takes one token
// when possible and returns {allowed, remaining, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local capacity = tonumber(ARGV[2])
	local refill_tokens = tonumber(ARGV[3])
	local interval_ms = tonumber(ARGV[4])
	local ttl_seconds = tonumber(ARGV[5])

	local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
	local tokens = tonumber(state[1])
	local last_refill = tonumber(state[2])
	if tokens == nil or last_refill == nil then
		tokens = capacity
		last_refill = now_ms
	end

	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end

	local allowed = 0
	local retry_after_ms = 0
	if tokens > 0 then
		allowed = 1
		tokens = tokens - 1
	else
		retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
	redis.call('EXPIRE', key, ttl_seconds)
	return { allowed, tokens, retry_after_ms }
`)

// bucketResult is one decision of the limiter.
type bucketResult struct {
	allowed   bool
	remaining int64
	retry     time.Duration
}

type tokenBucket struct {
	cfg config.RateLimitConfig
	rdb redis.Scripter
	now func() time.Time
}

func (b *tokenBucket) take(ctx context.Context, key string) (bucketResult, error) {
	args := []interface{}{
		b.now().UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL / time.Second),
	}
	vals, err := tokenBucketScript.Run(ctx, b.rdb, []string{key}, args...).Slice()
	if err != nil {
		return bucketResult{}, err
	}
	if len(vals) != 3 {
		return bucketResult{}, fmt.Errorf("unexpected limiter result %#v", vals)
	}
	return bucketResult{
		allowed:   asInt64(vals[0]) == 1,
		remaining: asInt64(vals[1]),
		retry:     time.Duration(asInt64(vals[2])) * time.Millisecond,
	}, nil
}

// NewTokenBucket limits requests per key with a Redis-backed token bucket.
// Redis errors let the request through; the limiter protects capacity, it
// does not guard correctness.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log logrus.FieldLogger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	return newTokenBucket(cfg, rdb, log)
}

func newTokenBucket(cfg config.RateLimitConfig, rdb redis.Scripter, log logrus.FieldLogger) echo.MiddlewareFunc {
	b := &tokenBucket{cfg: cfg, rdb: rdb, now: time.Now}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := buildRateKey(cfg, c)
			res, err := b.take(c.Request().Context(), key)
			if err != nil {
				log.WithError(err).WithField("key", key).Warn("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if res.allowed {
				return next(c)
			}

			secs := int(math.Ceil(res.retry.Seconds()))
			h.Set("Retry-After", strconv.Itoa(secs))
			if cfg.Debug {
				log.WithFields(logrus.Fields{"key": key, "retry_ms": res.retry.Milliseconds()}).Info("rate limited")
			}
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"kind":       KindRateLimited,
				"message":    "rate limit exceeded",
				"retryAfter": secs,
			})
		}
	}
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func buildRateKey(cfg config.RateLimitConfig, c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = "unknown"
	}
	uid := userID(c)
	route := c.Request().Method + " " + c.Path()

	parts := []string{cfg.Prefix}
	switch strings.ToLower(cfg.KeyStrategy) {
	case "ip":
		parts = append(parts, "ip", ip)
	case "user":
		parts = append(parts, "user", uid)
	case "route":
		parts = append(parts, "route", route)
	case "ip_user":
		parts = append(parts, "ip", ip, "user", uid)
	case "ip_route":
		parts = append(parts, "ip", ip, "route", route)
	case "user_route":
		parts = append(parts, "user", uid, "route", route)
	default:
		parts = append(parts, "ip", ip, "user", uid, "route", route)
	}
	return strings.Join(parts, ":")
}
