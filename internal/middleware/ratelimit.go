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
    "go.uber.org/zap"

    "github.com/iliyamo/hub-lending/internal/config"
)

// bucketScript refills and takes one token atomically.  It returns
// {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
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
        tokens = math.min(capacity, tokens + intervals * refill_tokens)
        last_refill = last_refill + intervals * interval_ms
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

// decision is the outcome of one bucket take.
type decision struct {
    allowed   bool
    remaining int64
    retry     time.Duration
}

// tokenBucket is a Redis-backed bucket shared by every API instance.
type tokenBucket struct {
    cfg config.RateLimitConfig
    rdb *redis.Client
}

func (b tokenBucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
    vals, err := bucketScript.Run(ctx, b.rdb, []string{key},
        now.UnixMilli(),
        b.cfg.Capacity,
        b.cfg.RefillTokens,
        b.cfg.RefillInterval.Milliseconds(),
        int64(b.cfg.TTL/time.Second),
    ).Int64Slice()
    if err != nil {
        return decision{}, err
    }
    if len(vals) != 3 {
        return decision{}, fmt.Errorf("unexpected limiter reply %v", vals)
    }
    return decision{
        allowed:   vals[0] == 1,
        remaining: vals[1],
        retry:     time.Duration(vals[2]) * time.Millisecond,
    }, nil
}

// NewTokenBucket limits requests per key with a token bucket held in Redis.
// A nil client or a disabled config yields a pass-through middleware, and a
// Redis error lets the request through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, log *zap.Logger) echo.MiddlewareFunc {
    if !cfg.Enabled || rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    bucket := tokenBucket{cfg: cfg, rdb: rdb}
    limit := strconv.Itoa(cfg.Capacity)

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := rateKey(cfg, c)
            d, err := bucket.take(c.Request().Context(), key, time.Now())
            if err != nil {
                log.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
                return next(c)
            }

            h := c.Response().Header()
            h.Set("X-RateLimit-Limit", limit)
            h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
            if d.allowed {
                return next(c)
            }

            secs := retryAfter(d.retry)
            h.Set("Retry-After", strconv.Itoa(secs))
            if cfg.Debug {
                log.Debug("rate limited", zap.String("key", key), zap.Duration("retry", d.retry))
            }
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate limit exceeded",
                "code":        "too_many_requests",
                "retry_after": secs,
            })
        }
    }
}

// retryAfter rounds a wait up to whole seconds.
func retryAfter(d time.Duration) int {
    return int(math.Max(0, math.Ceil(d.Seconds())))
}

// rateKey composes the bucket key from cfg.KeyStrategy.  "user_route", the
// default, gives each borrower one budget per endpoint.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
    ip := c.RealIP()
    if ip == "" {
        ip = "unknown"
    }
    uid := currentUserID(c)
    route := c.Request().Method + " " + c.Path()

    parts := []string{cfg.Prefix}
    switch strings.ToLower(cfg.KeyStrategy) {
    case "ip":
        parts = append(parts, "ip", ip)
    case "user":
        parts = append(parts, "user", uid)
    case "ip_route":
        parts = append(parts, "ip", ip, "route", route)
    default:
        parts = append(parts, "user", uid, "route", route)
    }
    return strings.Join(parts, ":")
}
