package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisRateLimiterOptions configures the shared limiter.
type RedisRateLimiterOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Timeout  time.Duration
}

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter constructs a limiter whose counters are shared by every API replica.
func NewRedisRateLimiter(opts RedisRateLimiterOptions, logger *slog.Logger) (RateLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger, prefix: opts.Prefix, timeout: timeout}, nil
}

// Allow counts and reads the window in one round trip. Redis errors let the request through.
func (rl *redisRateLimiter) Allow(key string, limit RateLimit) rateDecision {
	if limit.Requests <= 0 {
		return rateDecision{allowed: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	var count *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		count = p.Incr(ctx, redisKey)
		ttl = p.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		rl.logger.Warn("deploy rate limit check failed, allowing request", "key", redisKey, "error", err)
		return rateDecision{allowed: true}
	}

	left := ttl.Val()
	if left <= 0 {
		// First hit in the window, or an expiry lost to an earlier failure.
		left = limit.window()
		if err := rl.client.PExpire(ctx, redisKey, left).Err(); err != nil {
			rl.logger.Warn("deploy rate limit expiry failed", "key", redisKey, "error", err)
		}
	}
	return decide(int(count.Val()), limit, time.Now().Add(left))
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
