package middleware

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/pkg/logger"
	pkgredis "github.com/prohmpiriya/contacts-api/pkg/redis"
	"github.com/prohmpiriya/contacts-api/pkg/response"
	"github.com/prohmpiriya/contacts-api/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

//go:embed scripts/token_bucket.lua
var tokenBucketScript string

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Refill rate per second per client IP
	RequestsPerSecond int
	// Token bucket capacity
	BurstSize int
	// Use Redis so every replica shares the same buckets
	UseRedis bool
	// Required if UseRedis is true
	RedisClient *pkgredis.Client
	// Namespaces the buckets, one prefix per limited route
	KeyPrefix string
	// Cleanup interval for the local limiter
	CleanupInterval time.Duration
	// Idle entries older than this are dropped by the local limiter
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns the /users/me limit: 10 requests per second
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         10,
		KeyPrefix:         "ratelimit:",
		CleanupInterval:   time.Minute,
		EntryTTL:          time.Minute,
	}
}

// rateLimitEntry tracks rate limit state for an IP
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// LocalRateLimiter implements in-memory token bucket rate limiting
type LocalRateLimiter struct {
	config   RateLimitConfig
	entries  sync.Map
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	totalAllowed  uint64
	totalRejected uint64
}

// NewLocalRateLimiter creates a local rate limiter and starts its cleanup goroutine
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if config.EntryTTL <= 0 {
		config.EntryTTL = time.Minute
	}

	rl := &LocalRateLimiter{
		config: config,
		stop:   make(chan struct{}),
		now:    time.Now,
	}

	go rl.cleanup()

	return rl
}

// AllowWithRemaining consumes a token for key and reports the tokens left
func (rl *LocalRateLimiter) AllowWithRemaining(key string) (bool, int) {
	now := rl.now()

	entry, _ := rl.entries.LoadOrStore(key, &rateLimitEntry{
		tokens:     float64(rl.config.BurstSize),
		lastUpdate: now,
	})
	e := entry.(*rateLimitEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.lastUpdate).Seconds()
	if elapsed > 0 {
		e.tokens = min(float64(rl.config.BurstSize), e.tokens+elapsed*float64(rl.config.RequestsPerSecond))
		e.lastUpdate = now
	}

	if e.tokens >= 1 {
		e.tokens--
		atomic.AddUint64(&rl.totalAllowed, 1)
		return true, int(e.tokens)
	}

	atomic.AddUint64(&rl.totalRejected, 1)
	return false, 0
}

// GetStats returns rate limiter statistics
func (rl *LocalRateLimiter) GetStats() (allowed, rejected uint64) {
	return atomic.LoadUint64(&rl.totalAllowed), atomic.LoadUint64(&rl.totalRejected)
}

func (rl *LocalRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := rl.now().Add(-rl.config.EntryTTL)
			rl.entries.Range(func(key, value interface{}) bool {
				e := value.(*rateLimitEntry)
				e.mu.Lock()
				if e.lastUpdate.Before(cutoff) {
					rl.entries.Delete(key)
				}
				e.mu.Unlock()
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (rl *LocalRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RedisRateLimiter implements Redis-based distributed rate limiting
type RedisRateLimiter struct {
	config RateLimitConfig
	now    func() time.Time
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(config RateLimitConfig) *RedisRateLimiter {
	return &RedisRateLimiter{config: config, now: time.Now}
}

// AllowWithRemaining runs the token bucket script for key
func (rl *RedisRateLimiter) AllowWithRemaining(ctx context.Context, key string) (bool, int, error) {
	now := float64(rl.now().UnixNano()) / 1e9

	values, err := rl.config.RedisClient.EvalWithFallback(ctx, "token_bucket", tokenBucketScript,
		[]string{rl.config.KeyPrefix + key},
		rl.config.RequestsPerSecond,
		rl.config.BurstSize,
		strconv.FormatFloat(now, 'f', 6, 64),
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(values) < 2 {
		return false, 0, fmt.Errorf("unexpected result length: %d", len(values))
	}

	return values[0] == 1, int(values[1]), nil
}

// RateLimiter is a per-client-IP token bucket middleware
type RateLimiter struct {
	config RateLimitConfig
	local  *LocalRateLimiter
	redis  *RedisRateLimiter
}

// NewRateLimiter picks the Redis limiter when configured, the local one otherwise
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{config: config}
	if config.UseRedis && config.RedisClient != nil {
		rl.redis = NewRedisRateLimiter(config)
	} else {
		rl.local = NewLocalRateLimiter(config)
	}
	return rl
}

// Stop releases the local limiter's cleanup goroutine
func (rl *RateLimiter) Stop() {
	if rl.local != nil {
		rl.local.Stop()
	}
}

// Handler returns the gin middleware
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		clientIP := c.ClientIP()
		span.SetAttributes(attribute.String("client_ip", clientIP))

		var allowed bool
		var remaining int
		if rl.redis != nil {
			var err error
			allowed, remaining, err = rl.redis.AllowWithRemaining(ctx, clientIP)
			if err != nil {
				// Fail open: the limiter must not take the endpoint down with Redis
				logger.Get().WarnContext(ctx, "rate limiter redis error", zap.Error(err))
				allowed, remaining = true, rl.config.BurstSize-1
			}
		} else {
			allowed, remaining = rl.local.AllowWithRemaining(clientIP)
		}

		span.SetAttributes(attribute.Bool("allowed", allowed))

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.Error("RATE_LIMITED", "Rate limit exceeded. Please retry after 1 second(s)."))
			return
		}

		span.SetStatus(codes.Ok, "")
		c.Next()
	}
}
