package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/contacts-api/pkg/response"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader is optional; requests without it run normally
	IdempotencyKeyHeader = "Idempotency-Key"
	// IdempotencyKeyPrefix namespaces idempotency records in Redis
	IdempotencyKeyPrefix = "idempotency:"

	DefaultIdempotencyTTL = 24 * time.Hour
	// A crashed request releases its key after this long
	DefaultProcessingTTL = 60 * time.Second

	maxIdempotencyKeyLength = 128
)

type idempotencyStatus string

const (
	statusProcessing idempotencyStatus = "processing"
	statusCompleted  idempotencyStatus = "completed"
)

type idempotencyRecord struct {
	Status       idempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code,omitempty"`
	ResponseBody string            `json:"response_body,omitempty"`
}

// IdempotencyStore is the subset of the Redis client the middleware needs
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// IdempotencyConfig configures Idempotency
type IdempotencyConfig struct {
	Store         IdempotencyStore
	TTL           time.Duration
	ProcessingTTL time.Duration
	// Scope separates keys of different callers, typically the user ID.
	// It runs after the auth middleware.
	Scope func(*gin.Context) string
}

// Idempotency replays the stored response when a request is retried with
// the same Idempotency-Key. Only 2xx responses are stored, so a failed
// attempt can be retried. Redis errors fail open.
func Idempotency(config IdempotencyConfig) gin.HandlerFunc {
	if config.TTL <= 0 {
		config.TTL = DefaultIdempotencyTTL
	}
	if config.ProcessingTTL <= 0 {
		config.ProcessingTTL = DefaultProcessingTTL
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, response.BadRequest("Idempotency-Key is too long"))
			return
		}

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}

		scope := ""
		if config.Scope != nil {
			scope = config.Scope(c)
		}
		redisKey := IdempotencyKeyPrefix + scope + ":" + key
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)
		ctx := c.Request.Context()

		record := idempotencyRecord{Status: statusProcessing, RequestHash: hash}
		claimed, err := claimRecord(ctx, config.Store, redisKey, record, config.ProcessingTTL)
		if err != nil {
			c.Next()
			return
		}
		if !claimed {
			existing, err := loadRecord(ctx, config.Store, redisKey)
			switch {
			case errors.Is(err, redis.Nil):
				// Released between SETNX and GET. Let the request through.
				c.Next()
			case err != nil:
				c.Next()
			case existing.RequestHash != hash:
				c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
					response.Error("IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was already used for a different request"))
			case existing.Status == statusProcessing:
				c.AbortWithStatusJSON(http.StatusConflict,
					response.Error("REQUEST_IN_PROGRESS", "A request with this Idempotency-Key is still being processed"))
			default:
				c.Header("Idempotent-Replayed", "true")
				c.Data(existing.ResponseCode, "application/json; charset=utf-8", []byte(existing.ResponseBody))
				c.Abort()
			}
			return
		}

		rw := &capturingWriter{ResponseWriter: c.Writer}
		c.Writer = rw

		c.Next()

		// The request context may already be canceled
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		status := rw.Status()
		if status < 200 || status >= 300 {
			config.Store.Del(saveCtx, redisKey)
			return
		}

		record.Status = statusCompleted
		record.ResponseCode = status
		record.ResponseBody = rw.body.String()
		data, err := json.Marshal(record)
		if err != nil {
			config.Store.Del(saveCtx, redisKey)
			return
		}
		config.Store.Set(saveCtx, redisKey, data, config.TTL)
	}
}

type capturingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func claimRecord(ctx context.Context, store IdempotencyStore, key string, record idempotencyRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, data, ttl).Result()
}

func loadRecord(ctx context.Context, store IdempotencyStore, key string) (*idempotencyRecord, error) {
	raw, err := store.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
