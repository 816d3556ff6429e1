package repository

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/contacts-api/internal/domain"
	pkgredis "github.com/prohmpiriya/contacts-api/pkg/redis"
)

//go:embed scripts/pop_reset_token.lua
var popResetTokenScript string

const scriptPopResetToken = "pop_reset_token"

// Key prefixes. Tokens are hashed so raw bearer credentials never appear in Redis keys.
const (
	userTokenPrefix  = "auth:user:token:"
	resetTokenPrefix = "auth:reset:token:"
)

// RedisSessionCache implements SessionCache using Redis
type RedisSessionCache struct {
	client *pkgredis.Client
}

// NewRedisSessionCache creates a new RedisSessionCache
func NewRedisSessionCache(client *pkgredis.Client) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

// LoadScripts loads the Lua scripts into Redis
func (c *RedisSessionCache) LoadScripts(ctx context.Context) error {
	if _, err := c.client.LoadScript(ctx, scriptPopResetToken, popResetTokenScript); err != nil {
		return fmt.Errorf("failed to load script %s: %w", scriptPopResetToken, err)
	}
	return nil
}

// PutUser caches a user snapshot under an access token
func (c *RedisSessionCache) PutUser(ctx context.Context, accessToken string, user *domain.CachedUser, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal cached user: %w", err)
	}
	return c.client.Set(ctx, userKey(accessToken), data, ttl).Err()
}

// GetUser returns the cached snapshot, or nil on miss
func (c *RedisSessionCache) GetUser(ctx context.Context, accessToken string) (*domain.CachedUser, error) {
	data, err := c.client.Get(ctx, userKey(accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var user domain.CachedUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached user: %w", err)
	}
	return &user, nil
}

// PutResetBinding binds a reset token to an email
func (c *RedisSessionCache) PutResetBinding(ctx context.Context, resetToken, email string, ttl time.Duration) error {
	return c.client.Set(ctx, resetKey(resetToken), email, ttl).Err()
}

// PopResetBinding atomically reads and deletes a reset binding.
// Servers without scripting fall back to GETDEL, which is equally atomic.
func (c *RedisSessionCache) PopResetBinding(ctx context.Context, resetToken string) (string, error) {
	key := resetKey(resetToken)

	email, err := c.client.EvalWithFallback(ctx, scriptPopResetToken, popResetTokenScript, []string{key}).Text()
	if pkgredis.IsScriptingUnavailable(err) {
		email, err = c.client.GetDel(ctx, key).Result()
	}
	if err != nil {
		if errors.Is(err, pkgredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to pop reset token: %w", err)
	}
	return email, nil
}

func userKey(token string) string {
	return userTokenPrefix + hashToken(token)
}

func resetKey(token string) string {
	return resetTokenPrefix + hashToken(token)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
