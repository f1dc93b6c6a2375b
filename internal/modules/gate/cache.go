package gate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rakshanetra/core/internal/models"
	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

// Cache remembers a principal's bound token across restarts so a session can
// rehydrate without waiting for a fresh grant. Restored tokens are always
// re-resolved before use.
type Cache interface {
	Load(ctx context.Context, principal string) (*models.TokenModel, error)
	Store(ctx context.Context, principal string, t *models.TokenModel, ttl time.Duration) error
	Clear(ctx context.Context, principal string) error
}

const activeKeyPrefix = "rn:gate:active:"

// RedisCache is the production Cache backed by the shared Redis client.
type RedisCache struct {
	rc *pkgredis.Client
}

func NewRedisCache(rc *pkgredis.Client) *RedisCache {
	return &RedisCache{rc: rc}
}

func (c *RedisCache) Load(ctx context.Context, principal string) (*models.TokenModel, error) {
	raw, err := c.rc.Get(ctx, activeKeyPrefix+principal)
	if err != nil || raw == "" {
		return nil, err
	}
	var t models.TokenModel
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		_ = c.rc.Del(ctx, activeKeyPrefix+principal)
		return nil, nil
	}
	return &t, nil
}

func (c *RedisCache) Store(ctx context.Context, principal string, t *models.TokenModel, ttl time.Duration) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, activeKeyPrefix+principal, payload, ttl)
}

func (c *RedisCache) Clear(ctx context.Context, principal string) error {
	return c.rc.Del(ctx, activeKeyPrefix+principal)
}
