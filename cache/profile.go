// Package cache keeps rendered profile views in Redis.
// A nil client turns every call into a no-op so the server runs without Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// ProfileCache caches the documents rendered for an actor profile
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to addr; an empty addr returns a disabled cache
func New(addr string) *ProfileCache {
	if addr == "" {
		return &ProfileCache{ttl: DefaultTTL}
	}
	return NewWithClient(redis.NewClient(&redis.Options{Addr: addr}), DefaultTTL)
}

func NewWithClient(client *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{client: client, ttl: ttl}
}

// Enabled reports whether a Redis client is configured
func (c *ProfileCache) Enabled() bool {
	return c != nil && c.client != nil
}

// Ping checks the connection at startup
func (c *ProfileCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *ProfileCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

func profileKey(actorId uuid.UUID, view string) string {
	return fmt.Sprintf("profile:%s:%s", actorId, view)
}

// GetJSON loads a cached view into dest. Returns (true, nil) on a hit, (false, nil) on a miss.
func (c *ProfileCache) GetJSON(ctx context.Context, actorId uuid.UUID, view string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	s, err := c.client.Get(ctx, profileKey(actorId, view)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(s), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores a view and registers its key for invalidation
func (c *ProfileCache) SetJSON(ctx context.Context, actorId uuid.UUID, view string, v any) error {
	if !c.Enabled() {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key := profileKey(actorId, view)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, b, c.ttl)
	pipe.SAdd(ctx, viewsKey(actorId), key)
	pipe.Expire(ctx, viewsKey(actorId), c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// CacheAside serves a view from Redis or renders it with fetch and stores it best-effort
func (c *ProfileCache) CacheAside(ctx context.Context, actorId uuid.UUID, view string, dest any, fetch func() error) error {
	found, err := c.GetJSON(ctx, actorId, view, dest)
	if err == nil && found {
		return nil
	}
	if err := fetch(); err != nil {
		return err
	}
	_ = c.SetJSON(ctx, actorId, view, dest)
	return nil
}

func viewsKey(actorId uuid.UUID) string {
	return fmt.Sprintf("profile:%s:views", actorId)
}

// InvalidateProfile drops every cached view of an actor
func (c *ProfileCache) InvalidateProfile(ctx context.Context, actorId uuid.UUID) error {
	if !c.Enabled() {
		return nil
	}
	keys, err := c.client.SMembers(ctx, viewsKey(actorId)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys = append(keys, viewsKey(actorId))
	return c.client.Del(ctx, keys...).Err()
}
