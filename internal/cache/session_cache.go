package cache

import (
	"context"
	"encoding/json"
	"time"

	"flipfocus/internal/model"

	"github.com/redis/go-redis/v9"
)

// SessionCache mirrors live-session snapshots in Redis so list endpoints can
// serve the friend view without a store round trip. Entries carry a TTL as a
// backstop; the reaper evicts them explicitly when a session dies.
type SessionCache interface {
	Set(ctx context.Context, session *model.LiveSession) error
	Get(ctx context.Context, id string) (*model.LiveSession, error)
	Delete(ctx context.Context, id string) error
}

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionCache(client *redis.Client) SessionCache {
	return &sessionCache{
		client: client,
		ttl:    10 * time.Minute,
	}
}

func (c *sessionCache) key(id string) string {
	return "session:" + id
}

func (c *sessionCache) Set(ctx context.Context, session *model.LiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(session.ID), data, c.ttl).Err()
}

func (c *sessionCache) Get(ctx context.Context, id string) (*model.LiveSession, error) {
	data, err := c.client.Get(ctx, c.key(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var session model.LiveSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *sessionCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, c.key(id)).Err()
}
