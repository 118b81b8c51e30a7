package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultUserTTL = 10 * time.Minute

// UserInfo is what the front-end reports about a subject.
type UserInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username,omitempty"`
}

// DisplayName prefers @username, then the name, then the raw id.
func (u UserInfo) DisplayName() string {
	switch {
	case u.Username != "":
		return "@" + u.Username
	case u.Name != "":
		return u.Name
	}
	return u.ID
}

// UserCache keeps recently resolved subjects so point creation does not ask
// the front-end every time.
type UserCache interface {
	Get(ctx context.Context, id string) (UserInfo, bool, error)
	Put(ctx context.Context, u UserInfo) error
}

// user key: ppost:user:<id>
func userKey(id string) string { return "ppost:user:" + id }

// kv is the part of redis.Cmdable the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisUserCache struct {
	rdb kv
	ttl time.Duration
}

func NewRedisUserCache(rdb redis.Cmdable, ttl time.Duration) *RedisUserCache {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	return &RedisUserCache{rdb: rdb, ttl: ttl}
}

func (c *RedisUserCache) Get(ctx context.Context, id string) (UserInfo, bool, error) {
	val, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return UserInfo{}, false, nil
	}
	if err != nil {
		return UserInfo{}, false, err
	}
	var u UserInfo
	if err := json.Unmarshal(val, &u); err != nil {
		// a corrupt entry is a miss; the next Put overwrites it
		return UserInfo{}, false, nil
	}
	return u, true, nil
}

func (c *RedisUserCache) Put(ctx context.Context, u UserInfo) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, userKey(u.ID), b, c.ttl).Err()
}

// MemUserCache is the in-process fallback when no redis is configured.
type MemUserCache struct {
	mu  sync.Mutex
	m   map[string]memUser
	ttl time.Duration
	now func() time.Time
}

type memUser struct {
	u   UserInfo
	exp time.Time
}

func NewMemUserCache(ttl time.Duration, now func() time.Time) *MemUserCache {
	if ttl <= 0 {
		ttl = DefaultUserTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemUserCache{m: make(map[string]memUser), ttl: ttl, now: now}
}

func (c *MemUserCache) Get(_ context.Context, id string) (UserInfo, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[id]
	if !ok {
		return UserInfo{}, false, nil
	}
	if !c.now().Before(e.exp) {
		delete(c.m, id)
		return UserInfo{}, false, nil
	}
	return e.u, true, nil
}

func (c *MemUserCache) Put(_ context.Context, u UserInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
		}
	}
	c.m[u.ID] = memUser{u: u, exp: now.Add(c.ttl)}
	return nil
}
