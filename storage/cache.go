package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Rebelein/Refu-Lager-Vserver-sub001/domain"
)

type backend interface {
	List(ctx context.Context, kind domain.Kind) ([]domain.Entity, error)
	Get(ctx context.Context, kind domain.Kind, id domain.ID) (domain.Entity, error)
	Create(ctx context.Context, kind domain.Kind, ent domain.Entity) (domain.Entity, error)
	Update(ctx context.Context, kind domain.Kind, id domain.ID, ent domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, kind domain.Kind, id domain.ID) error
	Ping(ctx context.Context) error
}

// Cache wraps a backend with a Redis read-through cache for bulk reads.
// Writes through the cache evict the collection entry; the relay service
// evicts entries for writes made elsewhere.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper around base. A zero ttl disables caching.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	if ents, ok := c.load(ctx, kind); ok {
		return ents, nil
	}
	ents, err := c.base.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	c.store(ctx, kind, ents)
	return ents, nil
}

func (c *Cache) Get(ctx context.Context, kind domain.Kind, id domain.ID) (domain.Entity, error) {
	return c.base.Get(ctx, kind, id)
}

func (c *Cache) Create(ctx context.Context, kind domain.Kind, ent domain.Entity) (domain.Entity, error) {
	out, err := c.base.Create(ctx, kind, ent)
	if err != nil {
		return nil, err
	}
	c.Evict(ctx, kind.Name)
	return out, nil
}

func (c *Cache) Update(ctx context.Context, kind domain.Kind, id domain.ID, ent domain.Entity) (domain.Entity, error) {
	out, err := c.base.Update(ctx, kind, id, ent)
	if err != nil {
		return nil, err
	}
	c.Evict(ctx, kind.Name)
	return out, nil
}

func (c *Cache) Delete(ctx context.Context, kind domain.Kind, id domain.ID) error {
	if err := c.base.Delete(ctx, kind, id); err != nil {
		return err
	}
	c.Evict(ctx, kind.Name)
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

// Evict drops the cached bulk read of the named collection.
func (c *Cache) Evict(ctx context.Context, name string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, listCacheKey(name)).Err(); err != nil {
		log.WithError(err).WithField("collection", name).Warn("failed to evict list cache entry")
	}
}

func (c *Cache) load(ctx context.Context, kind domain.Kind) ([]domain.Entity, bool) {
	if c.redis == nil || c.ttl == 0 {
		return nil, false
	}
	key := listCacheKey(kind.Name)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var raws []json.RawMessage
	if err := sonic.Unmarshal(data, &raws); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	ents := make([]domain.Entity, 0, len(raws))
	for _, raw := range raws {
		ent := kind.New()
		if err := sonic.Unmarshal(raw, ent); err != nil {
			_ = c.redis.Del(ctx, key).Err()
			return nil, false
		}
		ents = append(ents, ent)
	}
	return ents, true
}

func (c *Cache) store(ctx context.Context, kind domain.Kind, ents []domain.Entity) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(ents)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, listCacheKey(kind.Name), data, c.ttl).Err()
}

func listCacheKey(name string) string {
	return "docs:" + name
}
