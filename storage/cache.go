package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

type backend interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardTree, error)
}

// Cache wraps a Storage instance with Redis-backed caching for snapshot
// fetches. Writes evict the cached tree so the next snapshot is fresh.
type Cache struct {
	*Storage
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	c := &Cache{
		base:  base,
		redis: client,
		ttl:   ttl,
	}
	if s, ok := base.(*Storage); ok {
		c.Storage = s
	}
	return c
}

func (c *Cache) FetchBoard(ctx context.Context, boardID string) (domain.BoardTree, error) {
	if tree, ok := c.loadFromCache(ctx, boardID); ok {
		return tree, nil
	}

	tree, err := c.base.FetchBoard(ctx, boardID)
	if err != nil {
		return domain.BoardTree{}, err
	}

	c.store(ctx, boardID, tree)
	return tree, nil
}

// ForBoard returns a board-scoped persister that evicts the cached tree
// after every successful write.
func (c *Cache) ForBoard(boardID string) *CachedPersister {
	return &CachedPersister{inner: c.Storage.ForBoard(boardID), cache: c, boardID: boardID}
}

// CachedPersister pairs durable writes with snapshot cache eviction.
type CachedPersister struct {
	inner   *BoardPersister
	cache   *Cache
	boardID string
}

func (p *CachedPersister) Persist(ctx context.Context, c domain.Change) error {
	if err := p.inner.Persist(ctx, c); err != nil {
		return err
	}
	p.cache.evict(ctx, p.boardID)
	return nil
}

func (p *CachedPersister) MoveCard(ctx context.Context, cardID, columnID string, position int) error {
	if err := p.inner.MoveCard(ctx, cardID, columnID, position); err != nil {
		return err
	}
	p.cache.evict(ctx, p.boardID)
	return nil
}

func (p *CachedPersister) PersistPositions(ctx context.Context, entity domain.EntityType, updates []domain.PositionUpdate) error {
	if err := p.inner.PersistPositions(ctx, entity, updates); err != nil {
		return err
	}
	p.cache.evict(ctx, p.boardID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) (domain.BoardTree, bool) {
	if c.redis == nil {
		return domain.BoardTree{}, false
	}
	data, err := c.redis.Get(ctx, treeCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, treeCacheKey(boardID)).Err()
		}
		return domain.BoardTree{}, false
	}
	var tree domain.BoardTree
	if err := json.Unmarshal(data, &tree); err != nil {
		_ = c.redis.Del(ctx, treeCacheKey(boardID)).Err()
		return domain.BoardTree{}, false
	}
	return tree, true
}

func (c *Cache) store(ctx context.Context, boardID string, tree domain.BoardTree) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, treeCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, treeCacheKey(boardID)).Result()
}

func treeCacheKey(boardID string) string {
	return "boardtree:" + boardID
}
