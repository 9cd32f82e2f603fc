package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tasksync/domain"
)

// Cache wraps a task store with a Redis read-through cache for filtered
// lookups. Every mutation bumps the owner's cache generation before it
// returns, so a refetch issued after the mutation never reads a stale list.
// Owners whose bump failed are served from the base store until a later bump
// succeeds.
type Cache struct {
	base   domain.TaskStore
	redis  *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewCache creates a caching store wrapper using the provided Redis client and TTL.
func NewCache(base domain.TaskStore, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, logger: logger, dirty: make(map[string]struct{})}
}

func (c *Cache) FindTasks(ctx context.Context, ownerID string, f domain.Filter) ([]domain.Task, error) {
	if c.isDirty(ownerID) && !c.evict(ctx, ownerID) {
		return c.base.FindTasks(ctx, ownerID, f)
	}
	gen, ok := c.generation(ctx, ownerID)
	if ok {
		if tasks, hit := c.loadTasks(ctx, ownerID, gen, f); hit {
			return tasks, nil
		}
	}

	tasks, err := c.base.FindTasks(ctx, ownerID, f)
	if err != nil {
		return nil, err
	}
	if ok {
		c.storeTasks(ctx, ownerID, gen, f, tasks)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, ownerID, id string) (*domain.Task, error) {
	return c.base.GetTask(ctx, ownerID, id)
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.UserID)
	return nil
}

func (c *Cache) UpdateTask(ctx context.Context, ownerID, id string, mutate func(*domain.Task) error) (domain.Task, error) {
	t, err := c.base.UpdateTask(ctx, ownerID, id, mutate)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, ownerID)
	return t, nil
}

func (c *Cache) DeleteTask(ctx context.Context, ownerID, id string) error {
	if err := c.base.DeleteTask(ctx, ownerID, id); err != nil {
		return err
	}
	c.evict(ctx, ownerID)
	return nil
}

// generation returns the owner's current cache generation. ok is false when
// the cache is disabled or unreachable.
func (c *Cache) generation(ctx context.Context, ownerID string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(ownerID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, true
		}
		c.logger.WithError(err).WithField("owner", ownerID).Warn("read cache generation")
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadTasks(ctx context.Context, ownerID string, gen int64, f domain.Filter) ([]domain.Task, bool) {
	key := tasksCacheKey(ownerID, gen)
	data, err := c.redis.HGet(ctx, key, f.Key()).Bytes()
	if err != nil {
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("discarding corrupt cache entry")
		if err := c.redis.HDel(ctx, key, f.Key()).Err(); err != nil {
			c.logger.WithError(err).WithField("key", key).Warn("delete cache entry")
		}
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, ownerID string, gen int64, f domain.Filter, tasks []domain.Task) {
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	key := tasksCacheKey(ownerID, gen)
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, f.Key(), data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("store cache entry")
	}
}

// evict bumps the owner's generation. It reports false when the bump failed,
// in which case the owner stays marked dirty.
func (c *Cache) evict(ctx context.Context, ownerID string) bool {
	if c.redis == nil {
		return true
	}
	gen, err := c.redis.Incr(ctx, generationKey(ownerID)).Result()
	if err != nil {
		c.logger.WithError(err).WithField("owner", ownerID).Warn("bump cache generation")
		c.setDirty(ownerID, true)
		return false
	}
	c.setDirty(ownerID, false)
	if err := c.redis.Del(ctx, tasksCacheKey(ownerID, gen-1)).Err(); err != nil {
		c.logger.WithError(err).WithField("owner", ownerID).Warn("delete stale cache generation")
	}
	return true
}

func (c *Cache) isDirty(ownerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[ownerID]
	return ok
}

func (c *Cache) setDirty(ownerID string, dirty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dirty {
		c.dirty[ownerID] = struct{}{}
	} else {
		delete(c.dirty, ownerID)
	}
}

func generationKey(ownerID string) string {
	return "tasks:gen:" + ownerID
}

func tasksCacheKey(ownerID string, gen int64) string {
	return "tasks:" + ownerID + ":" + strconv.FormatInt(gen, 10)
}
