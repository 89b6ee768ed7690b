package redis

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/infra/memory"
)

// CodeIndex caches join code lookups in Redis and falls back to the loader on a miss.
// Entries are stored as: SET quiz:code:{CODE} {sessionID} EX ttl
type CodeIndex struct {
	client *redis.Client
	loader memory.SessionIDLoader
	ttl    time.Duration
	log    *zap.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

var _ app.CodeIndex = (*CodeIndex)(nil)

func NewCodeIndex(client *redis.Client, loader memory.SessionIDLoader, ttl time.Duration, log *zap.Logger) *CodeIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &CodeIndex{
		client: client,
		loader: loader,
		ttl:    ttl,
		log:    log,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CodeIndex) Resolve(ctx context.Context, code string) (string, error) {
	if id, ok := c.cached(ctx, code); ok {
		return id, nil
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if id, ok := c.cached(ctx, code); ok {
			return id, nil
		}
		id, err := c.loader.LoadSessionID(ctx, code)
		if err != nil {
			return "", err
		}
		if err := c.client.Set(ctx, c.key(code), id, c.ttlWithJitter()).Err(); err != nil {
			c.log.Warn("cache join code", zap.String("code", code), zap.Error(err))
		}
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *CodeIndex) Forget(ctx context.Context, code string) {
	if err := c.client.Del(ctx, c.key(code)).Err(); err != nil {
		c.log.Warn("evict join code", zap.String("code", code), zap.Error(err))
	}
}

func (c *CodeIndex) cached(ctx context.Context, code string) (string, bool) {
	id, err := c.client.Get(ctx, c.key(code)).Result()
	if err == nil && id != "" {
		return id, true
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("read join code cache", zap.String("code", code), zap.Error(err))
	}
	return "", false
}

func (c *CodeIndex) key(code string) string {
	return "quiz:code:" + code
}

func (c *CodeIndex) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
