package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"live-quiz-service/internal/app"
)

// SessionIDLoader resolves a join code against the backing store.
type SessionIDLoader interface {
	LoadSessionID(ctx context.Context, code string) (string, error)
}

// CodeIndex caches join code lookups with TTL to avoid repeated store hits
// while a crowd joins the same session.
type CodeIndex struct {
	loader SessionIDLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	rndMu sync.Mutex
	cache map[string]cachedCode
}

type cachedCode struct {
	sessionID string
	expiresAt time.Time
}

var _ app.CodeIndex = (*CodeIndex)(nil)

func NewCodeIndex(loader SessionIDLoader, ttl time.Duration) *CodeIndex {
	return &CodeIndex{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedCode),
	}
}

func (c *CodeIndex) Resolve(ctx context.Context, code string) (string, error) {
	if id, ok := c.cached(code); ok {
		return id, nil
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		if id, ok := c.cached(code); ok {
			return id, nil
		}
		id, err := c.loader.LoadSessionID(ctx, code)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cache[code] = cachedCode{sessionID: id, expiresAt: c.clock().Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *CodeIndex) Forget(_ context.Context, code string) {
	c.mu.Lock()
	delete(c.cache, code)
	c.mu.Unlock()
}

func (c *CodeIndex) cached(code string) (string, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[code]; ok && entry.expiresAt.After(now) {
		return entry.sessionID, true
	}
	return "", false
}

func (c *CodeIndex) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
