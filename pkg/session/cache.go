package session

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	session *Session
	cachedAt time.Time
}

// CachingStore wraps a Store with a short-TTL in-process read-through
// cache, grounded on the original gateway's session_cache: avoids a round
// trip to the backing store on every audio chunk. Writes go through to the
// backing store and then replace (Save) or patch (SavePublishedLen) the
// cached entry, so a save is always visible to the next load on this
// instance.
type CachingStore struct {
	backing Store
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCachingStore wraps backing with a cache of the given TTL (the
// specification names 30s as an example).
func NewCachingStore(backing Store, ttl time.Duration) *CachingStore {
	return &CachingStore{backing: backing, ttl: ttl, cache: make(map[string]cacheEntry)}
}

func (c *CachingStore) Load(ctx context.Context, clientID string) (*Session, error) {
	c.mu.Lock()
	if e, ok := c.cache[clientID]; ok && time.Since(e.cachedAt) < c.ttl {
		c.mu.Unlock()
		return e.session, nil
	}
	c.mu.Unlock()

	s, err := c.backing.Load(ctx, clientID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[clientID] = cacheEntry{session: s, cachedAt: time.Now()}
	c.mu.Unlock()
	return s, nil
}

func (c *CachingStore) Save(ctx context.Context, s *Session) error {
	if err := c.backing.Save(ctx, s); err != nil {
		return err
	}
	c.mu.Lock()
	c.cache[s.ClientID] = cacheEntry{session: s, cachedAt: time.Now()}
	c.mu.Unlock()
	return nil
}

func (c *CachingStore) SavePublishedLen(ctx context.Context, clientID string, lastPublishedLen int) error {
	if err := c.backing.SavePublishedLen(ctx, clientID, lastPublishedLen); err != nil {
		return err
	}
	c.mu.Lock()
	if e, ok := c.cache[clientID]; ok {
		e.session.LastPublishedLen = lastPublishedLen
		e.cachedAt = time.Now()
		c.cache[clientID] = e
	}
	c.mu.Unlock()
	return nil
}

func (c *CachingStore) Delete(ctx context.Context, clientID string) error {
	if err := c.backing.Delete(ctx, clientID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, clientID)
	c.mu.Unlock()
	return nil
}

// Invalidate drops a client's cached entry without touching the backing
// store, used when a caller mutates state out of band.
func (c *CachingStore) Invalidate(clientID string) {
	c.mu.Lock()
	delete(c.cache, clientID)
	c.mu.Unlock()
}
