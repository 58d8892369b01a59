package hierarchy

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// DefaultDecisionTTL bounds how stale a cached access decision may be.
const DefaultDecisionTTL = time.Minute

// CachedAccess wraps an AccessChecker with a snapshot of recent decisions.
// Entries expire after the TTL; Refresh drops the whole snapshot, e.g. after
// a membership change. Errors are never cached.
type CachedAccess struct {
	next  AccessChecker
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedAccess creates a CachedAccess. A non-positive ttl uses
// DefaultDecisionTTL.
func NewCachedAccess(next AccessChecker, ttl time.Duration) (*CachedAccess, error) {
	if next == nil {
		return nil, fmt.Errorf("NewCachedAccess: nil checker")
	}
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("NewCachedAccess: %w", err)
	}
	return &CachedAccess{next: next, cache: cache, ttl: ttl}, nil
}

// CanAccessScope implements AccessChecker.
func (c *CachedAccess) CanAccessScope(ctx context.Context, userID string, ref storage.ScopeRef) (bool, error) {
	return c.decide(ctx, "access|"+userID+"|"+ref.String(), func() (bool, error) {
		return c.next.CanAccessScope(ctx, userID, ref)
	})
}

// CanManageScope implements AccessChecker.
func (c *CachedAccess) CanManageScope(ctx context.Context, userID string, ref storage.ScopeRef) (bool, error) {
	return c.decide(ctx, "manage|"+userID+"|"+ref.String(), func() (bool, error) {
		return c.next.CanManageScope(ctx, userID, ref)
	})
}

func (c *CachedAccess) decide(_ context.Context, key string, load func() (bool, error)) (bool, error) {
	if v, ok := c.cache.Get(key); ok {
		if allowed, ok := v.(bool); ok {
			return allowed, nil
		}
	}
	allowed, err := load()
	if err != nil {
		return false, err
	}
	c.cache.SetWithTTL(key, allowed, 1, c.ttl)
	return allowed, nil
}

// Refresh discards every cached decision.
func (c *CachedAccess) Refresh() {
	c.cache.Clear()
}

// Wait blocks until pending cache writes are applied.
func (c *CachedAccess) Wait() {
	c.cache.Wait()
}

// Close releases the cache.
func (c *CachedAccess) Close() {
	c.cache.Close()
}
