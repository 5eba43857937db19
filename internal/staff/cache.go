package staff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type cacheEntry struct {
	members   []Member
	expiresAt time.Time
}

// CachedDirectory memoizes ListUsers per tenant for a short TTL. The directory
// is read-mostly; a stale entry lives at most ttl.
type CachedDirectory struct {
	next   Directory
	cache  *lru.Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedDirectory wraps next. A non-positive ttl disables caching.
func NewCachedDirectory(log *slog.Logger, next Directory, size int, ttl time.Duration) (*CachedDirectory, error) {
	if log == nil {
		log = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create staff cache: %w", err)
	}
	return &CachedDirectory{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		logger: log.With(slog.String("component", "staff_cache")),
	}, nil
}

func (c *CachedDirectory) ListUsers(ctx context.Context, tenantID string) ([]Member, error) {
	if c.ttl > 0 {
		if value, ok := c.cache.Get(tenantID); ok {
			entry := value.(cacheEntry)
			if c.now().Before(entry.expiresAt) {
				return entry.members, nil
			}
			c.cache.Remove(tenantID)
		}
	}
	members, err := c.next.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.cache.Add(tenantID, cacheEntry{members: members, expiresAt: c.now().Add(c.ttl)})
	}
	c.logger.Debug("staff directory loaded", slog.String("tenant_id", tenantID), slog.Int("members", len(members)))
	return members, nil
}

// Invalidate drops the cached roster for tenantID.
func (c *CachedDirectory) Invalidate(tenantID string) {
	c.cache.Remove(tenantID)
}
