package tokencache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultTTL = time.Minute * 30

// Cache is a thread safe store of bearer tokens keyed by tenant identifier.
// Tokens are dropped after the configured TTL so a stale token is never
// attached to a request long after the server side session expired.
type Cache struct {
	mem *ttlcache.Cache[string, string]
}

// New creates a new token Cache. A zero ttl falls back to the default of 30 minutes.
func New(ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = defaultTTL
	}
	mem := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go mem.Start()

	return &Cache{mem: mem}
}

// Put stores the token for the tenant replacing any previous one.
func (c *Cache) Put(tenantID, token string) {
	c.mem.Set(tenantID, token, ttlcache.DefaultTTL)
}

// Get reads the token for the tenant. The second return value reports
// whether a live token was present.
func (c *Cache) Get(tenantID string) (string, bool) {
	item := c.mem.Get(tenantID)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Drop invalidates the token for the tenant.
func (c *Cache) Drop(tenantID string) {
	c.mem.Delete(tenantID)
}

// Close stops the background expiry loop.
func (c *Cache) Close() {
	c.mem.Stop()
}
