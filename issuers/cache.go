package issuers

import (
	"slices"
	"sync"
	"time"
)

// DefaultCacheLifetime is how long a cached issuer config stays valid when
// no lifetime is configured.
const DefaultCacheLifetime = 300 * time.Second

// Cache holds issuer configs with a TTL and memoizes which issuer a given
// access token belongs to. Expiry is lazy: entries are checked on read, no
// background sweep runs. Safe for concurrent use.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	configs map[string]*cacheEntry
	order   []string
	tokens  map[string]string
}

type cacheEntry struct {
	cfg     *Config
	expires time.Time
}

// NewCache builds a Cache. A non-positive ttl selects
// DefaultCacheLifetime.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheLifetime
	}
	return &Cache{
		ttl:     ttl,
		configs: make(map[string]*cacheEntry),
		tokens:  make(map[string]string),
	}
}

// Get returns the cached config for the normalized issuer. TTL-expired
// entries are treated as absent.
func (c *Cache) Get(issuer string) (*Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.configs[Normalize(issuer)]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.cfg, true
}

// Add inserts or replaces the config for its issuer. Replacing resets the
// TTL clock but keeps the issuer's original position in the iteration
// order.
func (c *Cache) Add(cfg *Config) {
	if cfg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	iss := Normalize(cfg.Issuer)
	if _, exists := c.configs[iss]; !exists {
		c.order = append(c.order, iss)
	}
	c.configs[iss] = &cacheEntry{cfg: cfg, expires: time.Now().Add(c.ttl)}
}

// AddList inserts every config in order.
func (c *Cache) AddList(cfgs []*Config) {
	for _, cfg := range cfgs {
		c.Add(cfg)
	}
}

// AssociateToken records that the token was issued by the given issuer, so
// that future resolutions of the same token skip the fallback chain.
func (c *Cache) AssociateToken(accessToken, issuer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[accessToken] = Normalize(issuer)
}

// IssuerForToken returns the previously associated issuer for the token.
func (c *Cache) IssuerForToken(accessToken string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	iss, ok := c.tokens[accessToken]
	return iss, ok
}

// Len counts the non-expired configs.
func (c *Cache) Len() int {
	return len(c.Configs())
}

// Configs returns the non-expired configs in insertion order.
func (c *Cache) Configs() []*Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	cfgs := make([]*Config, 0, len(c.order))
	for _, iss := range c.order {
		if entry, ok := c.configs[iss]; ok && now.Before(entry.expires) {
			cfgs = append(cfgs, entry.cfg)
		}
	}
	return slices.Clip(cfgs)
}
