package bpconfig

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/janrain/backplane/server/logs"
	"github.com/janrain/backplane/server/store/types"
)

// Getter reads a single item.
type Getter interface {
	Get(ctx context.Context, table, key string) (types.Attrs, error)
}

type cached struct {
	config  *types.ServerConfig
	fetched time.Time
}

// Cache is a time-bounded view of the server configuration. The cache age is
// itself read from the cached record, so a fresh fetch may change it.
// Reads of a fresh cache do not lock.
type Cache struct {
	src   Getter
	table string

	// Now is the clock. Replaced in tests.
	Now func() time.Time

	refresh sync.Mutex
	slot    atomic.Pointer[cached]
}

// NewCache creates a cache of the server configuration stored in table.
func NewCache(src Getter, table string) *Cache {
	return &Cache{src: src, table: table, Now: time.Now}
}

func (c *Cache) stale(cur *cached) bool {
	return cur == nil || c.Now().Sub(cur.fetched) > cur.config.CacheAge
}

// Get returns the server configuration, fetching it if the cache is absent or older
// than the cache age.
func (c *Cache) Get(ctx context.Context) (*types.ServerConfig, error) {
	if cur := c.slot.Load(); !c.stale(cur) {
		return cur.config, nil
	}

	c.refresh.Lock()
	defer c.refresh.Unlock()

	// Someone else may have refreshed while we waited.
	if cur := c.slot.Load(); !c.stale(cur) {
		return cur.config, nil
	}

	attrs, err := c.src.Get(ctx, c.table, types.ServerConfigKey)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, &types.NotFoundError{Kind: "server config", Name: types.ServerConfigKey}
	}
	config, err := types.ServerConfigFromAttrs(attrs)
	if err != nil {
		return nil, err
	}
	c.slot.Store(&cached{config: config, fetched: c.Now()})
	return config, nil
}

// Property returns one attribute of the cached server configuration.
func (c *Cache) Property(ctx context.Context, name string) (string, error) {
	config, err := c.Get(ctx)
	if err != nil {
		return "", err
	}
	v, ok := config.Attrs()[name]
	if !ok {
		return "", &types.NotFoundError{Kind: "server config property", Name: name}
	}
	return v, nil
}

// DebugMode reports if error details may be shown to clients. Failure to read the
// configuration means no.
func (c *Cache) DebugMode(ctx context.Context) bool {
	config, err := c.Get(ctx)
	if err != nil {
		logs.Warn.Println("bpconfig: debug mode unavailable:", err)
		return false
	}
	return config.DebugMode
}

// CleanupInterval is the period of the retention sweeper.
func (c *Cache) CleanupInterval(ctx context.Context) (time.Duration, error) {
	config, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	return config.CleanupInterval, nil
}
