// Package clientcache implements a process-wide, keyed deduplication
// of concurrent client construction against the same endpoint: an
// in-memory map of (base-url, sdk-key) to an in-flight creation task,
// built on golang.org/x/sync/singleflight the same way a single
// client collapses concurrent initialization calls.
package clientcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/replane-dev/replane-go"
)

// Key identifies one cache entry. Two calls with an equal Key share the
// same in-flight construction and the same resulting *replane.Client.
type Key struct {
	BaseURL string
	SDKKey  string
}

// Cache deduplicates concurrent GetOrCreate calls for the same Key and
// remembers a successfully constructed client for subsequent callers
// until Clear or Forget removes it. A construction error is returned to
// the callers sharing that attempt and is not remembered.
type Cache struct {
	group singleflight.Group

	mu      sync.Mutex
	clients map[Key]*replane.Client
}

// New returns an empty Cache. The zero value is not usable; always
// construct via New.
func New() *Cache {
	return &Cache{clients: make(map[Key]*replane.Client)}
}

// defaultCache is the process-wide singleton most callers use through
// the package-level GetOrCreate/Clear functions.
var defaultCache = New()

// GetOrCreate returns the cached client for key if one already exists
// or is being constructed by a concurrent caller with the same key;
// otherwise it constructs one via newClient and caches the result.
// A failed construction is NOT cached: the next caller gets a fresh
// attempt, since a transient initialization failure shouldn't poison
// the key forever.
func (c *Cache) GetOrCreate(ctx context.Context, key Key, newClient func(context.Context) (*replane.Client, error)) (*replane.Client, error) {
	c.mu.Lock()
	if existing, ok := c.clients[key]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(keyString(key), func() (any, error) {
		// Double-check after winning the singleflight race: another
		// caller may have populated the cache between our first check
		// and acquiring the singleflight lock.
		c.mu.Lock()
		if existing, ok := c.clients[key]; ok {
			c.mu.Unlock()
			return existing, nil
		}
		c.mu.Unlock()

		client, err := newClient(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.clients[key] = client
		c.mu.Unlock()
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*replane.Client), nil
}

// Forget removes key from the cache without closing its client. Future
// GetOrCreate calls for key construct a new client.
func (c *Cache) Forget(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, key)
}

// Clear empties the cache without closing any cached clients. Callers
// that want cached clients closed first should iterate Snapshot() and
// call Close() themselves. Exists for test isolation between cases
// that share the process-wide default Cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients = make(map[Key]*replane.Client)
}

// Snapshot returns a copy of the currently cached keys and clients.
func (c *Cache) Snapshot() map[Key]*replane.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Key]*replane.Client, len(c.clients))
	for k, v := range c.clients {
		out[k] = v
	}
	return out
}

func keyString(k Key) string { return k.BaseURL + "\x00" + k.SDKKey }

// GetOrCreate calls Cache.GetOrCreate on the process-wide default Cache.
func GetOrCreate(ctx context.Context, key Key, newClient func(context.Context) (*replane.Client, error)) (*replane.Client, error) {
	return defaultCache.GetOrCreate(ctx, key, newClient)
}

// Clear empties the process-wide default Cache.
func Clear() { defaultCache.Clear() }
