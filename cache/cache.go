// Package cache provides a TTL-bounded LRU cache with single-flight fetch
// coalescing, keyed by request identity.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// authHeaders participate in the cache key so responses are never shared
// across credentials. Only a digest of their values is stored.
var authHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"X-Auth-Token",
}

// Cache is a capacity- and TTL-bounded LRU. Concurrent fetches for the same
// key are coalesced into one upstream call.
type Cache[V any] struct {
	lru   *expirable.LRU[string, V]
	group singleflight.Group
}

// New creates a cache holding up to size entries for at most ttl each.
func New[V any](size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](size, nil, ttl),
	}
}

// Key builds a cache key from the request identity. The query is canonical
// (sorted) so parameter order does not fragment the cache, and credential
// headers contribute a digest so distinct callers never share entries.
func (c *Cache[V]) Key(method, path string, query url.Values, header http.Header) string {
	h := sha256.New()
	for _, name := range authHeaders {
		for _, v := range header.Values(name) {
			h.Write([]byte(name))
			h.Write([]byte{0})
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	digest := hex.EncodeToString(h.Sum(nil))[:16]
	return method + "|" + path + "|" + query.Encode() + "|" + digest
}

// GetOrFetch returns the cached value for key, or runs fetch to produce it.
// Concurrent calls for the same key share one fetch. The fetch runs detached
// from the caller's cancellation so that waiters still receive a result when
// the initiating request goes away; a canceled waiter returns early without
// stopping the fetch. fetch reports whether its result may be cached.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (V, bool, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lru.Get(key); ok {
			return v, nil
		}
		v, cacheable, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.lru.Add(key, v)
		}
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// InvalidatePrefix removes every entry whose request path starts with the
// given prefix, covering both collection listings and individual resources
// under it.
func (c *Cache[V]) InvalidatePrefix(path string) {
	for _, key := range c.lru.Keys() {
		parts := strings.SplitN(key, "|", 3)
		if len(parts) >= 2 && strings.HasPrefix(parts[1], path) {
			c.lru.Remove(key)
		}
	}
}

// Len reports the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.lru.Purge()
}
