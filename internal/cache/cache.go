// Package cache holds fetched response bodies for the lifetime of one
// process. Entries are keyed by a request fingerprint and expire after
// a TTL; a successful mutating call drops every entry for the affected
// resource type. Nothing here survives across invocations.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Fingerprint derives the cache key for a read request. The subject is
// part of the key so two users never share cached data, and the query
// is serialized in sorted order so equivalent requests collide.
func Fingerprint(method, path string, query url.Values, subject string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write([]byte(query.Encode())) // Encode sorts by key
	h.Write([]byte{'|'})
	h.Write([]byte(subject))

	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	body     []byte
	path     string
	storedAt time.Time
	ttl      time.Duration
}

// Cache is a process-local TTL cache for response bodies. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached body for the fingerprint, or false when the
// entry is absent or past its TTL. Expired entries are dropped on read.
func (c *Cache) Get(fingerprint string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.storedAt) >= e.ttl {
		delete(c.entries, fingerprint)
		return nil, false
	}

	return e.body, true
}

// Put stores or overwrites an entry. The request path is kept alongside
// the body so InvalidateType can find it later. A non-positive TTL
// disables caching for the entry.
func (c *Cache) Put(fingerprint, path string, body []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = entry{
		body:     body,
		path:     path,
		storedAt: c.now(),
		ttl:      ttl,
	}
}

// InvalidateType removes all entries whose path references the given
// resource type. Called after every successful create/update/delete.
func (c *Cache) InvalidateType(resourceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fp, e := range c.entries {
		if pathReferences(e.path, resourceType) {
			delete(c.entries, fp)
		}
	}
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// pathReferences reports whether any segment of the request path names
// the resource type, so "reports" matches both "reports" and
// "reports/5".
func pathReferences(path, resourceType string) bool {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == resourceType {
			return true
		}
	}

	return false
}
