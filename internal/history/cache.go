// Package history implements the at-most-once request-history cache
// described in spec.md §4.3: a TTL-bounded memo from (client endpoint,
// request id) to the exact reply bytes the server sent the first time that
// request was executed.
package history

import (
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// TTL is the history retention window (spec.md §3: "5 minutes").
const TTL = 5 * time.Minute

// Key identifies one client request for deduplication purposes. Endpoint is
// normalized (resolved address family + numeric host + port) so that
// syntactically different but equivalent peer addresses the OS may report
// do not alias to different keys (spec.md §9).
type Key struct {
	Endpoint  string
	RequestID uint32
}

// NormalizeEndpoint produces the canonical string form of a UDP peer
// address for use in a Key.
func NormalizeEndpoint(addr *net.UDPAddr) string {
	return addr.AddrPort().String()
}

// Cache is the at-most-once duplicate filter. It is a thin, TTL-aware
// wrapper over an expirable LRU: entries older than TTL are dropped lazily
// on access or insertion, with no background sweep goroutine, matching
// spec.md §5's "no background timer thread" constraint.
type Cache struct {
	entries *lru.LRU[Key, []byte]
}

// New creates an empty history cache. capacity bounds the number of
// distinct in-flight keys retained concurrently within the TTL window; 0
// means unbounded (spec.md §4.3: "unbounded apart from TTL").
func New(capacity int) *Cache {
	return &Cache{entries: lru.NewLRU[Key, []byte](capacity, nil, TTL)}
}

// Lookup returns the cached reply bytes for key, if present and unexpired.
func (c *Cache) Lookup(key Key) ([]byte, bool) {
	return c.entries.Get(key)
}

// Store records the reply bytes produced by the first execution of key.
func (c *Cache) Store(key Key, reply []byte) {
	c.entries.Add(key, reply)
}

// Len reports the number of live (unexpired) entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
