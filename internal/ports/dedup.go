package ports

import "github.com/xoelrdgz/evewatch/internal/domain"

// SeenSet is the permanent dedup set of (flow, tx, url) triples.
//
// Implementations:
//   - MemorySeenSet: unbounded map (default)
//   - BoundedSeenSet: LRU-capped
//   - BoltSeenSet: persisted across restarts
//
// Add is idempotent. Entries are never removed by alert expiry.
type SeenSet interface {
	Contains(key domain.SeenKey) bool
	Add(key domain.SeenKey) error
	Len() int
	Close() error
}
