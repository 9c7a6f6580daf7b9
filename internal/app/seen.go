package app

import (
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/pkg/lru"
)

// MemorySeenSet is an unbounded in-memory seen-set. It grows for the life of
// the process.
type MemorySeenSet struct {
	keys map[domain.SeenKey]struct{}
}

func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{keys: make(map[domain.SeenKey]struct{})}
}

func (s *MemorySeenSet) Contains(key domain.SeenKey) bool {
	_, ok := s.keys[key]
	return ok
}

func (s *MemorySeenSet) Add(key domain.SeenKey) error {
	s.keys[key] = struct{}{}
	return nil
}

func (s *MemorySeenSet) Len() int {
	return len(s.keys)
}

func (s *MemorySeenSet) Close() error {
	return nil
}

// BoundedSeenSet keeps at most capacity keys and evicts the least recently
// used one when full. An evicted key can be scored again if it reappears.
type BoundedSeenSet struct {
	keys *lru.Set[domain.SeenKey]
}

func NewBoundedSeenSet(capacity int) *BoundedSeenSet {
	return &BoundedSeenSet{keys: lru.New[domain.SeenKey](capacity)}
}

func (s *BoundedSeenSet) Contains(key domain.SeenKey) bool {
	return s.keys.Contains(key)
}

func (s *BoundedSeenSet) Add(key domain.SeenKey) error {
	if evicted, ok := s.keys.Add(key); ok {
		log.Debug().
			Str("flow_id", evicted.FlowID).
			Int64("tx_id", evicted.TxID).
			Uint64("evictions", s.keys.Evicted()).
			Msg("Seen-set full, evicted oldest key")
	}
	return nil
}

func (s *BoundedSeenSet) Len() int {
	return s.keys.Len()
}

func (s *BoundedSeenSet) Close() error {
	return nil
}

func (s *BoundedSeenSet) Evicted() uint64 {
	return s.keys.Evicted()
}
