// Package storage persists the dedup seen-set so that a restarted watcher does
// not score or alert the same transaction URL twice.
package storage

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/pkg/bloomfilter"
)

var SeenBucket = []byte("seen")

type BoltSeenConfig struct {
	Path              string
	ExpectedItems     uint
	FalsePositiveRate float64
}

func DefaultBoltSeenConfig() BoltSeenConfig {
	return BoltSeenConfig{
		Path:              "./data/seen.db",
		ExpectedItems:     1000000,
		FalsePositiveRate: 0.01,
	}
}

// BoltSeenSet is a seen-set stored in a bbolt bucket with a bloom filter in
// front. Misses, the common case, are answered from the filter without a read
// transaction. Keys are stored as SeenKey.String() with the RFC 3339 time they
// were first seen as value.
//
// Suricata flow ids are not unique across sensor restarts. A store that
// outlives a Suricata restart can therefore treat a new transaction that
// reuses an old (flow, tx, url) triple as already seen; delete the file when
// the sensor is restarted with fresh state.
//
// Thread Safety: not safe for concurrent use; the pipeline goroutine owns it.
type BoltSeenSet struct {
	db    *bolt.DB
	bloom *bloomfilter.Filter
	path  string
	count atomic.Int64
	fill  atomic.Uint64 // math.Float64bits of the bloom fill ratio
}

func NewBoltSeenSet(config BoltSeenConfig) (*BoltSeenSet, error) {
	if config.ExpectedItems == 0 {
		config.ExpectedItems = DefaultBoltSeenConfig().ExpectedItems
	}
	if config.FalsePositiveRate <= 0 || config.FalsePositiveRate >= 1 {
		config.FalsePositiveRate = DefaultBoltSeenConfig().FalsePositiveRate
	}

	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout:    time.Second,
		NoGrowSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(SeenBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	s := &BoltSeenSet{
		db:    db,
		bloom: bloomfilter.New(config.ExpectedItems, config.FalsePositiveRate),
		path:  config.Path,
	}
	if err := s.rebuildBloom(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load seen keys: %w", err)
	}

	log.Info().
		Str("db_path", config.Path).
		Int64("entries", s.count.Load()).
		Uint("bloom_size", config.ExpectedItems).
		Msg("Persistent seen-set initialized")

	return s, nil
}

func (s *BoltSeenSet) rebuildBloom() error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(SeenBucket)
		if b == nil {
			return nil
		}
		var n int64
		err := b.ForEach(func(k, _ []byte) error {
			s.bloom.Add(string(k))
			n++
			return nil
		})
		s.count.Store(n)
		s.fill.Store(math.Float64bits(s.bloom.FillRatio()))
		return err
	})
}

func (s *BoltSeenSet) Contains(key domain.SeenKey) bool {
	k := key.String()
	if !s.bloom.MayContain(k) {
		return false
	}

	var exists bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(SeenBucket)
		if b == nil {
			return nil
		}
		exists = b.Get([]byte(k)) != nil
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("flow_id", key.FlowID).Msg("Seen-set lookup failed")
	}
	return exists
}

// Add stores key. Adding a present key keeps its original timestamp.
func (s *BoltSeenSet) Add(key domain.SeenKey) error {
	k := []byte(key.String())

	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(SeenBucket)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		if b.Get(k) != nil {
			return nil
		}
		added = true
		return b.Put(k, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return fmt.Errorf("store seen key: %w", err)
	}

	s.bloom.Add(string(k))
	s.fill.Store(math.Float64bits(s.bloom.FillRatio()))
	if added {
		s.count.Add(1)
	}
	return nil
}

func (s *BoltSeenSet) Len() int {
	return int(s.count.Load())
}

// BloomFillRatio is safe to call from other goroutines, such as a metrics
// scrape.
func (s *BoltSeenSet) BloomFillRatio() float64 {
	return math.Float64frombits(s.fill.Load())
}

func (s *BoltSeenSet) Close() error {
	if s.db == nil {
		return nil
	}
	log.Info().Int64("entries", s.count.Load()).Str("db_path", s.path).Msg("Closing persistent seen-set")
	err := s.db.Close()
	s.db = nil
	return err
}
