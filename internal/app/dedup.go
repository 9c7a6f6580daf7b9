package app

import (
	"time"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

// AlertExpiry is how long a signature alert suppresses classification of
// further http records on the same flow.
const AlertExpiry = 300 * time.Second

// DedupStore holds the permanent seen-set and the per-flow alert times.
//
// Thread Safety: not safe for concurrent use. The pipeline goroutine owns it.
type DedupStore struct {
	seen   ports.SeenSet
	alerts map[string]time.Time
	window time.Duration
}

func NewDedupStore(seen ports.SeenSet) *DedupStore {
	if seen == nil {
		seen = NewMemorySeenSet()
	}
	return &DedupStore{
		seen:   seen,
		alerts: make(map[string]time.Time),
		window: AlertExpiry,
	}
}

func (s *DedupStore) AlreadySeen(key domain.SeenKey) bool {
	return s.seen.Contains(key)
}

// MarkSeen is idempotent.
func (s *DedupStore) MarkSeen(key domain.SeenKey) error {
	return s.seen.Add(key)
}

// HasActiveAlert reports whether flow had a signature alert no more than the
// window before now. It does not depend on Expire having run.
func (s *DedupStore) HasActiveAlert(flow string, now time.Time) bool {
	ts, ok := s.alerts[flow]
	if !ok {
		return false
	}
	return now.Sub(ts) <= s.window
}

// RecordAlert sets the alert time for flow, replacing any earlier one.
func (s *DedupStore) RecordAlert(flow string, ts time.Time) {
	s.alerts[flow] = ts
}

// Expire drops alert entries older than the window and returns how many were
// removed. The seen-set is left untouched.
func (s *DedupStore) Expire(now time.Time) int {
	removed := 0
	for flow, ts := range s.alerts {
		if now.Sub(ts) > s.window {
			delete(s.alerts, flow)
			removed++
		}
	}
	return removed
}

func (s *DedupStore) SeenCount() int {
	return s.seen.Len()
}

func (s *DedupStore) ActiveFlows() int {
	return len(s.alerts)
}

func (s *DedupStore) Close() error {
	return s.seen.Close()
}
