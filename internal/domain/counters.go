package domain

import (
	"sync/atomic"
	"time"
)

type CountersSnapshot struct {
	Benign           int64
	SignatureAlerts  int64
	ClassifierAlerts int64
	Malformed        int64
	Ignored          int64
	Uptime           time.Duration
	StartTime        time.Time
}

// Counters holds the process-scoped decision counts. Only the pipeline
// goroutine writes them; atomics let the metrics endpoint read concurrently.
type Counters struct {
	benign           atomic.Int64
	signatureAlerts  atomic.Int64
	classifierAlerts atomic.Int64
	malformed        atomic.Int64
	ignored          atomic.Int64
	startTime        time.Time
}

func NewCounters() *Counters {
	return &Counters{startTime: time.Now()}
}

// RecordResult bumps the counter matching the row's source and label.
func (c *Counters) RecordResult(row ResultRow) {
	switch {
	case row.Source == SourceSignature:
		c.signatureAlerts.Add(1)
	case row.IsAttack():
		c.classifierAlerts.Add(1)
	default:
		c.benign.Add(1)
	}
}

func (c *Counters) IncrementMalformed() {
	c.malformed.Add(1)
}

func (c *Counters) IncrementIgnored() {
	c.ignored.Add(1)
}

func (c *Counters) Benign() int64           { return c.benign.Load() }
func (c *Counters) SignatureAlerts() int64  { return c.signatureAlerts.Load() }
func (c *Counters) ClassifierAlerts() int64 { return c.classifierAlerts.Load() }

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Benign:           c.benign.Load(),
		SignatureAlerts:  c.signatureAlerts.Load(),
		ClassifierAlerts: c.classifierAlerts.Load(),
		Malformed:        c.malformed.Load(),
		Ignored:          c.ignored.Load(),
		Uptime:           time.Since(c.startTime),
		StartTime:        c.startTime,
	}
}
