package ports

import "github.com/xoelrdgz/evewatch/internal/domain"

// ResultSink persists one decision. Emit is called from the pipeline
// goroutine only.
type ResultSink interface {
	Emit(row domain.ResultRow) error
	Close() error
}

// Reporter receives the human-readable progress output: one notice per row and
// the running counters after each handled record.
type Reporter interface {
	ReportRow(row domain.ResultRow)
	ReportCounters(snapshot domain.CountersSnapshot)
}

// Quarantine stores lines that could not be decoded.
type Quarantine interface {
	Write(line string, reason error) error
	Close() error
}
