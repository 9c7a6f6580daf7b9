package ports

import "github.com/xoelrdgz/evewatch/internal/domain"

// Record outcomes reported to RecordObserver.
const (
	OutcomeScored    = "scored"
	OutcomeAlerted   = "alerted"
	OutcomeDuplicate = "duplicate"
	OutcomeSuppress  = "suppressed"
	OutcomeNoURL     = "no_url"
	OutcomeIgnored   = "ignored"
	OutcomeMalformed = "malformed"
	OutcomeFailed    = "failed"
)

// RecordObserver is notified about every record outcome, including ignored and
// malformed lines.
//
// Thread Safety: called from the pipeline goroutine only, but implementations
// backing a metrics endpoint must tolerate concurrent reads.
type RecordObserver interface {
	ObserveRecord(outcome string)
	ObserveResult(row domain.ResultRow)
	ObserveSinkError()
	ObserveClassifyDuration(seconds float64)
	ObserveState(seen, activeFlows int)
}
