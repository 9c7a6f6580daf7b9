package app

import (
	"context"
	"strings"
	"sync"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

type memorySink struct {
	mu   sync.Mutex
	rows []domain.ResultRow
	err  error
}

func (s *memorySink) Emit(row domain.ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memorySink) Close() error { return nil }

func (s *memorySink) Rows() []domain.ResultRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ResultRow(nil), s.rows...)
}

// keywordClassifier scores 0.95 when the lower-cased text contains any of its
// keywords and 0.05 otherwise.
type keywordClassifier struct {
	mu       sync.Mutex
	keywords []string
	texts    []string
	err      error
}

func (c *keywordClassifier) Classify(_ context.Context, text string) (domain.Label, float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	if c.err != nil {
		return "", 0, c.err
	}
	lower := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return domain.LabelForScore(0.95), 0.95, nil
		}
	}
	return domain.LabelForScore(0.05), 0.05, nil
}

func (c *keywordClassifier) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

type recordingReporter struct {
	rows      []domain.ResultRow
	snapshots []domain.CountersSnapshot
}

func (r *recordingReporter) ReportRow(row domain.ResultRow) {
	r.rows = append(r.rows, row)
}

func (r *recordingReporter) ReportCounters(s domain.CountersSnapshot) {
	r.snapshots = append(r.snapshots, s)
}

type recordingObserver struct {
	mu         sync.Mutex
	outcomes   map[string]int
	results    int
	sinkErrors int
	durations  int
	seen       int
	active     int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{outcomes: make(map[string]int)}
}

func (o *recordingObserver) ObserveRecord(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) ObserveResult(domain.ResultRow) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results++
}

func (o *recordingObserver) ObserveSinkError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinkErrors++
}

func (o *recordingObserver) ObserveClassifyDuration(float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.durations++
}

func (o *recordingObserver) ObserveState(seen, active int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = seen
	o.active = active
}

func (o *recordingObserver) Outcome(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[name]
}

func httpRecord(flow string, tx int64, url string) *domain.LogRecord {
	return &domain.LogRecord{EventType: domain.EventTypeHTTP, RawType: "http", FlowID: flow, TxID: tx, URL: url}
}

func alertRecord(flow string, tx int64, url string) *domain.LogRecord {
	return &domain.LogRecord{EventType: domain.EventTypeAlert, RawType: "alert", FlowID: flow, TxID: tx, URL: url}
}
