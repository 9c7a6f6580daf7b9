package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLabelForScore(t *testing.T) {
	tests := []struct {
		score    float64
		expected Label
	}{
		{0.0, LabelBenign},
		{0.5, LabelBenign},
		{0.7, LabelBenign},
		{0.7000001, LabelAttack},
		{0.95, LabelAttack},
		{1.0, LabelAttack},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, LabelForScore(tc.score), "score %v", tc.score)
	}
}

func TestSignatureRow(t *testing.T) {
	rec := &LogRecord{EventType: EventTypeAlert, FlowID: "42", TxID: 1, URL: "/etc/passwd"}
	row := NewSignatureRow(rec, time.Now())

	assert.Equal(t, LabelAttack, row.Label)
	assert.Equal(t, SourceSignature, row.Source)
	assert.Equal(t, "1.00", row.ConfidenceString())
	assert.Equal(t, []string{"/etc/passwd", "ATTACK", "1.00"}, row.Record())
}

func TestClassifierRowConfidence(t *testing.T) {
	rec := &LogRecord{EventType: EventTypeHTTP, FlowID: "42", TxID: 1, URL: "/a"}

	tests := []struct {
		score    float64
		expected string
	}{
		{0.95, "0.95"},
		{0.1, "0.10"},
		{0.123456, "0.12"},
		{0.996, "1.00"},
		{-0.2, "0.00"},
		{1.7, "1.00"},
	}

	for _, tc := range tests {
		row := NewClassifierRow(rec, LabelForScore(tc.score), tc.score, time.Now())
		assert.Equal(t, tc.expected, row.ConfidenceString())
		assert.Equal(t, SourceClassifier, row.Source)
	}
}

func TestCountersRecordResultSnapshot(t *testing.T) {
	c := NewCounters()
	rec := &LogRecord{URL: "/x"}
	now := time.Now()

	c.RecordResult(NewSignatureRow(rec, now))
	c.RecordResult(NewClassifierRow(rec, LabelAttack, 0.9, now))
	c.RecordResult(NewClassifierRow(rec, LabelBenign, 0.1, now))
	c.RecordResult(NewClassifierRow(rec, LabelBenign, 0.2, now))
	c.IncrementMalformed()

	snap := c.Snapshot()
	assert.Equal(t, int64(2), snap.Benign)
	assert.Equal(t, int64(1), snap.SignatureAlerts)
	assert.Equal(t, int64(1), snap.ClassifierAlerts)
	assert.Equal(t, int64(1), snap.Malformed)
	assert.Equal(t, int64(2), c.Benign())
}
