package domain

import (
	"strconv"
	"time"
)

type Label string

const (
	LabelAttack Label = "ATTACK"
	LabelBenign Label = "BENIGN"
)

// AttackThreshold is the classifier score above which a URL is labelled ATTACK.
const AttackThreshold = 0.7

// LabelForScore applies AttackThreshold. A score equal to the threshold is BENIGN.
func LabelForScore(score float64) Label {
	if score > AttackThreshold {
		return LabelAttack
	}
	return LabelBenign
}

type Source string

const (
	SourceSignature  Source = "signature"
	SourceClassifier Source = "classifier"
)

// ResultRow is one persisted decision.
type ResultRow struct {
	URL        string    `json:"url"`
	Label      Label     `json:"label"`
	Confidence float64   `json:"confidence"`
	Source     Source    `json:"source"`
	FlowID     string    `json:"flow_id,omitempty"`
	TxID       int64     `json:"tx_id"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewSignatureRow(rec *LogRecord, now time.Time) ResultRow {
	return ResultRow{
		URL:        rec.URL,
		Label:      LabelAttack,
		Confidence: 1.0,
		Source:     SourceSignature,
		FlowID:     rec.FlowID,
		TxID:       rec.TxID,
		Timestamp:  now.UTC(),
	}
}

func NewClassifierRow(rec *LogRecord, label Label, score float64, now time.Time) ResultRow {
	return ResultRow{
		URL:        rec.URL,
		Label:      label,
		Confidence: clampScore(score),
		Source:     SourceClassifier,
		FlowID:     rec.FlowID,
		TxID:       rec.TxID,
		Timestamp:  now.UTC(),
	}
}

// ConfidenceString formats the confidence with two decimals, as written to
// the CSV output.
func (r ResultRow) ConfidenceString() string {
	return strconv.FormatFloat(r.Confidence, 'f', 2, 64)
}

// Record returns the CSV columns url,label,confidence.
func (r ResultRow) Record() []string {
	return []string{r.URL, string(r.Label), r.ConfidenceString()}
}

func (r ResultRow) IsAttack() bool {
	return r.Label == LabelAttack
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
