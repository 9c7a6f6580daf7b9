package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

// Reconciler decides, per record, whether the signature engine or the
// classifier owns the verdict and emits at most one row per transaction URL.
//
// Alert records win: once a flow has a signature alert, http records on that
// flow are not classified until the alert is older than AlertExpiry.
type Reconciler struct {
	dedup      *DedupStore
	classifier ports.Classifier
	sink       ports.ResultSink
	reporter   ports.Reporter
	observer   ports.RecordObserver
	counters   *domain.Counters
}

type ReconcilerDeps struct {
	Dedup      *DedupStore
	Classifier ports.Classifier
	Sink       ports.ResultSink
	Reporter   ports.Reporter
	Observer   ports.RecordObserver
	Counters   *domain.Counters
}

func NewReconciler(deps ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		dedup:      deps.Dedup,
		classifier: deps.Classifier,
		sink:       deps.Sink,
		reporter:   deps.Reporter,
		observer:   deps.Observer,
		counters:   deps.Counters,
	}
	if r.dedup == nil {
		r.dedup = NewDedupStore(nil)
	}
	if r.counters == nil {
		r.counters = domain.NewCounters()
	}
	if r.reporter == nil {
		r.reporter = nopReporter{}
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}
	return r
}

// Handle applies the decision procedure to one record and returns its outcome.
// Errors are logged and reflected in the outcome; they never propagate.
func (r *Reconciler) Handle(ctx context.Context, rec *domain.LogRecord, now time.Time) string {
	var outcome string
	switch rec.EventType {
	case domain.EventTypeAlert:
		outcome = r.handleAlert(rec, now)
	case domain.EventTypeHTTP:
		outcome = r.handleHTTP(ctx, rec, now)
	default:
		outcome = ports.OutcomeIgnored
	}

	r.observer.ObserveRecord(outcome)
	switch outcome {
	case ports.OutcomeAlerted, ports.OutcomeScored:
		r.reporter.ReportCounters(r.counters.Snapshot())
	case ports.OutcomeFailed:
	default:
		r.counters.IncrementIgnored()
	}
	return outcome
}

func (r *Reconciler) handleAlert(rec *domain.LogRecord, now time.Time) string {
	if !rec.HasURL() {
		return ports.OutcomeNoURL
	}
	key := rec.Key()
	if r.dedup.AlreadySeen(key) {
		return ports.OutcomeDuplicate
	}

	r.markSeen(key)
	r.dedup.RecordAlert(rec.FlowID, now)

	log.Debug().
		Str("flow_id", rec.FlowID).
		Int64("tx_id", rec.TxID).
		Msg("Signature alert recorded")

	r.emit(domain.NewSignatureRow(rec, now))
	return ports.OutcomeAlerted
}

func (r *Reconciler) handleHTTP(ctx context.Context, rec *domain.LogRecord, now time.Time) string {
	if !rec.HasURL() {
		return ports.OutcomeNoURL
	}
	if r.dedup.HasActiveAlert(rec.FlowID, now) {
		return ports.OutcomeSuppress
	}
	key := rec.Key()
	if r.dedup.AlreadySeen(key) {
		return ports.OutcomeDuplicate
	}

	r.markSeen(key)

	start := time.Now()
	label, score, err := r.classifier.Classify(ctx, DecodeURL(rec.URL))
	r.observer.ObserveClassifyDuration(time.Since(start).Seconds())
	if err != nil {
		log.Error().
			Err(err).
			Str("flow_id", rec.FlowID).
			Int64("tx_id", rec.TxID).
			Msg("Classification failed, skipping record")
		return ports.OutcomeFailed
	}

	r.emit(domain.NewClassifierRow(rec, label, score, now))
	return ports.OutcomeScored
}

func (r *Reconciler) markSeen(key domain.SeenKey) {
	if err := r.dedup.MarkSeen(key); err != nil {
		log.Warn().
			Err(err).
			Str("flow_id", key.FlowID).
			Int64("tx_id", key.TxID).
			Msg("Failed to persist seen key")
	}
}

// emit writes the row and bumps the matching counter. A failed write skips the
// row and leaves the counters unchanged.
func (r *Reconciler) emit(row domain.ResultRow) {
	if err := r.sink.Emit(row); err != nil {
		r.observer.ObserveSinkError()
		log.Error().
			Err(err).
			Str("flow_id", row.FlowID).
			Str("label", string(row.Label)).
			Msg("Failed to write result row")
		return
	}

	r.counters.RecordResult(row)
	r.observer.ObserveResult(row)
	r.reporter.ReportRow(row)
}

func (r *Reconciler) Counters() *domain.Counters {
	return r.counters
}

// DecodeURL percent-decodes s leniently: valid %XX escapes are decoded,
// malformed ones are kept verbatim and '+' is left alone. Each maximal invalid
// UTF-8 subpart of the result becomes one U+FFFD, so "%ff%fe" decodes to two.
func DecodeURL(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(c)
	}

	out := b.String()
	if utf8.ValidString(out) {
		return out
	}
	return replaceInvalidUTF8(out)
}

func replaceInvalidUTF8(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i += invalidSubpartLen(s[i:])
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// invalidSubpartLen is the length of the invalid sequence at the start of s:
// the lead byte plus every continuation byte that could still have completed
// it.
func invalidSubpartLen(s string) int {
	lead := s[0]
	var need int
	lo, hi := byte(0x80), byte(0xBF)
	switch {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 1
	case lead == 0xE0:
		need, lo = 2, 0xA0
	case lead == 0xED:
		need, hi = 2, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 2
	case lead == 0xF0:
		need, lo = 3, 0x90
	case lead == 0xF4:
		need, hi = 3, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for ; n <= need && n < len(s); n++ {
		c := s[n]
		if n > 1 {
			lo, hi = 0x80, 0xBF
		}
		if c < lo || c > hi {
			break
		}
	}
	return n
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

type nopReporter struct{}

func (nopReporter) ReportRow(domain.ResultRow)             {}
func (nopReporter) ReportCounters(domain.CountersSnapshot) {}

type nopObserver struct{}

func (nopObserver) ObserveRecord(string)            {}
func (nopObserver) ObserveResult(domain.ResultRow)  {}
func (nopObserver) ObserveSinkError()               {}
func (nopObserver) ObserveClassifyDuration(float64) {}
func (nopObserver) ObserveState(int, int)           {}
