package domain

import (
	"strconv"
	"time"
)

const (
	// MaxLineLength bounds a single EVE line. A partial line that grows past it
	// without a newline is discarded by the tailer.
	MaxLineLength = 1 << 20

	// NoTxID marks a record whose tx_id field was absent or not an integer.
	NoTxID int64 = -1
)

type EventType string

const (
	EventTypeHTTP  EventType = "http"
	EventTypeAlert EventType = "alert"
	EventTypeOther EventType = "other"
)

// ParseEventType maps the raw event_type string onto the three kinds the
// reconciler distinguishes. Anything other than http or alert is EventTypeOther.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventTypeHTTP:
		return EventTypeHTTP
	case EventTypeAlert:
		return EventTypeAlert
	default:
		return EventTypeOther
	}
}

// LogRecord is one decoded EVE line. It is built per line and consumed
// immediately by the reconciler.
type LogRecord struct {
	EventType EventType `json:"event_type"`
	RawType   string    `json:"raw_type,omitempty"`
	FlowID    string    `json:"flow_id"`
	TxID      int64     `json:"tx_id"`
	URL       string    `json:"url"`
	Line      string    `json:"-"`
}

func (r *LogRecord) Key() SeenKey {
	return SeenKey{FlowID: r.FlowID, TxID: r.TxID, URL: r.URL}
}

func (r *LogRecord) HasURL() bool {
	return r.URL != ""
}

// SeenKey identifies a transaction URL. Once a key is marked seen it is never
// scored or alerted again.
type SeenKey struct {
	FlowID string
	TxID   int64
	URL    string
}

// String renders the key as len(flow):flow|tx|url. It is used as the on-disk
// key by persistent seen-sets. The length prefix keeps string flow ids that
// contain '|' from colliding with other keys.
func (k SeenKey) String() string {
	return strconv.Itoa(len(k.FlowID)) + ":" + k.FlowID + "|" + strconv.FormatInt(k.TxID, 10) + "|" + k.URL
}

// LineBatch is the set of complete lines delivered by one file-change
// notification.
type LineBatch struct {
	Lines  []string
	ReadAt time.Time
}
