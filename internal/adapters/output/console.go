package output

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/pkg/sanitize"
)

// ConsoleReporter prints one "[LABEL] url (score)" line per row and the three
// running counters after each handled record. URLs are printed in full with
// control characters replaced.
type ConsoleReporter struct {
	out io.Writer
	mu  sync.Mutex
}

func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleReporter{out: out}
}

func (r *ConsoleReporter) ReportRow(row domain.ResultRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "[%s] %s (%s)\n", row.Label, sanitize.URL(row.URL), row.ConfidenceString())
}

func (r *ConsoleReporter) ReportCounters(s domain.CountersSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "BENIGN: %d\nSURICATA: %d\nMACHINE: %d\n", s.Benign, s.SignatureAlerts, s.ClassifierAlerts)
}
