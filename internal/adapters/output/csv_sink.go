// Package output provides the result destinations and the operational
// endpoints:
//   - CSVSink: the append-only url,label,confidence log
//   - JSONLSink: optional JSON-lines mirror of every row
//   - MirroredSink: a primary sink plus best-effort mirrors
//   - ConsoleReporter: per-row notices and running counters on stdout
//   - PrometheusMetrics and HealthChecker: /metrics and /ready
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

// CSVSink appends one row per Emit. The file is opened in append mode and
// closed again for every row, so rows are on disk as soon as Emit returns and
// the file can be rotated or truncated underneath the process. No header is
// written and rows end in CRLF.
type CSVSink struct {
	path string
}

// NewCSVSink creates the parent directory of path. Failing to create it is a
// startup error.
func NewCSVSink(path string) (*CSVSink, error) {
	if path == "" {
		return nil, errors.New("csv output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	log.Info().Str("path", path).Msg("CSV result sink ready")
	return &CSVSink{path: path}, nil
}

func (s *CSVSink) Emit(row domain.ResultRow) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	w.UseCRLF = true
	if err := w.Write(row.Record()); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return f.Close()
}

func (s *CSVSink) Close() error {
	return nil
}

// MirroredSink writes every row to a primary sink and then to each mirror.
// Only a primary failure fails the row. Mirror failures are logged and passed
// to the OnMirrorError hook, and the remaining mirrors are still tried.
type MirroredSink struct {
	primary ports.ResultSink
	mirrors []ports.ResultSink

	// OnMirrorError, when set, is called once per failed mirror write.
	OnMirrorError func(err error)
}

func NewMirroredSink(primary ports.ResultSink, mirrors ...ports.ResultSink) *MirroredSink {
	return &MirroredSink{primary: primary, mirrors: mirrors}
}

func (m *MirroredSink) Emit(row domain.ResultRow) error {
	if err := m.primary.Emit(row); err != nil {
		return err
	}

	for _, mirror := range m.mirrors {
		if err := mirror.Emit(row); err != nil {
			log.Warn().
				Err(err).
				Str("flow_id", row.FlowID).
				Msg("Mirror sink write failed, row kept in primary output")
			if m.OnMirrorError != nil {
				m.OnMirrorError(err)
			}
		}
	}
	return nil
}

func (m *MirroredSink) Close() error {
	errs := []error{m.primary.Close()}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Close())
	}
	return errors.Join(errs...)
}
