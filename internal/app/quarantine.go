package app

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// QuarantineWriter appends undecodable EVE lines to a JSON-lines file for
// later inspection. A writer created with an empty path discards everything.
type QuarantineWriter struct {
	file    *os.File
	writer  *bufio.Writer
	mu      sync.Mutex
	count   atomic.Int64
	enabled bool
	path    string
}

type QuarantineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	RawLine   string    `json:"raw_line"`
}

func NewQuarantineWriter(path string) (*QuarantineWriter, error) {
	if path == "" {
		return &QuarantineWriter{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create quarantine directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open quarantine file: %w", err)
	}

	log.Info().Str("path", path).Msg("Quarantine writer initialized for malformed lines")

	return &QuarantineWriter{
		file:    file,
		writer:  bufio.NewWriterSize(file, 16*1024),
		enabled: true,
		path:    path,
	}, nil
}

func (w *QuarantineWriter) Write(line string, reason error) error {
	if !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	msg := "unknown"
	if reason != nil {
		msg = reason.Error()
	}

	data, err := json.Marshal(QuarantineEntry{
		Timestamp: time.Now().UTC(),
		Reason:    msg,
		RawLine:   line,
	})
	if err != nil {
		return err
	}

	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.writer.Flush(); err != nil {
		return err
	}

	w.count.Add(1)
	return nil
}

func (w *QuarantineWriter) Close() error {
	if !w.enabled {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}

	if count := w.count.Load(); count > 0 {
		log.Warn().
			Int64("quarantined", count).
			Str("path", w.path).
			Msg("Quarantine file contains malformed lines requiring analysis")
	}

	return w.file.Close()
}

// Count is the number of lines written so far. Safe for concurrent use.
func (w *QuarantineWriter) Count() int64 {
	return w.count.Load()
}
