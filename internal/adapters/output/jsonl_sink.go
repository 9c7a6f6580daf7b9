package output

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// JSONLSink writes every ResultRow as one JSON object per line, with source,
// flow and transaction ids that the CSV format omits.
//
// Writes are buffered (64KB) and flushed every second and on Close.
//
// Thread Safety: safe for concurrent Emit calls.
type JSONLSink struct {
	bufWriter *bufio.Writer
	file      *os.File
	mu        sync.Mutex
	encoder   *json.Encoder
	stopFlush chan struct{}
	closeOnce sync.Once
}

type JSONLSinkConfig struct {
	FilePath string // empty writes to Writer
	Writer   io.Writer
}

func NewJSONLSink(config JSONLSinkConfig) (*JSONLSink, error) {
	var writer io.Writer
	var file *os.File

	switch {
	case config.FilePath != "":
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return nil, err
		}
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		writer = file
	case config.Writer != nil:
		writer = config.Writer
	default:
		writer = io.Discard
	}

	bufWriter := bufio.NewWriterSize(writer, 64*1024)
	s := &JSONLSink{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}

	go s.periodicFlush()

	return s, nil
}

func (s *JSONLSink) periodicFlush() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stopFlush:
			return
		}
	}
}

func (s *JSONLSink) Emit(row domain.ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.encoder.Encode(row)
}

func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bufWriter.Flush(); err != nil {
		return err
	}
	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

func (s *JSONLSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopFlush)

		s.mu.Lock()
		defer s.mu.Unlock()

		if err = s.bufWriter.Flush(); err != nil {
			return
		}
		if s.file != nil {
			if err = s.file.Sync(); err != nil {
				return
			}
			err = s.file.Close()
		}
	})
	return err
}
