package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

var ErrWatch = errors.New("cannot watch log file")

type WatchOptions struct {
	// PollInterval re-checks the file on a ticker in addition to fsnotify
	// events. Zero disables the fallback.
	PollInterval time.Duration
	// BufferSize is the capacity of the batch channel.
	BufferSize int
	// MaxPending caps an unterminated trailing line. Larger lines are dropped.
	MaxPending int
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		PollInterval: 250 * time.Millisecond,
		BufferSize:   64,
		MaxPending:   domain.MaxLineLength,
	}
}

// FileWatcher follows an append-only log through fsnotify. It starts at the
// end of the file, so content written before construction is never read.
//
// Each Write notification for the path results in one LineBatch holding every
// complete line appended since the previous read. A trailing partial line is
// kept in memory until its newline arrives.
type FileWatcher struct {
	path    string
	opts    WatchOptions
	watcher *fsnotify.Watcher

	file       *os.File
	offset     int64  // file offset just past the last consumed newline
	pending    []byte // unterminated bytes read after offset
	discarding bool   // dropping an oversized line until its newline
	buf        []byte

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewFileWatcher opens path, seeks to its end and registers the parent
// directory with fsnotify. Any failure is returned wrapped in ErrWatch; the
// caller treats it as fatal.
func NewFileWatcher(path string, opts WatchOptions) (*FileWatcher, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = domain.MaxLineLength
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrWatch, path, err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatch, err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: seek to end of %s: %v", ErrWatch, absPath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: create watcher: %v", ErrWatch, err)
	}

	// The directory is watched rather than the file so that a rotated file
	// recreated under the same name is picked up.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		file.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrWatch, filepath.Dir(absPath), err)
	}

	return &FileWatcher{
		path:     absPath,
		opts:     opts,
		watcher:  watcher,
		file:     file,
		offset:   end,
		buf:      make([]byte, 32*1024),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (w *FileWatcher) Start(ctx context.Context) (<-chan domain.LineBatch, <-chan error) {
	batches := make(chan domain.LineBatch, w.opts.BufferSize)
	errs := make(chan error, 16)

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		close(batches)
		close(errs)
		return batches, errs
	}
	w.running = true
	w.mu.Unlock()

	// run owns w.offset from here on.
	log.Info().Str("file", w.path).Int64("offset", w.offset).Msg("Watching log file")
	go w.run(ctx, batches, errs)

	return batches, errs
}

func (w *FileWatcher) run(ctx context.Context, batches chan<- domain.LineBatch, errs chan<- error) {
	defer close(w.done)
	defer close(batches)
	defer close(errs)

	var tick <-chan time.Time
	if w.opts.PollInterval > 0 {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Has(fsnotify.Create) {
				// Drain what is left of the old file before switching.
				if !w.emit(ctx, batches, errs) {
					return
				}
				if err := w.reopen(); err != nil {
					reportErr(errs, err)
					continue
				}
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if !w.emit(ctx, batches, errs) {
					return
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			reportErr(errs, fmt.Errorf("watcher error: %w", err))
		case <-tick:
			if !w.emit(ctx, batches, errs) {
				return
			}
		}
	}
}

// emit reads appended lines and sends them as one batch. It returns false when
// the watcher is shutting down.
func (w *FileWatcher) emit(ctx context.Context, batches chan<- domain.LineBatch, errs chan<- error) bool {
	lines, err := w.readAppended()
	if err != nil {
		reportErr(errs, err)
	}
	if len(lines) == 0 {
		return true
	}

	select {
	case batches <- domain.LineBatch{Lines: lines, ReadAt: time.Now()}:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}

// readAppended reads everything after the current read position and returns
// the complete lines. It detects truncation by comparing the file size with
// the read position.
func (w *FileWatcher) readAppended() ([]string, error) {
	if w.file == nil {
		return nil, nil
	}

	info, err := w.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", w.path, err)
	}
	position := w.offset + int64(len(w.pending))
	if info.Size() < position {
		log.Warn().
			Str("file", w.path).
			Int64("size", info.Size()).
			Int64("offset", position).
			Msg("Log file truncated, reading from start")
		if _, err := w.file.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek %s: %w", w.path, err)
		}
		w.offset = 0
		w.pending = nil
		w.discarding = false
	}

	data := w.pending
	for {
		n, err := w.file.Read(w.buf)
		if n > 0 {
			data = append(data, w.buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", w.path, err)
		}
	}

	lines, offset, rest := SplitLines(w.offset, data)
	w.offset = offset
	w.pending = rest

	if w.discarding && len(lines) > 0 {
		lines = lines[1:]
		w.discarding = false
	}

	if len(w.pending) > w.opts.MaxPending {
		log.Warn().
			Str("file", w.path).
			Int("size", len(w.pending)).
			Int("limit", w.opts.MaxPending).
			Msg("Dropping oversized partial line")
		w.offset += int64(len(w.pending))
		w.pending = nil
		w.discarding = true
	}

	return lines, nil
}

func (w *FileWatcher) reopen() error {
	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", w.path, err)
	}
	if w.file != nil {
		w.file.Close()
	}
	w.file = file
	w.offset = 0
	w.pending = nil
	w.discarding = false
	log.Info().Str("file", w.path).Msg("Log file recreated, reopened from start")
	return nil
}

func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopChan:
		return nil
	default:
	}
	close(w.stopChan)

	err := w.watcher.Close()
	if w.running {
		<-w.done
		w.running = false
	}
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	return err
}

func (w *FileWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func reportErr(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
		log.Warn().Err(err).Msg("Error channel full, dropping error")
	}
}
