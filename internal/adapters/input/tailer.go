package input

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
)

// PollTailer follows the log by polling, for filesystems where inotify events
// are not delivered (NFS, some container mounts). It offers the same contract
// as FileWatcher: start at end of file, complete lines only, one batch per
// wake-up.
type PollTailer struct {
	filepath   string
	tail       *tail.Tail
	bufferSize int
	maxBatch   int
	mu         sync.Mutex
	running    bool
	stopChan   chan struct{}
}

// NewPollTailer opens the file at its current end. A missing file is an error.
func NewPollTailer(filepath string, bufferSize int) (*PollTailer, error) {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if _, err := os.Stat(filepath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatch, err)
	}

	t, err := tail.TailFile(filepath, tail.Config{
		Follow:        true,
		ReOpen:        true,
		MustExist:     true,
		Poll:          true,
		CompleteLines: true,
		Location:      &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:        tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatch, err)
	}

	return &PollTailer{
		filepath:   filepath,
		tail:       t,
		bufferSize: bufferSize,
		maxBatch:   1024,
		stopChan:   make(chan struct{}),
	}, nil
}

func (t *PollTailer) Start(ctx context.Context) (<-chan domain.LineBatch, <-chan error) {
	batches := make(chan domain.LineBatch, t.bufferSize)
	errs := make(chan error, 16)

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		close(batches)
		close(errs)
		return batches, errs
	}
	t.running = true
	t.mu.Unlock()

	go func() {
		defer close(batches)
		defer close(errs)

		log.Info().Str("file", t.filepath).Msg("Started polling log file")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Context cancelled, stopping tailer")
				return
			case <-t.stopChan:
				log.Info().Msg("Stop signal received, stopping tailer")
				return
			case line, ok := <-t.tail.Lines:
				if !ok {
					log.Info().Msg("Tail channel closed")
					return
				}
				lines := t.collect(line, errs)
				if len(lines) == 0 {
					continue
				}
				select {
				case batches <- domain.LineBatch{Lines: lines, ReadAt: time.Now()}:
				case <-ctx.Done():
					return
				case <-t.stopChan:
					return
				}
			}
		}
	}()

	return batches, errs
}

// collect turns the first line plus whatever else is already queued into one
// batch, so expiry runs once per wake-up rather than once per line.
func (t *PollTailer) collect(first *tail.Line, errs chan<- error) []string {
	lines := make([]string, 0, 8)
	add := func(l *tail.Line) {
		if l.Err != nil {
			reportErr(errs, l.Err)
			return
		}
		lines = append(lines, trimNewline(l.Text))
	}

	add(first)
	for len(lines) < t.maxBatch {
		select {
		case l, ok := <-t.tail.Lines:
			if !ok {
				return lines
			}
			add(l)
		default:
			return lines
		}
	}
	return lines
}

func (t *PollTailer) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	select {
	case <-t.stopChan:
		return nil
	default:
	}
	close(t.stopChan)
	t.running = false

	err := t.tail.Stop()
	t.tail.Cleanup()
	return err
}

func (t *PollTailer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func trimNewline(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}
