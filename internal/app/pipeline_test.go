package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/evewatch/internal/adapters/input"
	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

type chanSource struct {
	batches chan domain.LineBatch
	errs    chan error
	once    sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{
		batches: make(chan domain.LineBatch, 8),
		errs:    make(chan error, 8),
	}
}

func (s *chanSource) Start(context.Context) (<-chan domain.LineBatch, <-chan error) {
	return s.batches, s.errs
}

func (s *chanSource) Stop() error {
	s.once.Do(func() { close(s.batches) })
	return nil
}

type memoryQuarantine struct {
	mu      sync.Mutex
	lines   []string
	reasons []error
	closed  bool
}

func (q *memoryQuarantine) Write(line string, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lines = append(q.lines, line)
	q.reasons = append(q.reasons, reason)
	return nil
}

func (q *memoryQuarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type pipelineFixture struct {
	p          *Pipeline
	source     *chanSource
	sink       *memorySink
	quarantine *memoryQuarantine
	observer   *recordingObserver
	clock      *manualClock
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		source:     newChanSource(),
		sink:       &memorySink{},
		quarantine: &memoryQuarantine{},
		observer:   newRecordingObserver(),
		clock:      &manualClock{now: t0},
	}
	f.p = NewPipeline(PipelineDeps{
		Source:     f.source,
		Decoder:    input.NewEVEDecoder(),
		Classifier: &keywordClassifier{keywords: []string{"union select"}},
		Sink:       f.sink,
		Observer:   f.observer,
		Quarantine: f.quarantine,
		Clock:      f.clock.Now,
	})
	return f
}

func TestPipelineProcessBatch(t *testing.T) {
	f := newPipelineFixture()

	f.p.ProcessBatch(context.Background(), domain.LineBatch{Lines: []string{
		`{"event_type":"alert","flow_id":100,"tx_id":0,"http":{"url":"/admin.php?cmd=id"}}`,
		`{"event_type":"http","flow_id":100,"tx_id":0,"http":{"url":"/admin.php?cmd=id"}}`,
		`{"event_type":"http","flow_id":200,"tx_id":0,"http":{"url":"/products?id=1 UNION SELECT 1,2"}}`,
		`{"event_type":"http","flow_id":200,"tx_id`,
		``,
		`   `,
		`{"event_type":"flow","flow_id":300}`,
	}})

	rows := f.sink.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"/admin.php?cmd=id", "ATTACK", "1.00"}, rows[0].Record())
	assert.Equal(t, []string{"/products?id=1 UNION SELECT 1,2", "ATTACK", "0.95"}, rows[1].Record())

	snap := f.p.Counters()
	assert.Equal(t, int64(1), snap.SignatureAlerts)
	assert.Equal(t, int64(1), snap.ClassifierAlerts)
	assert.Equal(t, int64(1), snap.Malformed)
	assert.Equal(t, int64(2), snap.Ignored)

	require.Len(t, f.quarantine.lines, 1)
	assert.ErrorIs(t, f.quarantine.reasons[0], input.ErrInvalidRecord)
	assert.Equal(t, 1, f.observer.Outcome(ports.OutcomeMalformed))
	assert.Equal(t, 1, f.observer.Outcome(ports.OutcomeSuppress))
	assert.Equal(t, 2, f.observer.seen)
	assert.Equal(t, 1, f.observer.active)
	assert.Equal(t, int64(1), f.p.Batches())
	assert.True(t, t0.Equal(f.p.LastBatch()))
}

func TestPipelineExpiresBeforeEachBatch(t *testing.T) {
	f := newPipelineFixture()
	ctx := context.Background()

	f.p.ProcessBatch(ctx, domain.LineBatch{Lines: []string{
		`{"event_type":"alert","flow_id":1,"tx_id":0,"http":{"url":"/x"}}`,
	}})
	assert.Equal(t, 1, f.observer.active)

	f.clock.Set(t0.Add(AlertExpiry + time.Second))
	f.p.ProcessBatch(ctx, domain.LineBatch{Lines: []string{
		`{"event_type":"http","flow_id":1,"tx_id":1,"http":{"url":"/y"}}`,
	}})

	assert.Equal(t, 0, f.observer.active)
	assert.Len(t, f.sink.Rows(), 2)
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(context.Context, string) (domain.Label, float64, error) {
	panic("boom")
}

func TestPipelineRecoversFromPanic(t *testing.T) {
	q := &memoryQuarantine{}
	p := NewPipeline(PipelineDeps{
		Source:     newChanSource(),
		Decoder:    input.NewEVEDecoder(),
		Classifier: panickingClassifier{},
		Sink:       &memorySink{},
		Quarantine: q,
	})

	line := `{"event_type":"http","flow_id":1,"tx_id":0,"http":{"url":"/a"}}`
	assert.NotPanics(t, func() {
		p.ProcessBatch(context.Background(), domain.LineBatch{Lines: []string{line}})
	})
	require.Len(t, q.lines, 1)
	assert.Equal(t, line, q.lines[0])
}

func TestPipelineStartStop(t *testing.T) {
	f := newPipelineFixture()

	require.NoError(t, f.p.Start(context.Background()))
	assert.True(t, f.p.IsRunning())

	f.source.errs <- errors.New("transient read error")
	f.source.batches <- domain.LineBatch{Lines: []string{
		`{"event_type":"http","flow_id":1,"tx_id":0,"http":{"url":"/a"}}`,
	}}
	f.source.batches <- domain.LineBatch{Lines: []string{
		`{"event_type":"http","flow_id":1,"tx_id":1,"http":{"url":"/b"}}`,
	}}

	require.Eventually(t, func() bool { return len(f.sink.Rows()) == 2 }, 2*time.Second, 10*time.Millisecond)

	f.p.Stop()
	assert.False(t, f.p.IsRunning())
	assert.True(t, f.quarantine.closed)
	assert.Equal(t, int64(2), f.p.Batches())

	f.p.Stop()
}

func TestPipelineRunStopsOnContext(t *testing.T) {
	f := newPipelineFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	require.Eventually(t, f.p.IsRunning, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, f.p.IsRunning())
}

func TestPipelineWithFileWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"event_type":"http","flow_id":1,"tx_id":0,"http":{"url":"/preexisting"}}`+"\n"), 0o644))

	opts := input.DefaultWatchOptions()
	opts.PollInterval = 20 * time.Millisecond
	watcher, err := input.NewFileWatcher(path, opts)
	require.NoError(t, err)

	sink := &memorySink{}
	p := NewPipeline(PipelineDeps{
		Source:     watcher,
		Decoder:    input.NewEVEDecoder(),
		Classifier: &keywordClassifier{keywords: []string{"union select"}},
		Sink:       sink,
	})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	appendTo := func(s string) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(s)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	appendTo(`{"event_type":"http","flow_id":2,"tx_id":0,"http":{"url":"/a?id=1 union select 1"}}` + "\n" + `{"event_type":"http","flow_id":3,`)
	require.Eventually(t, func() bool { return len(sink.Rows()) == 1 }, 3*time.Second, 10*time.Millisecond)

	appendTo(`"tx_id":0,"http":{"url":"/b"}}` + "\n")
	require.Eventually(t, func() bool { return len(sink.Rows()) == 2 }, 3*time.Second, 10*time.Millisecond)

	rows := sink.Rows()
	assert.Equal(t, "/a?id=1 union select 1", rows[0].URL)
	assert.Equal(t, domain.LabelAttack, rows[0].Label)
	assert.Equal(t, "/b", rows[1].URL, "partial line completed by a later write")
	for _, row := range rows {
		assert.NotEqual(t, "/preexisting", row.URL)
	}
}
