// Package app holds the decision core: the dedup store, the reconciler and
// the pipeline that feeds them from a log source.
//
// Everything here runs on one goroutine per pipeline. Adapters reach the core
// only through the interfaces in internal/ports.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/evewatch/internal/domain"
	"github.com/xoelrdgz/evewatch/internal/ports"
)

// Pipeline consumes line batches from a LineSource and runs every line through
// the decoder and the reconciler on a single goroutine.
//
// Per batch: expire stale alert entries, then decode and handle each line in
// order. A line that fails to decode is logged, quarantined and skipped.
type Pipeline struct {
	source     ports.LineSource
	decoder    ports.RecordDecoder
	reconciler *Reconciler
	dedup      *DedupStore
	quarantine ports.Quarantine
	observer   ports.RecordObserver
	counters   *domain.Counters
	clock      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex

	lastBatch atomic.Int64
	batches   atomic.Int64
}

type PipelineDeps struct {
	Source     ports.LineSource
	Decoder    ports.RecordDecoder
	Classifier ports.Classifier
	Sink       ports.ResultSink
	Reporter   ports.Reporter
	Observer   ports.RecordObserver
	Quarantine ports.Quarantine
	Dedup      *DedupStore
	Counters   *domain.Counters
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	if deps.Dedup == nil {
		deps.Dedup = NewDedupStore(nil)
	}
	if deps.Counters == nil {
		deps.Counters = domain.NewCounters()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	reconciler := NewReconciler(ReconcilerDeps{
		Dedup:      deps.Dedup,
		Classifier: deps.Classifier,
		Sink:       deps.Sink,
		Reporter:   deps.Reporter,
		Observer:   deps.Observer,
		Counters:   deps.Counters,
	})

	return &Pipeline{
		source:     deps.Source,
		decoder:    deps.Decoder,
		reconciler: reconciler,
		dedup:      deps.Dedup,
		quarantine: deps.Quarantine,
		observer:   deps.Observer,
		counters:   deps.Counters,
		clock:      deps.Clock,
	}
}

func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	p.ctx, p.cancel = context.WithCancel(ctx)

	batchChan, errChan := p.source.Start(p.ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.consume(batchChan, errChan)
	}()

	log.Info().Msg("Pipeline started")
	return nil
}

func (p *Pipeline) consume(batchChan <-chan domain.LineBatch, errChan <-chan error) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			log.Error().Err(err).Msg("Error reading log")
		case batch, ok := <-batchChan:
			if !ok {
				log.Info().Msg("Batch channel closed")
				return
			}
			p.ProcessBatch(p.ctx, batch)
		}
	}
}

// ProcessBatch handles one batch synchronously. It is exported for callers
// that drive the pipeline without a LineSource.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch domain.LineBatch) {
	if expired := p.dedup.Expire(p.clock()); expired > 0 {
		log.Debug().Int("flows", expired).Msg("Expired alerted flows")
	}

	for _, line := range batch.Lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		p.handleLine(ctx, line)
	}

	p.batches.Add(1)
	p.lastBatch.Store(p.clock().UnixNano())
	p.observer.ObserveState(p.dedup.SeenCount(), p.dedup.ActiveFlows())
}

func (p *Pipeline) handleLine(ctx context.Context, line string) {
	// A panic while handling one record must not take the watcher down.
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int("length", len(line)).
				Msg("Record handling panic recovered")
			p.observer.ObserveRecord(ports.OutcomeFailed)
			p.quarantineLine(line, fmt.Errorf("panic: %v", r))
		}
	}()

	rec, err := p.decoder.Decode(line)
	if err != nil {
		p.counters.IncrementMalformed()
		p.observer.ObserveRecord(ports.OutcomeMalformed)
		log.Warn().
			Err(err).
			Int("length", len(line)).
			Msg("Skipping malformed line")
		p.quarantineLine(line, err)
		return
	}

	p.reconciler.Handle(ctx, rec, p.clock())
}

func (p *Pipeline) quarantineLine(line string, reason error) {
	if p.quarantine == nil {
		return
	}
	if err := p.quarantine.Write(line, reason); err != nil {
		log.Error().Err(err).Msg("Failed to quarantine line")
	}
}

// Stop stops the source, waits for the pipeline goroutine to finish its
// current batch and releases the dedup store and quarantine.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	log.Info().Msg("Stopping pipeline gracefully...")

	if err := p.source.Stop(); err != nil {
		log.Error().Err(err).Msg("Error stopping log source")
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Pipeline did not drain in time, cancelling")
		p.cancel()
		<-done
	}
	p.cancel()

	if err := p.dedup.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing dedup store")
	}
	if p.quarantine != nil {
		if err := p.quarantine.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing quarantine")
		}
	}

	snap := p.counters.Snapshot()
	log.Info().
		Int64("benign", snap.Benign).
		Int64("signature_alerts", snap.SignatureAlerts).
		Int64("classifier_alerts", snap.ClassifierAlerts).
		Int64("malformed", snap.Malformed).
		Dur("uptime", snap.Uptime).
		Msg("Pipeline stopped")
}

func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// LastBatch returns when the last batch finished, or the zero time.
func (p *Pipeline) LastBatch() time.Time {
	ns := p.lastBatch.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (p *Pipeline) Batches() int64 {
	return p.batches.Load()
}

func (p *Pipeline) Counters() domain.CountersSnapshot {
	return p.counters.Snapshot()
}

func (p *Pipeline) WaitForSignal(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
	}

	p.Stop()
}

// Run starts the pipeline and blocks until a shutdown signal or ctx ends.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.source == nil {
		return errors.New("pipeline has no log source")
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	p.WaitForSignal(ctx)
	return nil
}
