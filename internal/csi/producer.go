package csi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/csimotion/internal/source"
	"github.com/banshee-data/csimotion/internal/timeutil"
)

// DefaultPacing is the delay between records when replaying a log, which
// approximates the receiver's frame rate.
const DefaultPacing = 20 * time.Millisecond

// maxConsecutiveErrors ends Run when a source keeps failing with errors
// that are neither transient nor end of stream.
const maxConsecutiveErrors = 100

// Producer moves records from a FrameSource into a Pipeline until the
// source is exhausted, unavailable, or the context is cancelled. The window
// is frozen whenever Run returns.
type Producer struct {
	pipeline *Pipeline
	src      source.FrameSource
	pacing   time.Duration
	clock    timeutil.Clock

	// OnSample, if set, is called for every accepted sample.
	OnSample func(Sample)
	// OnStat, if set, is called with each streaming statistics point.
	OnStat func(StatPoint)

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewProducer builds a Producer. A zero pacing reads as fast as the source
// delivers; a nil clock uses the wall clock.
func NewProducer(p *Pipeline, src source.FrameSource, pacing time.Duration, clock timeutil.Clock) *Producer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Producer{pipeline: p, src: src, pacing: pacing, clock: clock}
}

// Run reads until the source ends. It returns nil on io.EOF or after Stop,
// ctx.Err() on cancellation, and a wrapped source.ErrUnavailable when the
// source cannot be read at all.
func (pr *Producer) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr.mu.Lock()
	if pr.stopped {
		pr.mu.Unlock()
		return nil
	}
	pr.cancel = cancel
	pr.mu.Unlock()

	defer pr.pipeline.Stop()

	kind := pr.src.Kind()
	opsf("producer started: source=%s pacing=%s", kind, pr.pacing)

	var accepted, read uint64
	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			opsf("producer stopped after %d records (%d accepted)", read, accepted)
			return parent.Err()
		default:
		}

		rec, err := pr.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				opsf("source %s exhausted after %d records (%d accepted)", kind, read, accepted)
				return nil
			case ctx.Err() != nil:
				continue
			case errors.Is(err, source.ErrUnavailable):
				return fmt.Errorf("producer: %w", err)
			case source.IsTransient(err):
				pr.pipeline.metrics.SourceError(kind)
				diagf("transient read error from %s source: %v", kind, err)
				continue
			}

			pr.pipeline.metrics.SourceError(kind)
			consecutive++
			opsf("read error from %s source (%d in a row): %v", kind, consecutive, err)
			if consecutive >= maxConsecutiveErrors {
				return fmt.Errorf("producer: %s source failed %d times in a row: %w", kind, consecutive, err)
			}
			continue
		}
		consecutive = 0
		read++

		if s, ok := pr.pipeline.Ingest(rec); ok {
			accepted++
			if pr.OnSample != nil {
				pr.OnSample(s)
			}
			if st, ok := pr.pipeline.Observe(); ok && pr.OnStat != nil {
				pr.OnStat(st)
			}
		}

		if pr.pacing > 0 {
			select {
			case <-ctx.Done():
			case <-pr.clock.After(pr.pacing):
			}
		}
	}
}

// Stop ends a running Run and freezes the window. Records the source
// delivers afterwards are never stored.
func (pr *Producer) Stop() {
	pr.mu.Lock()
	pr.stopped = true
	cancel := pr.cancel
	pr.mu.Unlock()

	pr.pipeline.Stop()
	if cancel != nil {
		cancel()
	}
}
