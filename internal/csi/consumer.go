package csi

import (
	"context"
	"time"

	"github.com/banshee-data/csimotion/internal/timeutil"
)

// DefaultTickInterval is the display refresh period.
const DefaultTickInterval = 100 * time.Millisecond

// Renderer receives every evaluated Tick. Implementations must not retain
// the Tick's slices beyond what they own; each Tick is freshly allocated.
type Renderer interface {
	Render(ctx context.Context, t Tick) error
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(ctx context.Context, t Tick) error

func (f RenderFunc) Render(ctx context.Context, t Tick) error { return f(ctx, t) }

// Consumer evaluates the pipeline on a fixed interval, independent of how
// fast the producer is pushing, and hands the result to its renderers.
type Consumer struct {
	pipeline  *Pipeline
	interval  time.Duration
	clock     timeutil.Clock
	renderers []Renderer
}

// NewConsumer builds a Consumer. A non-positive interval uses
// DefaultTickInterval; a nil clock uses the wall clock.
func NewConsumer(p *Pipeline, interval time.Duration, clock timeutil.Clock, renderers ...Renderer) *Consumer {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Consumer{pipeline: p, interval: interval, clock: clock, renderers: renderers}
}

// Run ticks until ctx is done and returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	diagf("consumer started: interval=%s renderers=%d", c.interval, len(c.renderers))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.Once(ctx)
		}
	}
}

// Once evaluates the pipeline and renders the result immediately. A failing
// renderer is logged and does not prevent the others from running.
func (c *Consumer) Once(ctx context.Context) Tick {
	t := c.pipeline.Tick()
	for _, r := range c.renderers {
		if err := r.Render(ctx, t); err != nil {
			opsf("render failed: %v", err)
		}
	}
	return t
}
