// Package render turns evaluated pipeline ticks into something a person or
// another system can look at: HTML charts, PNG plots, JSON status, a
// websocket feed and MQTT activity events.
//
// Every renderer treats a csi.Tick as read-only. The same Tick value is
// handed to all renderers of a consumer.
package render

import (
	"context"
	"sync"

	"github.com/banshee-data/csimotion/internal/csi"
)

// Latest retains the most recent Tick for request-driven views.
type Latest struct {
	mu   sync.RWMutex
	tick csi.Tick
	ok   bool
}

func NewLatest() *Latest { return &Latest{} }

func (l *Latest) Render(_ context.Context, t csi.Tick) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tick = t
	l.ok = true
	return nil
}

// Get returns the retained Tick, or false before the first one arrives.
func (l *Latest) Get() (csi.Tick, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tick, l.ok
}

// displayValues returns the series as drawn and the threshold on the same
// scale. Windowed series live in [0, 1] and are stretched by
// csi.DisplayScale; streaming series are raw amplitudes.
func displayValues(t csi.Tick) ([]float64, float64) {
	if t.Mode == csi.ModeStreaming {
		return t.Series.Values, t.Result.Threshold
	}
	return t.Series.Scaled(csi.DisplayScale), t.Result.Threshold * csi.DisplayScale
}

// xPositions returns the sample index of each series element.
func xPositions(t csi.Tick) []float64 {
	xs := make([]float64, len(t.Series.Values))
	for i := range xs {
		if len(t.Series.Indexes) == len(xs) {
			xs[i] = float64(t.Series.Indexes[i])
		} else {
			xs[i] = float64(i)
		}
	}
	return xs
}
