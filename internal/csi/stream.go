package csi

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultMinStreamingSamples is the smallest window that yields a
// standard deviation in streaming mode.
const DefaultMinStreamingSamples = 2

// StatPoint is the streaming-mode output for one new sample: the sample
// itself and the population mean and standard deviation of the whole
// window at the moment it arrived.
type StatPoint struct {
	Index     uint64        `json:"index"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Amplitude float64       `json:"amplitude"`
	Mean      float64       `json:"mean"`
	StdDev    float64       `json:"std_dev"`
}

// Threshold is the streaming-mode activity threshold, mean plus one
// standard deviation.
func (p StatPoint) Threshold() float64 { return p.Mean + p.StdDev }

// Mean returns the arithmetic mean. It needs at least one value.
func Mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	return stat.Mean(values, nil), true
}

// MeanStd returns the mean and population standard deviation. It needs
// at least two values.
func MeanStd(values []float64) (mean, std float64, ok bool) {
	if len(values) < 2 {
		return 0, 0, false
	}
	mean, std = stat.PopMeanStdDev(values, nil)
	return mean, std, true
}

// StreamingStats carries the per-sample (mean, std) series between
// observations. Each observation recomputes the statistics over the full
// window contents, O(window) per sample.
type StreamingStats struct {
	mu         sync.Mutex
	points     []StatPoint
	capacity   int
	minSamples int
	lastIndex  uint64
	seen       bool
}

// NewStreamingStats keeps at most capacity points and emits nothing until
// the window holds minSamples samples (never fewer than two).
func NewStreamingStats(capacity, minSamples int) *StreamingStats {
	if capacity < 1 {
		capacity = 1
	}
	if minSamples < DefaultMinStreamingSamples {
		minSamples = DefaultMinStreamingSamples
	}
	return &StreamingStats{capacity: capacity, minSamples: minSamples}
}

// Observe snapshots w and appends a StatPoint for its newest sample. It
// reports false while the window is too short, or when the newest sample
// was already observed.
func (s *StreamingStats) Observe(w *Window) (StatPoint, bool) {
	snap := w.Snapshot()
	if len(snap) < s.minSamples {
		return StatPoint{}, false
	}
	mean, std, ok := MeanStd(SampleValues(snap))
	if !ok {
		return StatPoint{}, false
	}

	last := snap[len(snap)-1]
	p := StatPoint{
		Index:     last.Index,
		Elapsed:   last.Elapsed,
		Amplitude: last.Value,
		Mean:      mean,
		StdDev:    std,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen && last.Index == s.lastIndex {
		return StatPoint{}, false
	}
	s.seen = true
	s.lastIndex = last.Index

	if len(s.points) == s.capacity {
		copy(s.points, s.points[1:])
		s.points = s.points[:len(s.points)-1]
	}
	s.points = append(s.points, p)
	return p, true
}

// Points returns a copy of the carried series, oldest first.
func (s *StreamingStats) Points() []StatPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StatPoint, len(s.points))
	copy(out, s.points)
	return out
}

// Latest returns the most recent point.
func (s *StreamingStats) Latest() (StatPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.points) == 0 {
		return StatPoint{}, false
	}
	return s.points[len(s.points)-1], true
}
