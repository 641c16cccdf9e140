package csi

import (
	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon keeps min-max normalization finite on a constant window.
	Epsilon = 1e-6
	// DefaultSmoothingSpan is the moving-average span used when none is set.
	DefaultSmoothingSpan = 5
	// DisplayScale stretches the [0,1] conditioned series for plotting.
	// Detection never sees it.
	DisplayScale = 8.0
)

// Series is a conditioned view of one window snapshot.
type Series struct {
	// Values is the normalized then smoothed sequence in windowed mode,
	// and the raw amplitudes in streaming mode.
	Values []float64 `json:"values"`
	// Normalized is the pre-smoothing sequence (windowed mode only).
	Normalized []float64 `json:"normalized,omitempty"`
	// Indexes are the arrival indexes of the samples behind each value.
	Indexes []uint64 `json:"indexes"`
}

func (s Series) Len() int { return len(s.Values) }

// Scaled returns Values multiplied by k, for renderers.
func (s Series) Scaled(k float64) []float64 {
	out := make([]float64, len(s.Values))
	copy(out, s.Values)
	floats.Scale(k, out)
	return out
}

// Normalize maps values into [0, 1) by the snapshot's own bounds:
// (v-min)/(max-min+Epsilon). A constant input maps to all zeros.
func Normalize(values []float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	lo := floats.Min(values)
	hi := floats.Max(values)
	denom := hi - lo + Epsilon

	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - lo) / denom
	}
	return out
}

// MovingAverage applies a centered moving average of the given span and
// returns a sequence of the same length. Near the edges the window is
// truncated, so the first and last values average over fewer neighbours
// instead of zero padding. An even span is widened to the next odd value;
// a span of 1 or less returns a copy of the input.
func MovingAverage(values []float64, span int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if span <= 1 {
		copy(out, values)
		return out
	}
	if span%2 == 0 {
		span++
	}
	half := span / 2

	prefix := make([]float64, n+1)
	floats.CumSum(prefix[1:], values)

	for i := range values {
		lo := i - half
		if lo < 0 {
			lo = 0
		}
		hi := i + half
		if hi > n-1 {
			hi = n - 1
		}
		out[i] = (prefix[hi+1] - prefix[lo]) / float64(hi-lo+1)
	}
	return out
}

// Condition normalizes and smooths a window snapshot. Bounds come only
// from this snapshot, so the same raw data can condition differently
// once the visible window's min or max changes. Fewer than two samples
// give an empty Series.
func Condition(samples []Sample, span int) Series {
	if len(samples) < 2 {
		return Series{}
	}

	indexes := make([]uint64, len(samples))
	for i, s := range samples {
		indexes[i] = s.Index
	}
	normalized := Normalize(SampleValues(samples))

	return Series{
		Values:     MovingAverage(normalized, span),
		Normalized: normalized,
		Indexes:    indexes,
	}
}
