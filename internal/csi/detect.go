package csi

import "fmt"

// DefaultThresholdScale is the windowed-mode sensitivity multiplier; larger
// values are less sensitive.
const DefaultThresholdScale = 1.5

// Result is one threshold evaluation: the threshold and, for every input
// value, whether it lies strictly above it. Ties count as inactive.
type Result struct {
	Threshold float64 `json:"threshold"`
	Mask      []bool  `json:"mask"`
}

// ActiveCount returns how many values were above the threshold.
func (r Result) ActiveCount() int {
	n := 0
	for _, m := range r.Mask {
		if m {
			n++
		}
	}
	return n
}

// Active reports whether any value was above the threshold.
func (r Result) Active() bool {
	for _, m := range r.Mask {
		if m {
			return true
		}
	}
	return false
}

// Detector derives an adaptive threshold from a sequence and marks the
// values above it. Implementations hold no state between calls.
type Detector interface {
	Detect(values []float64) Result
	Name() string
}

// ScaledMeanDetector sets the threshold at Scale times the mean of the
// sequence. It is the windowed-mode rule, applied to the smoothed series.
type ScaledMeanDetector struct {
	Scale float64
}

func (d ScaledMeanDetector) Name() string {
	return fmt.Sprintf("scaled-mean(x%.3g)", d.Scale)
}

func (d ScaledMeanDetector) Detect(values []float64) Result {
	mean, ok := Mean(values)
	if !ok {
		return Result{}
	}
	threshold := mean * d.Scale
	return Result{Threshold: threshold, Mask: above(values, threshold)}
}

// MeanStdDetector sets the threshold at the mean plus one population
// standard deviation. It is the streaming-mode rule and takes no scale.
type MeanStdDetector struct{}

func (MeanStdDetector) Name() string { return "mean+std" }

func (MeanStdDetector) Detect(values []float64) Result {
	mean, std, ok := MeanStd(values)
	if !ok {
		if m, ok := Mean(values); ok {
			return Result{Threshold: m, Mask: above(values, m)}
		}
		return Result{}
	}
	threshold := mean + std
	return Result{Threshold: threshold, Mask: above(values, threshold)}
}

func above(values []float64, threshold float64) []bool {
	mask := make([]bool, len(values))
	for i, v := range values {
		mask[i] = v > threshold
	}
	return mask
}

// Region is a contiguous run of active samples, as the half-open index
// range [Start, End) into the evaluated sequence.
type Region struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Region) Len() int { return r.End - r.Start }

// Regions segments a mask into its runs of true values.
func Regions(mask []bool) []Region {
	var out []Region
	start := -1
	for i, m := range mask {
		switch {
		case m && start < 0:
			start = i
		case !m && start >= 0:
			out = append(out, Region{Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Region{Start: start, End: len(mask)})
	}
	return out
}
