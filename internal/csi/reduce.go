package csi

import (
	"fmt"
	"math"
	"strings"
)

// Policy selects how a Frame is reduced to one amplitude.
type Policy int

const (
	// PolicyAverage takes the mean absolute value over all subcarriers.
	PolicyAverage Policy = iota
	// PolicyIndexed takes the absolute value of one fixed subcarrier.
	PolicyIndexed
)

func (p Policy) String() string {
	switch p {
	case PolicyAverage:
		return "average"
	case PolicyIndexed:
		return "indexed"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "average", "avg", "mean":
		return PolicyAverage, nil
	case "indexed", "index", "subcarrier":
		return PolicyIndexed, nil
	default:
		return 0, fmt.Errorf("unknown reduction policy %q: expected average or indexed", s)
	}
}

// Reducer turns a Frame into a non-negative scalar amplitude.
type Reducer struct {
	Policy Policy
	// Index is the subcarrier used by PolicyIndexed.
	Index int
}

// Reduce returns the amplitude of f. It reports false when there is no
// sample to take: an empty frame, or an Index outside this frame.
func (r Reducer) Reduce(f Frame) (float64, bool) {
	if len(f) == 0 {
		return 0, false
	}

	switch r.Policy {
	case PolicyIndexed:
		if r.Index < 0 || r.Index >= len(f) {
			return 0, false
		}
		return math.Abs(float64(f[r.Index])), true
	default:
		var sum float64
		for _, v := range f {
			sum += math.Abs(float64(v))
		}
		return sum / float64(len(f)), true
	}
}
