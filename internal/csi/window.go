package csi

import (
	"sync"
	"time"
)

// Sample is one reduced amplitude. Index counts pushes since the window
// was created; Elapsed is the time since pipeline start when it arrived.
type Sample struct {
	Index   uint64        `json:"index"`
	Value   float64       `json:"value"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Window is a fixed-capacity ring of the most recent Samples. When full,
// a push evicts the oldest sample.
//
// It is the one structure shared between the producer and the consumers:
// every push and every snapshot holds the lock for the duration of a
// single copy, so readers never see a half-evicted ring.
type Window struct {
	mu     sync.RWMutex
	buf    []Sample
	head   int // position of the oldest sample
	size   int
	total  uint64
	frozen bool
}

// NewWindow creates a Window holding at most capacity samples. Capacity
// below 1 is treated as 1.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]Sample, capacity)}
}

// Push appends a sample, evicting the oldest when full. It reports false
// and stores nothing once the window has been frozen.
func (w *Window) Push(value float64, elapsed time.Duration) (Sample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.frozen {
		return Sample{}, false
	}

	s := Sample{Index: w.total, Value: value, Elapsed: elapsed}
	capacity := len(w.buf)
	if w.size < capacity {
		w.buf[(w.head+w.size)%capacity] = s
		w.size++
	} else {
		w.buf[w.head] = s
		w.head = (w.head + 1) % capacity
	}
	w.total++
	return s, true
}

// Snapshot returns a copy of the held samples, oldest first.
func (w *Window) Snapshot() []Sample {
	out, _ := w.SnapshotTotal()
	return out
}

// SnapshotTotal returns Snapshot and Total read under the same lock, so the
// count always matches the last sample in the copy.
func (w *Window) SnapshotTotal() ([]Sample, uint64) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Sample, w.size)
	capacity := len(w.buf)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%capacity]
	}
	return out, w.total
}

// Values returns a copy of the held amplitudes, oldest first.
func (w *Window) Values() []float64 {
	return SampleValues(w.Snapshot())
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

func (w *Window) IsEmpty() bool { return w.Len() == 0 }

func (w *Window) Cap() int { return len(w.buf) }

// Total returns how many samples have ever been pushed.
func (w *Window) Total() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.total
}

// Freeze stops the window from accepting further pushes. Snapshots keep
// returning the final contents.
func (w *Window) Freeze() {
	w.mu.Lock()
	w.frozen = true
	w.mu.Unlock()
}

func (w *Window) Frozen() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.frozen
}

// SampleValues extracts the amplitudes from samples.
func SampleValues(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}
