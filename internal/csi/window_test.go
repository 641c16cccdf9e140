package csi

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_CapacityInvariant(t *testing.T) {
	const capacity = 7
	for _, k := range []int{0, 1, 3, 7, 20} {
		w := NewWindow(capacity)
		pushed := capacity + k
		for i := 0; i < pushed; i++ {
			_, ok := w.Push(float64(i), time.Duration(i))
			require.True(t, ok)
		}

		assert.Equal(t, capacity, w.Len(), "k=%d", k)
		snap := w.Snapshot()
		require.Len(t, snap, capacity)
		for i, s := range snap {
			want := pushed - capacity + i
			assert.Equal(t, float64(want), s.Value, "k=%d position %d", k, i)
			assert.Equal(t, uint64(want), s.Index, "k=%d position %d", k, i)
		}
		assert.Equal(t, uint64(pushed), w.Total())
	}
}

func TestWindow_PartialFill(t *testing.T) {
	w := NewWindow(10)
	assert.True(t, w.IsEmpty())
	assert.Empty(t, w.Snapshot())

	w.Push(1, 0)
	w.Push(2, 0)
	w.Push(3, 0)
	assert.False(t, w.IsEmpty())
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, []float64{1, 2, 3}, w.Values())
	assert.Equal(t, 10, w.Cap())
}

func TestWindow_MinimumCapacity(t *testing.T) {
	w := NewWindow(0)
	w.Push(1, 0)
	w.Push(2, 0)
	assert.Equal(t, 1, w.Cap())
	assert.Equal(t, []float64{2}, w.Values())
}

func TestWindow_SnapshotIsCopy(t *testing.T) {
	w := NewWindow(3)
	w.Push(1, 0)
	snap := w.Snapshot()
	snap[0].Value = 99
	assert.Equal(t, []float64{1}, w.Values())
}

func TestWindow_FreezeStopsPushes(t *testing.T) {
	w := NewWindow(3)
	w.Push(1, 0)
	w.Freeze()

	_, ok := w.Push(2, 0)
	assert.False(t, ok)
	assert.True(t, w.Frozen())
	assert.Equal(t, []float64{1}, w.Values())
	assert.Equal(t, uint64(1), w.Total())
}

// TestWindow_ConcurrentSnapshotConsistency checks that every snapshot taken
// while a writer is pushing is a run of consecutive indexes, i.e. no reader
// observes a partially evicted ring.
func TestWindow_ConcurrentSnapshotConsistency(t *testing.T) {
	w := NewWindow(64)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20000; i++ {
			w.Push(float64(i), 0)
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snap := w.Snapshot()
				for i := 1; i < len(snap); i++ {
					if snap[i].Index != snap[i-1].Index+1 {
						t.Errorf("torn snapshot: index %d follows %d", snap[i].Index, snap[i-1].Index)
						return
					}
					if snap[i].Value != float64(snap[i].Index) {
						t.Errorf("sample %d carries value %v", snap[i].Index, snap[i].Value)
						return
					}
				}
				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, w.Len())
}

func TestWindow_SnapshotTotalMatchesNewestSample(t *testing.T) {
	w := NewWindow(8)
	snap, total := w.SnapshotTotal()
	assert.Empty(t, snap)
	assert.Zero(t, total)

	for i := 0; i < 11; i++ {
		w.Push(float64(i), 0)
	}
	snap, total = w.SnapshotTotal()
	require.Len(t, snap, 8)
	assert.Equal(t, uint64(11), total)
	assert.Equal(t, uint64(3), snap[0].Index)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20000; i++ {
			w.Push(float64(i), 0)
		}
	}()
	for {
		snap, total := w.SnapshotTotal()
		if got := snap[len(snap)-1].Index + 1; got != total {
			t.Fatalf("total %d does not match newest sample index %d", total, got-1)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
