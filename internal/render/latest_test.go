package render

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/csimotion/internal/csi"
)

func TestLatest_GetBeforeRender(t *testing.T) {
	l := NewLatest()
	_, ok := l.Get()
	assert.False(t, ok)
}

func TestLatest_KeepsMostRecent(t *testing.T) {
	l := NewLatest()
	require.NoError(t, l.Render(context.Background(), windowedTick()))
	require.NoError(t, l.Render(context.Background(), streamingTick()))

	got, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, csi.ModeStreaming, got.Mode)
	assert.Equal(t, uint64(4), got.Total)
}

func TestDisplayValues(t *testing.T) {
	values, threshold := displayValues(windowedTick())
	assert.InDeltaSlice(t, []float64{0, 0.8, 7.2, 8, 1.6}, values, 1e-9)
	assert.InDelta(t, 0.44*csi.DisplayScale, threshold, 1e-9)

	st := streamingTick()
	values, threshold = displayValues(st)
	assert.Equal(t, st.Series.Values, values)
	assert.Equal(t, st.Result.Threshold, threshold)
}

func TestXPositions(t *testing.T) {
	assert.Equal(t, []float64{7, 8, 9, 10, 11}, xPositions(windowedTick()))

	tk := windowedTick()
	tk.Series.Indexes = nil
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, xPositions(tk))
}
