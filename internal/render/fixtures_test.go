package render

import (
	"time"

	"github.com/banshee-data/csimotion/internal/csi"
)

var fixtureTaken = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// windowedTick is a small evaluated windowed-mode tick with one region.
func windowedTick() csi.Tick {
	values := []float64{0, 0.1, 0.9, 1, 0.2}
	res := csi.ScaledMeanDetector{Scale: 1}.Detect(values)
	return csi.Tick{
		Mode:      csi.ModeWindowed,
		ModeName:  csi.ModeWindowed.String(),
		Taken:     fixtureTaken,
		WindowLen: len(values),
		Total:     12,
		Series:    csi.Series{Values: values, Indexes: []uint64{7, 8, 9, 10, 11}},
		Result:    res,
		Regions:   csi.Regions(res.Mask),
	}
}

func streamingTick() csi.Tick {
	values := []float64{10, 10, 30, 10}
	stats := []csi.StatPoint{
		{Index: 1, Amplitude: 10, Mean: 10, StdDev: 0},
		{Index: 2, Amplitude: 30, Mean: 50.0 / 3, StdDev: 9.43},
		{Index: 3, Amplitude: 10, Mean: 15, StdDev: 8.66},
	}
	res := csi.MeanStdDetector{}.Detect(values)
	return csi.Tick{
		Mode:      csi.ModeStreaming,
		ModeName:  csi.ModeStreaming.String(),
		Taken:     fixtureTaken,
		WindowLen: len(values),
		Total:     4,
		Series:    csi.Series{Values: values, Indexes: []uint64{0, 1, 2, 3}},
		Result:    res,
		Regions:   csi.Regions(res.Mask),
		Stats:     stats,
	}
}
