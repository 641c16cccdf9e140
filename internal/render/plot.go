package render

import (
	"fmt"
	"image/color"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/httputil"
)

const (
	plotWidth  = 12 * vg.Inch
	plotHeight = 4 * vg.Inch
)

var (
	seriesColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	thresholdColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	regionColor    = color.RGBA{R: 255, G: 165, A: 80}
)

// NewPlot draws one Tick with gonum/plot: the series, a dashed threshold
// and a translucent band over each activity region.
func NewPlot(t csi.Tick, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Sample"
	p.Y.Label.Text = "Amplitude"

	values, threshold := displayValues(t)
	if len(values) == 0 {
		p.X.Min, p.X.Max = 0, 1
		p.Y.Min, p.Y.Max = 0, 1
		return p, nil
	}

	xs := xPositions(t)
	top := maxOf(values, threshold)
	for _, r := range t.Regions {
		if r.Start < 0 || r.End > len(xs) || r.Len() <= 0 {
			continue
		}
		x0, x1 := xs[r.Start], xs[r.End-1]
		if x1 == x0 {
			x1 = x0 + 0.5
			x0 -= 0.5
		}
		band, err := plotter.NewPolygon(plotter.XYs{{X: x0, Y: 0}, {X: x1, Y: 0}, {X: x1, Y: top}, {X: x0, Y: top}})
		if err != nil {
			return nil, fmt.Errorf("failed to build region band: %w", err)
		}
		band.Color = regionColor
		band.LineStyle.Width = 0
		p.Add(band)
	}

	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i] = plotter.XY{X: xs[i], Y: v}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("failed to build series line: %w", err)
	}
	line.Color = seriesColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("series", line)

	thr := plotter.NewFunction(func(float64) float64 { return threshold })
	thr.Color = thresholdColor
	thr.Width = vg.Points(1)
	thr.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(thr)
	p.Legend.Add(fmt.Sprintf("threshold %.3f", threshold), thr)

	p.X.Min, p.X.Max = xs[0], xs[len(xs)-1]
	p.Y.Min = 0
	return p, nil
}

// PlotPNG writes a PNG snapshot of t to path.
func PlotPNG(t csi.Tick, title, path string) error {
	p, err := NewPlot(t, title)
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

// PlotHandler serves the latest Tick as a PNG image.
func PlotHandler(latest *Latest, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		t, _ := latest.Get()
		p, err := NewPlot(t, title)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		wt, err := p.WriterTo(plotWidth, plotHeight, "png")
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = wt.WriteTo(w)
	}
}
