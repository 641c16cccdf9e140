package render

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/csimotion/internal/csi"
	"github.com/banshee-data/csimotion/internal/httputil"
)

// echartsAssetsHost serves the echarts javascript bundle.
const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// NewChart builds an echarts line chart of one Tick: the conditioned
// series, a threshold mark line and a shaded band per activity region. In
// streaming mode the running mean and mean+std are drawn as extra series.
func NewChart(t csi.Tick, title string) *charts.Line {
	values, threshold := displayValues(t)
	xs := xPositions(t)

	labels := make([]string, len(xs))
	data := make([]opts.LineData, len(values))
	for i, v := range values {
		labels[i] = strconv.FormatFloat(xs[i], 'f', -1, 64)
		data[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("mode=%s window=%d threshold=%.4f active=%d", t.ModeName, t.WindowLen, t.Result.Threshold, t.Result.ActiveCount()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Sample", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Amplitude", NameLocation: "middle", NameGap: 35}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	}
	if len(values) > 0 {
		seriesOpts = append(seriesOpts,
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "threshold", YAxis: threshold}),
		)
	}
	var areas []opts.MarkAreaNameCoordItem
	for _, r := range t.Regions {
		if r.Start < 0 || r.End > len(labels) || r.Len() <= 0 {
			continue
		}
		areas = append(areas, opts.MarkAreaNameCoordItem{
			Name:        "activity",
			Coordinate0: []interface{}{labels[r.Start], 0},
			Coordinate1: []interface{}{labels[r.End-1], maxOf(values, threshold)},
		})
	}
	if len(areas) > 0 {
		seriesOpts = append(seriesOpts, charts.WithMarkAreaNameCoordItemOpts(areas...))
	}

	name := "conditioned"
	if t.Mode == csi.ModeStreaming {
		name = "amplitude"
	}
	line.SetXAxis(labels).AddSeries(name, data, seriesOpts...)

	if t.Mode == csi.ModeStreaming && len(t.Stats) > 0 {
		byIndex := make(map[uint64]csi.StatPoint, len(t.Stats))
		for _, st := range t.Stats {
			byIndex[st.Index] = st
		}
		mean := make([]opts.LineData, len(xs))
		upper := make([]opts.LineData, len(xs))
		for i, x := range xs {
			st, ok := byIndex[uint64(x)]
			if !ok {
				mean[i] = opts.LineData{Value: "-"}
				upper[i] = opts.LineData{Value: "-"}
				continue
			}
			mean[i] = opts.LineData{Value: st.Mean}
			upper[i] = opts.LineData{Value: st.Threshold()}
		}
		lineOpts := charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})
		line.AddSeries("mean", mean, lineOpts)
		line.AddSeries("mean+std", upper, lineOpts)
	}
	return line
}

func maxOf(values []float64, floor float64) float64 {
	m := floor
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}

// ChartHandler serves the latest Tick as an HTML chart.
func ChartHandler(latest *Latest, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w, http.MethodGet)
			return
		}
		t, _ := latest.Get()

		var buf bytes.Buffer
		if err := NewChart(t, title).Render(&buf); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
	}
}
