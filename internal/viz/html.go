package viz

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteHTML renders an interactive chart: the observed samples as a
// scatter with one line per fitted series laid over it.
func WriteHTML(w io.Writer, title string, x, y []float64, series []Series) error {
	if len(x) != len(y) {
		return fmt.Errorf("x and y lengths differ (%d, %d)", len(x), len(y))
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1000px", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("samples=%d models=%d", len(x), len(series))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "x", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "y", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}),
	)

	data := make([]opts.ScatterData, 0, len(x))
	for _, p := range points(x, y, false, false) {
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	scatter.AddSeries("data", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	for _, s := range series {
		cx, cy := s.X, s.Fitted
		if s.Curve != nil && len(data) > 0 {
			cx = grid(points(x, y, false, false), 400, false)
			cy = s.Curve(cx)
		}
		if len(cx) != len(cy) {
			return fmt.Errorf("series %s: x and fitted lengths differ (%d, %d)", s.Name, len(cx), len(cy))
		}

		lineData := make([]opts.LineData, 0, len(cx))
		for _, p := range points(cx, cy, false, false) {
			lineData = append(lineData, opts.LineData{Value: []interface{}{p.X, p.Y}})
		}

		line := charts.NewLine()
		line.AddSeries(s.Name, lineData,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
		scatter.Overlap(line)
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}
