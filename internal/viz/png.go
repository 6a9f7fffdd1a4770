// Package viz draws fitted models over their data, as static PNG plots
// and as interactive HTML charts.
package viz

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Series is one fitted model over the observed samples.
type Series struct {
	Name string

	// X and Y are the observed samples, Fitted the model at X.
	X      []float64
	Y      []float64
	Fitted []float64

	// Curve, when set, evaluates the model on a dense grid so the fitted
	// line is smooth between samples.
	Curve func(xs []float64) []float64
}

// Residuals returns Y - Fitted.
func (s Series) Residuals() []float64 {
	out := make([]float64, len(s.Y))
	for i := range s.Y {
		out[i] = s.Y[i] - s.Fitted[i]
	}
	return out
}

// Options controls the PNG layout.
type Options struct {
	Title  string
	XLabel string
	YLabel string
	LogX   bool
	LogY   bool

	// Width and Height of the whole image. Zero selects 8x8 inches.
	Width  vg.Length
	Height vg.Length

	// CurvePoints is the density of the smooth curve. Zero selects 400.
	CurvePoints int
}

var (
	dataColor     = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	fitColor      = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	residualColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
)

func (o Options) size() (vg.Length, vg.Length) {
	w, h := o.Width, o.Height
	if w == 0 {
		w = 8 * vg.Inch
	}
	if h == 0 {
		h = 8 * vg.Inch
	}
	return w, h
}

// WritePNG draws the data with the fitted line on top and the residuals
// below, and encodes the image as PNG.
func WritePNG(w io.Writer, s Series, o Options) error {
	if len(s.X) != len(s.Y) || len(s.X) != len(s.Fitted) {
		return fmt.Errorf("series %s: x, y and fitted lengths differ (%d, %d, %d)", s.Name, len(s.X), len(s.Y), len(s.Fitted))
	}

	top, err := fitPlot(s, o)
	if err != nil {
		return err
	}
	bottom, err := residualPlot(s, o)
	if err != nil {
		return err
	}
	// Both panels share the x range of the data.
	bottom.X.Min, bottom.X.Max = top.X.Min, top.X.Max

	width, height := o.size()
	img := vgimg.New(width, height)
	dc := draw.New(img)

	tiles := draw.Tiles{
		Rows:      2,
		Cols:      1,
		PadX:      vg.Millimeter,
		PadY:      vg.Millimeter,
		PadTop:    vg.Points(2),
		PadBottom: vg.Points(2),
		PadLeft:   vg.Points(2),
		PadRight:  vg.Points(2),
	}
	canvases := plot.Align([][]*plot.Plot{{top}, {bottom}}, tiles, dc)
	top.Draw(canvases[0][0])
	bottom.Draw(canvases[1][0])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// SavePNG writes the plot to path, creating its directory.
func SavePNG(path string, s Series, o Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if err := WritePNG(f, s, o); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close plot file: %w", err)
	}
	return nil
}

func fitPlot(s Series, o Options) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = o.Title
	if p.Title.Text == "" {
		p.Title.Text = s.Name
	}
	p.X.Label.Text = o.XLabel
	p.Y.Label.Text = o.YLabel
	applyScales(p, o.LogX, o.LogY)
	p.Legend.Top = true

	data := points(s.X, s.Y, o.LogX, o.LogY)
	if len(data) == 0 {
		return nil, fmt.Errorf("series %s: no plottable samples", s.Name)
	}
	scatter, err := plotter.NewScatter(data)
	if err != nil {
		return nil, fmt.Errorf("failed to create scatter: %w", err)
	}
	scatter.GlyphStyle.Color = dataColor
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)
	p.Legend.Add("data", scatter)

	cx, cy := s.X, s.Fitted
	if s.Curve != nil {
		n := o.CurvePoints
		if n <= 0 {
			n = 400
		}
		cx = grid(data, n, o.LogX)
		cy = s.Curve(cx)
	}
	curve := points(cx, cy, o.LogX, o.LogY)
	if len(curve) > 1 {
		line, err := plotter.NewLine(curve)
		if err != nil {
			return nil, fmt.Errorf("failed to create fit line: %w", err)
		}
		line.Color = fitColor
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}

	p.Add(plotter.NewGrid())
	return p, nil
}

func residualPlot(s Series, o Options) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "residuals"
	p.X.Label.Text = o.XLabel
	applyScales(p, o.LogX, false)

	res := points(s.X, s.Residuals(), o.LogX, false)
	if len(res) > 0 {
		scatter, err := plotter.NewScatter(res)
		if err != nil {
			return nil, fmt.Errorf("failed to create residual scatter: %w", err)
		}
		scatter.GlyphStyle.Color = residualColor
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(scatter)
	}

	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = color.Gray{Y: 128}
	zero.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	p.Add(zero)
	p.Add(plotter.NewGrid())
	return p, nil
}

func applyScales(p *plot.Plot, logX, logY bool) {
	if logX {
		p.X.Scale = plot.LogScale{}
		p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	}
	if logY {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}
}

// points pairs x and y sorted by x, dropping samples that cannot be drawn
// on the chosen scales.
func points(x, y []float64, logX, logY bool) plotter.XYs {
	pts := make(plotter.XYs, 0, len(x))
	for i := range x {
		if !drawable(x[i], logX) || !drawable(y[i], logY) {
			continue
		}
		pts = append(pts, plotter.XY{X: x[i], Y: y[i]})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	return pts
}

func drawable(v float64, log bool) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return !log || v > 0
}

// grid spans the x range of pts with n points, evenly on the chosen scale.
func grid(pts plotter.XYs, n int, logX bool) []float64 {
	lo, hi := pts[0].X, pts[len(pts)-1].X
	if n < 2 || lo == hi {
		return []float64{lo, hi}
	}
	xs := make([]float64, n)
	if logX {
		llo, lhi := math.Log(lo), math.Log(hi)
		for i := range xs {
			xs[i] = math.Exp(llo + (lhi-llo)*float64(i)/float64(n-1))
		}
		return xs
	}
	for i := range xs {
		xs[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return xs
}
