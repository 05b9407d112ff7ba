// Package plot renders calibration and measurement results as PNG figures
// (gonum/plot) and interactive HTML charts (go-echarts).
package plot

import (
	"errors"
	"fmt"
	"image/color"
	"path/filepath"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/peak"
)

var (
	measuredColor = color.RGBA{R: 0x00, G: 0x33, B: 0x66, A: 0xff}
	fittedColor   = color.RGBA{R: 0xcc, G: 0x33, B: 0x33, A: 0xff}
	errorColor    = color.RGBA{R: 0xff, A: 0xff}
	rawColor      = color.RGBA{R: 0x77, G: 0xa8, B: 0x8d, A: 0xff}
	smoothColor   = color.RGBA{R: 0xbf, G: 0xbf, A: 0xff}
	peakColor     = color.RGBA{R: 0xff, A: 0xff}
)

// Writer renders figures into a FileSystem.
type Writer struct {
	fs     fsutil.FileSystem
	Width  vg.Length
	Height vg.Length
}

// NewWriter returns a Writer producing 10x6 inch figures.
func NewWriter(fs fsutil.FileSystem) *Writer {
	return &Writer{fs: fs, Width: 10 * vg.Inch, Height: 6 * vg.Inch}
}

// CalibrationSeries returns the measured curve, the fitted curve and the
// fit error in percent of the measured frequency.
func CalibrationSeries(p model.Polynomial, ds model.CalibrationDataset) (measured, fitted, errPct plotter.XYs) {
	n := ds.Len()
	measured = make(plotter.XYs, n)
	fitted = make(plotter.XYs, n)
	errPct = make(plotter.XYs, n)
	for i, s := range ds.Samples {
		code := float64(s.Code)
		f := p.Evaluate(code)
		measured[i] = plotter.XY{X: code, Y: s.Frequency}
		fitted[i] = plotter.XY{X: code, Y: f}
		errPct[i] = plotter.XY{X: code, Y: (f - s.Frequency) / s.Frequency * 100}
	}
	return measured, fitted, errPct
}

// CalibrationPNG draws measured against fitted frequency over code, with the
// percent error in a panel below.
func (w *Writer) CalibrationPNG(path string, p model.Polynomial, ds model.CalibrationDataset) error {
	if ds.Len() == 0 {
		return errors.New("plot calibration: no samples")
	}
	measured, fitted, errPct := CalibrationSeries(p, ds)

	top := gplot.New()
	top.Title.Text = "Code to resonant frequency"
	top.Y.Label.Text = "Resonant frequency (Hz)"

	mLine, err := plotter.NewLine(measured)
	if err != nil {
		return err
	}
	mLine.Color = measuredColor
	mLine.Width = vg.Points(1)
	top.Add(mLine)
	top.Legend.Add("measured", mLine)

	fLine, err := plotter.NewLine(fitted)
	if err != nil {
		return err
	}
	fLine.Color = fittedColor
	fLine.Width = vg.Points(1)
	fLine.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	top.Add(fLine)
	top.Legend.Add("fitted", fLine)
	top.Legend.Top = true
	top.Legend.Left = true

	bottom := gplot.New()
	bottom.X.Label.Text = "Code"
	bottom.Y.Label.Text = "Error (%)"
	eLine, err := plotter.NewLine(errPct)
	if err != nil {
		return err
	}
	eLine.Color = errorColor
	eLine.Width = vg.Points(1)
	bottom.Add(eLine, plotter.NewGrid())

	return w.save(path, func(dc draw.Canvas) {
		tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Points(8), PadTop: vg.Points(4), PadBottom: vg.Points(4), PadLeft: vg.Points(4), PadRight: vg.Points(8)}
		canvases := gplot.Align([][]*gplot.Plot{{top}, {bottom}}, tiles, dc)
		top.Draw(canvases[0][0])
		bottom.Draw(canvases[1][0])
	})
}

// MeasurementPNG draws the raw and smoothed phase over frequency and marks
// the selected dip. The first skip records are left out of the curves.
func (w *Writer) MeasurementPNG(path, title string, ds model.MeasurementDataset, res peak.Result, skip int) error {
	n := ds.Len()
	if n == 0 {
		return errors.New("plot measurement: no records")
	}
	if len(res.Smoothed) != n {
		return fmt.Errorf("plot measurement: %d smoothed values for %d records", len(res.Smoothed), n)
	}
	if skip < 0 || skip >= n {
		skip = 0
	}

	raw := make(plotter.XYs, 0, n-skip)
	smooth := make(plotter.XYs, 0, n-skip)
	for i := skip; i < n; i++ {
		f := ds.Records[i].Frequency
		raw = append(raw, plotter.XY{X: f, Y: ds.Records[i].Phase})
		smooth = append(smooth, plotter.XY{X: f, Y: res.Smoothed[i]})
	}

	p := gplot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "Phase (deg)"

	rawLine, err := plotter.NewLine(raw)
	if err != nil {
		return err
	}
	rawLine.Color = rawColor
	rawLine.Width = vg.Points(1)
	p.Add(rawLine)
	p.Legend.Add("raw", rawLine)

	smoothLine, err := plotter.NewLine(smooth)
	if err != nil {
		return err
	}
	smoothLine.Color = smoothColor
	smoothLine.Width = vg.Points(1)
	smoothLine.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
	p.Add(smoothLine)
	p.Legend.Add("smoothed", smoothLine)

	if res.Index >= 0 && res.Index < n {
		mark, err := plotter.NewScatter(plotter.XYs{{X: ds.Records[res.Index].Frequency, Y: res.Smoothed[res.Index]}})
		if err != nil {
			return err
		}
		mark.GlyphStyle = draw.GlyphStyle{Color: peakColor, Radius: vg.Points(4), Shape: draw.PyramidGlyph{}}
		p.Add(mark)
		p.Legend.Add("dip", mark)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return w.save(path, p.Draw)
}

func (w *Writer) save(path string, render func(dc draw.Canvas)) error {
	img := vgimg.New(w.Width, w.Height)
	render(draw.New(img))

	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return f.Close()
}
