package plot

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot/plotter"

	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/peak"
)

func lineData(xys plotter.XYs) []opts.LineData {
	out := make([]opts.LineData, len(xys))
	for i, p := range xys {
		out[i] = opts.LineData{Value: []interface{}{p.X, p.Y}}
	}
	return out
}

func newChart(pageTitle, title, subtitle, xName, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: pageTitle, Width: "1200px", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: xName, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: yName, Scale: opts.Bool(true)}),
	)
	return line
}

// CalibrationHTML writes an interactive chart of the calibration with the
// percent error on a secondary axis.
func (w *Writer) CalibrationHTML(path, subtitle string, p model.Polynomial, ds model.CalibrationDataset) error {
	if ds.Len() == 0 {
		return errors.New("chart calibration: no samples")
	}
	measured, fitted, errPct := CalibrationSeries(p, ds)

	line := newChart("Calibration", "Code to resonant frequency", subtitle, "Code", "Resonant frequency (Hz)")
	line.ExtendYAxis(opts.YAxis{Type: "value", Name: "Error (%)", Scale: opts.Bool(true)})
	line.AddSeries("measured", lineData(measured),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#003366"}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#003366"}))
	line.AddSeries("fitted", lineData(fitted),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#cc3333", Type: "dashed"}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#cc3333"}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("error", lineData(errPct),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "red"}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "red"}),
		charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, ShowSymbol: opts.Bool(false)}))
	return w.render(path, line)
}

// MeasurementHTML writes an interactive chart of one measurement iteration.
func (w *Writer) MeasurementHTML(path, subtitle string, ds model.MeasurementDataset, res peak.Result, skip int) error {
	n := ds.Len()
	if n == 0 {
		return errors.New("chart measurement: no records")
	}
	if len(res.Smoothed) != n {
		return fmt.Errorf("chart measurement: %d smoothed values for %d records", len(res.Smoothed), n)
	}
	if skip < 0 || skip >= n {
		skip = 0
	}

	raw := make(plotter.XYs, 0, n-skip)
	smooth := make(plotter.XYs, 0, n-skip)
	for i := skip; i < n; i++ {
		raw = append(raw, plotter.XY{X: ds.Records[i].Frequency, Y: ds.Records[i].Phase})
		smooth = append(smooth, plotter.XY{X: ds.Records[i].Frequency, Y: res.Smoothed[i]})
	}

	line := newChart("Measurement", "Phase dip", subtitle, "Frequency (Hz)", "Phase (deg)")
	line.AddSeries("raw", lineData(raw),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#77A88D"}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#77A88D"}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	line.AddSeries("smoothed", lineData(smooth),
		charts.WithLineStyleOpts(opts.LineStyle{Color: "#bfbf00", Type: "dashed"}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#bfbf00"}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	if res.Index >= 0 && res.Index < n {
		dip := plotter.XYs{{X: ds.Records[res.Index].Frequency, Y: res.Smoothed[res.Index]}}
		line.AddSeries("dip", lineData(dip),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "red"}),
			charts.WithLineChartOpts(opts.LineChart{Symbol: "triangle", SymbolSize: 14, ShowSymbol: opts.Bool(true)}))
	}
	return w.render(path, line)
}

func (w *Writer) render(path string, line *charts.Line) error {
	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	if err := w.fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save chart %s: %w", path, err)
	}
	return nil
}
