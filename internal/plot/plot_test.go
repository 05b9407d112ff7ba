package plot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/peak"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func calibrationFixture() (model.Polynomial, model.CalibrationDataset) {
	p := model.Polynomial{Coefficients: [6]float64{1e6, 12}}
	var ds model.CalibrationDataset
	for code := uint32(0x99000); code <= 0xE6000; code += 0x2000 {
		ds.Append(code, p.Evaluate(float64(code))*(1+1e-4))
	}
	return p, ds
}

func measurementFixture(n int) (model.MeasurementDataset, peak.Result) {
	var ds model.MeasurementDataset
	phases := make([]float64, n)
	for i := 0; i < n; i++ {
		d := float64(i - n/2)
		phases[i] = -80 - 1/(1+d*d/9)
		ds.Append(model.MeasurementRecord{Frequency: 8.5e6 + float64(i)*1e4, Phase: phases[i], Code: uint32(0x9A000 + i)})
	}
	res, _ := peak.FindDip(phases, peak.DefaultOptions)
	return ds, res
}

func TestCalibrationSeries(t *testing.T) {
	p, ds := calibrationFixture()
	measured, fitted, errPct := CalibrationSeries(p, ds)
	require.Len(t, measured, ds.Len())
	assert.Equal(t, float64(0x99000), fitted[0].X)
	for i := range errPct {
		assert.InDelta(t, -1e-2, errPct[i].Y, 1e-5)
		assert.Equal(t, measured[i].X, errPct[i].X)
	}
}

func TestCalibrationPNG(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs)
	p, ds := calibrationFixture()

	require.NoError(t, w.CalibrationPNG("res/C2F_x.png", p, ds))
	data, err := fs.ReadFile("res/C2F_x.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	assert.Error(t, w.CalibrationPNG("res/empty.png", p, model.CalibrationDataset{}))
}

func TestMeasurementPNG(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs)
	ds, res := measurementFixture(60)
	require.Equal(t, 30, res.Index)

	require.NoError(t, w.MeasurementPNG("res/F2I_x.png", "F2I_x", ds, res, 3))
	data, err := fs.ReadFile("res/F2I_x.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))

	// skip larger than the dataset falls back to drawing everything
	require.NoError(t, w.MeasurementPNG("res/F2I_y.png", "F2I_y", ds, res, 100))

	res.Smoothed = res.Smoothed[:10]
	assert.Error(t, w.MeasurementPNG("res/F2I_z.png", "F2I_z", ds, res, 3))
	assert.Error(t, w.MeasurementPNG("res/F2I_z.png", "F2I_z", model.MeasurementDataset{}, res, 3))
}

func TestHTMLCharts(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs)

	p, cal := calibrationFixture()
	require.NoError(t, w.CalibrationHTML("res/C2F_x.html", "C2F_x", p, cal))
	html, err := fs.ReadFile("res/C2F_x.html")
	require.NoError(t, err)
	for _, want := range []string{"measured", "fitted", "error", "Error (%)"} {
		assert.True(t, strings.Contains(string(html), want), "missing %q", want)
	}

	ds, res := measurementFixture(40)
	require.NoError(t, w.MeasurementHTML("res/F2I_x.html", "F2I_x", ds, res, 3))
	html, err = fs.ReadFile("res/F2I_x.html")
	require.NoError(t, err)
	for _, want := range []string{"raw", "smoothed", "dip", "triangle", "#77A88D"} {
		assert.True(t, strings.Contains(string(html), want), "missing %q", want)
	}

	assert.Error(t, w.CalibrationHTML("res/e.html", "", p, model.CalibrationDataset{}))
}
