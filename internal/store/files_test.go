package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
)

var stamp = time.Date(2026, 3, 7, 14, 5, 9, 123456789, time.Local)

func TestFileNames(t *testing.T) {
	assert.Equal(t, "res/C2F_03-07_14.txt", CalibrationFile("res", stamp))
	assert.Equal(t, "res/F2I_03-07_14-05-09.123456.txt", MeasurementFile("res", stamp, ""))
	assert.Equal(t, "res/F2I_03-07_14-05-09.123456_P_air.txt", MeasurementFile("res", stamp, "P_air"))
	assert.Equal(t, "res/C2F_03-07_14-05-09.123456_P.png",
		FileName("res", CalibrationLabel, stamp, MeasurementTimeLayout, "P", "png"))
	assert.Equal(t, "res/F2I_x.html", WithExt("res/F2I_x.txt", "html"))
}

func TestCalibrationTable(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	p := model.Polynomial{Coefficients: [6]float64{-2.8e7, 1.7e4, 3e-4, 4e-10, -2e-16, 4e-23}}
	var ds model.CalibrationDataset
	ds.Append(0x99000, 8.25e6)
	ds.Append(0x9B000, 8.31e6)

	path := CalibrationFile("res", stamp)
	require.NoError(t, WriteCalibration(fs, path, p, ds))

	raw, err := fs.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "-2.800000000000000000e+07 1.700000000000000000e+04 2.999999999999999737e-04", lines[0])
	assert.Equal(t, "6.266880000000000000e+05 8.250000000000000000e+06", lines[2])

	gotP, gotDS, err := ReadCalibration(fs, path)
	require.NoError(t, err)
	assert.Equal(t, p, gotP)
	assert.Equal(t, ds, gotDS)
}

func TestReadCalibration_NumpyHeader(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	body := "-2.79e+07  1.71e+04  3.02e-04  4.10e-10\n -2.01e-16  4.02e-23\n" +
		"6.266880000000000000e+05 8.250000000000000000e+06\n"
	require.NoError(t, fs.WriteFile("res/old.txt", []byte(body), 0o644))

	p, ds, err := ReadCalibration(fs, "res/old.txt")
	require.NoError(t, err)
	assert.Equal(t, [6]float64{-2.79e7, 1.71e4, 3.02e-4, 4.10e-10, -2.01e-16, 4.02e-23}, p.Coefficients)
	require.Equal(t, 1, ds.Len())
	assert.Equal(t, uint32(0x99000), ds.Samples[0].Code)
}

func TestReadCalibration_Errors(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	cases := map[string]string{
		"short header": "1 2 3\n",
		"bad number":   "1 2 3\n4 5 x\n",
		"bad row":      "1 2 3\n4 5 6\n1 2 3\n",
		"bad code":     "1 2 3\n4 5 6\n-5 8e6\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, fs.WriteFile("c.txt", []byte(body), 0o644))
			_, _, err := ReadCalibration(fs, "c.txt")
			assert.Error(t, err)
		})
	}

	_, _, err := ReadCalibration(fs, "missing.txt")
	assert.Error(t, err)
}

func TestMeasurementTable(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	ds := model.MeasurementDataset{
		Started:  time.Unix(1700000000, 250000000),
		Finished: time.Unix(1700000042, 500000000),
	}
	ds.Append(model.MeasurementRecord{Frequency: 8.3e6, Phase: -80.5, Code: 0x9A000, Raw: []float64{-80, -81}})
	ds.Append(model.MeasurementRecord{Frequency: 8.31e6, Phase: -81, Code: 0x9A100, Raw: []float64{-81, -81}})

	path := MeasurementFile("res", stamp, "P")
	require.NoError(t, WriteMeasurement(fs, path, ds))

	raw, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# time, 1700000000.250000, 1700000042.500000\n"))

	got, err := ReadMeasurement(fs, path)
	require.NoError(t, err)
	assert.Equal(t, ds.Records, got.Records)
	assert.True(t, ds.Started.Equal(got.Started))
	assert.Equal(t, 42250*time.Millisecond, got.Elapsed())
}
