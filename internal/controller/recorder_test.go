package controller

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/store"
	"github.com/banshee-data/dactune/internal/timeutil"
)

func TestRecorder_SaveCalibration(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := &Recorder{FS: fs, Dir: "res", Clock: timeutil.NewMockClock(testStart)}
	cal := linearCalibration()

	require.NoError(t, r.SaveCalibration(context.Background(), &cal, "P", testStart))
	assert.Equal(t, "res/C2F_03-01_12.txt", cal.Path)
	assert.Equal(t, []string{
		"res/C2F_03-01_12-00-00.000000_P.html",
		"res/C2F_03-01_12-00-00.000000_P.png",
		"res/C2F_03-01_12.txt",
	}, fs.Files("res/"))

	p, ds, err := store.ReadCalibration(fs, cal.Path)
	require.NoError(t, err)
	assert.Equal(t, cal.Model, p)
	assert.Equal(t, cal.Dataset, ds)
}

func TestRecorder_EmptyMeasurementHasNoFigures(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	r := &Recorder{FS: fs, Dir: "res", Clock: timeutil.NewMockClock(testStart)}

	path, err := r.SaveMeasurement(context.Background(), Iteration{}, "P_x")
	require.NoError(t, err)
	assert.Equal(t, "res/F2I_03-01_12-00-00.000000_P_x.txt", path)
	assert.Equal(t, []string{path}, fs.Files("res/"))
}

func TestRecorder_CatalogFailureIsLogged(t *testing.T) {
	lines := muteLogs(t)
	catalog, err := store.OpenCatalog(filepath.Join(t.TempDir(), store.CatalogFile))
	require.NoError(t, err)
	require.NoError(t, catalog.Close())

	fs := fsutil.NewMemoryFileSystem()
	r := &Recorder{FS: fs, Dir: "res", Catalog: catalog, Clock: timeutil.NewMockClock(testStart)}
	it := Iteration{Dataset: model.MeasurementDataset{Started: testStart, Finished: testStart}}

	_, err = r.SaveMeasurement(context.Background(), it, "P")
	require.NoError(t, err)
	assert.True(t, hasLine(*lines, "[catalog] res/F2I_03-01_12-00-00.000000_P.txt not catalogued"), "%q", *lines)
}
