package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/monitoring"
	"github.com/banshee-data/dactune/internal/plot"
	"github.com/banshee-data/dactune/internal/store"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// Recorder writes result tables, figures and catalog rows.
type Recorder struct {
	FS  fsutil.FileSystem
	Dir string
	// Catalog is optional; failures to record are logged only.
	Catalog  *store.Catalog
	Plots    *plot.Writer
	Clock    timeutil.Clock
	PlotSkip int
}

func (r *Recorder) now() time.Time {
	if r.Clock == nil {
		return time.Now()
	}
	return r.Clock.Now()
}

func (r *Recorder) plots() *plot.Writer {
	if r.Plots == nil {
		r.Plots = plot.NewWriter(r.FS)
	}
	return r.Plots
}

// SaveCalibration writes the calibration table and its figures and sets
// cal.Path to the table.
func (r *Recorder) SaveCalibration(ctx context.Context, cal *Calibration, remark string, started time.Time) error {
	now := r.now()
	table := store.CalibrationFile(r.Dir, now)
	if err := store.WriteCalibration(r.FS, table, cal.Model, cal.Dataset); err != nil {
		return err
	}
	cal.Path = table

	png := store.FileName(r.Dir, store.CalibrationLabel, now, store.MeasurementTimeLayout, remark, "png")
	html := store.WithExt(png, "html")
	if err := r.plots().CalibrationPNG(png, cal.Model, cal.Dataset); err != nil {
		return err
	}
	if err := r.plots().CalibrationHTML(html, filepath.Base(table), cal.Model, cal.Dataset); err != nil {
		return err
	}

	r.record(ctx, &store.Run{
		Kind:         store.KindCalibration,
		Remark:       remark,
		Started:      started,
		Finished:     now,
		DataPath:     table,
		PlotPath:     png,
		ChartPath:    html,
		Points:       cal.Dataset.Len(),
		Coefficients: cal.Model.Coefficients[:],
	})
	return nil
}

// SaveMeasurement writes one iteration's table and figures under a shared
// timestamp and returns the table path.
func (r *Recorder) SaveMeasurement(ctx context.Context, it Iteration, remark string) (string, error) {
	now := r.now()
	table := store.MeasurementFile(r.Dir, now, remark)
	if err := store.WriteMeasurement(r.FS, table, it.Dataset); err != nil {
		return "", err
	}

	run := &store.Run{
		Kind:          store.KindMeasurement,
		Remark:        remark,
		Started:       it.Dataset.Started,
		Finished:      it.Dataset.Finished,
		DataPath:      table,
		Points:        it.Dataset.Len(),
		PeakFrequency: it.DipFrequency(),
		PeakFound:     it.Found,
	}
	if it.Dataset.Len() > 0 {
		png := store.WithExt(table, "png")
		html := store.WithExt(table, "html")
		title := filepath.Base(table)
		if err := r.plots().MeasurementPNG(png, title, it.Dataset, it.Dip, r.PlotSkip); err != nil {
			return table, err
		}
		if err := r.plots().MeasurementHTML(html, title, it.Dataset, it.Dip, r.PlotSkip); err != nil {
			return table, err
		}
		run.PlotPath, run.ChartPath = png, html
	}

	r.record(ctx, run)
	return table, nil
}

func (r *Recorder) record(ctx context.Context, run *store.Run) {
	if r.Catalog == nil {
		return
	}
	if err := r.Catalog.Record(ctx, run); err != nil {
		monitoring.Component("catalog")("%v", fmt.Errorf("%s not catalogued: %w", run.DataPath, err))
	}
}
