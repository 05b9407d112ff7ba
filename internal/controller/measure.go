package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/monitoring"
	"github.com/banshee-data/dactune/internal/peak"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// Grid is the measurement frequency grid: Start, Start+Step, ... up to and
// including Stop.
type Grid struct {
	Start, Stop, Step float64
}

// NewGrid derives the grid from the calibrated frequency span, keeping
// clear of both ends: stop = trunc(0.998 max) - 1, start = trunc(1.0001 min) + 1,
// step = round((stop - start) / points).
func NewGrid(ds model.CalibrationDataset, points int) (Grid, error) {
	if ds.Len() == 0 {
		return Grid{}, errors.New("measurement grid: empty calibration")
	}
	if points < 1 {
		return Grid{}, fmt.Errorf("measurement grid: %d points", points)
	}
	lo, hi := ds.FrequencyRange()
	g := Grid{
		Stop:  math.Trunc(hi*0.998) - 1,
		Start: math.Trunc(lo*1.0001) + 1,
	}
	g.Step = math.Round((g.Stop - g.Start) / float64(points))
	if !(g.Step > 0) {
		return Grid{}, fmt.Errorf("measurement grid: calibrated span %.0f-%.0f Hz too narrow for %d points", lo, hi, points)
	}
	return g, nil
}

// Frequencies lists the grid.
func (g Grid) Frequencies() []float64 {
	if !(g.Step > 0) {
		return nil
	}
	var out []float64
	for f := g.Start; f <= g.Stop; f += g.Step {
		out = append(out, f)
	}
	return out
}

// MeasurementSettings configures a Measurer.
type MeasurementSettings struct {
	StartCode, StopCode uint32
	Resolution          int
	Points              int
	Repeat              int
	Bias                float64
	DACSettle           time.Duration
	Peak                peak.Options
}

// Measurer sweeps the calibrated band, retuning the DAC at every grid step
// so the resonance sits just above the measured frequency.
type Measurer struct {
	DAC         DAC
	Analyzer    Analyzer
	Clock       timeutil.Clock
	Calibration Calibration
	Settings    MeasurementSettings
}

// Iteration is the outcome of one pass over the grid.
type Iteration struct {
	Dataset model.MeasurementDataset
	// Dip is the phase dip analysis; Found is false when no dip qualified and
	// Dip.Index holds the fallback 0.
	Dip   peak.Result
	Found bool
	// Aborted is set when an out-of-range code ended the pass early.
	Aborted *RangeError
}

// DipFrequency returns the grid frequency of the selected dip.
func (it Iteration) DipFrequency() float64 {
	if it.Dip.Index < 0 || it.Dip.Index >= it.Dataset.Len() {
		return 0
	}
	return it.Dataset.Records[it.Dip.Index].Frequency
}

func (m *Measurer) clock() timeutil.Clock {
	if m.Clock == nil {
		return timeutil.RealClock{}
	}
	return m.Clock
}

// Measure runs the grid once. An out-of-range code stops the pass and is
// returned as a *RangeError together with the records taken so far.
func (m *Measurer) Measure(ctx context.Context) (model.MeasurementDataset, error) {
	clock := m.clock()
	ds := model.MeasurementDataset{Started: clock.Now()}
	err := m.sweepGrid(ctx, clock, &ds)
	ds.Finished = clock.Now()
	return ds, err
}

func (m *Measurer) sweepGrid(ctx context.Context, clock timeutil.Clock, ds *model.MeasurementDataset) error {
	s := m.Settings
	grid, err := NewGrid(m.Calibration.Dataset, s.Points)
	if err != nil {
		return err
	}
	bias := s.Bias
	if bias == 0 {
		bias = model.DefaultInverseBias
	}

	guess := m.Calibration.Dataset.MinCode()
	for _, f := range grid.Frequencies() {
		if err := ctx.Err(); err != nil {
			return err
		}

		code, err := m.Calibration.Model.InvertBiased(f, bias, guess)
		if err != nil {
			return fmt.Errorf("invert %.0f Hz: %w", f, err)
		}
		if code < int64(s.StartCode) || code > int64(s.StopCode) {
			return &RangeError{Frequency: f, Code: code, Min: s.StartCode, Max: s.StopCode}
		}
		guess = uint32(code)

		if err := m.DAC.WriteCode(guess, s.Resolution, true); err != nil {
			return err
		}
		if err := timeutil.Settle(ctx, clock, s.DACSettle); err != nil {
			return err
		}
		tr, err := m.Analyzer.Sweep(ctx, analyzer.SweepRequest{Start: f, Stop: f, Points: s.Repeat})
		if err != nil {
			return err
		}
		ds.Append(model.MeasurementRecord{
			Frequency: f,
			Phase:     stat.Mean(tr.Values, nil),
			Code:      guess,
			Raw:       tr.Values,
		})
	}
	return nil
}

// Iterate measures the grid and locates the phase dip. An out-of-range code
// is logged and recorded in Aborted; the partial dataset is still analysed.
func (m *Measurer) Iterate(ctx context.Context) (Iteration, error) {
	logf := monitoring.Component("measure")

	ds, err := m.Measure(ctx)
	it := Iteration{Dataset: ds}
	var rangeErr *RangeError
	switch {
	case errors.As(err, &rangeErr):
		logf("%v", rangeErr)
		it.Aborted = rangeErr
	case err != nil:
		return it, err
	}
	logf("time: %v", ds.Elapsed())

	if ds.Len() == 0 {
		return it, nil
	}
	it.Dip, it.Found = peak.FindDip(ds.Phases(), m.Settings.Peak)
	if it.Found {
		logf("dip at %.0f Hz (prominence %.3g)", it.DipFrequency(), it.Dip.Prominence)
	} else {
		logf("no dip with prominence >= %g", m.Settings.Peak.Prominence)
	}
	return it, nil
}
