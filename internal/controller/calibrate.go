package controller

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/monitoring"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// CalibrationSettings configures a Calibrator.
type CalibrationSettings struct {
	StartCode, StopCode, StepCode uint32
	Resolution                    int

	// StartFrequency and StopFrequency bound every sweep window.
	StartFrequency, StopFrequency float64
	Points                        int

	DACSettle   time.Duration
	SweepSettle time.Duration

	Seed model.RLC
}

// Calibrator steps the DAC over the code range and records where the
// resonance lands for each code.
type Calibrator struct {
	DAC      DAC
	Analyzer Analyzer
	Clock    timeutil.Clock
	Settings CalibrationSettings
}

// Accept reports whether a located peak lies strictly inside the inner 98%
// of the window. A peak at an edge means the resonance is outside it.
func Accept(peak, f1, f2 float64) bool {
	return peak > f1*1.01 && peak < f2*0.99
}

// NextWindow recentres the sweep window on peak, clipped to [start, stop]:
// F1 = trunc(max(start, 0.95 peak)), F2 = trunc(min(stop, 1.15 peak)).
// If that would not leave F1 < F2 the full window is returned.
func NextWindow(peak, start, stop float64) (f1, f2 float64) {
	f1 = math.Trunc(math.Max(start, 0.95*peak))
	f2 = math.Trunc(math.Min(stop, 1.15*peak))
	if !(f1 < f2) {
		return start, stop
	}
	return f1, f2
}

// Collect runs the code loop and returns the accepted samples. Rejected
// samples are skipped without retry.
func (c *Calibrator) Collect(ctx context.Context) (model.CalibrationDataset, error) {
	s := c.Settings
	logf := monitoring.Component("calibrate")
	clock := c.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	var ds model.CalibrationDataset
	if s.StepCode == 0 {
		return ds, fmt.Errorf("calibration step code must be positive")
	}
	if !(s.StartFrequency < s.StopFrequency) {
		return ds, fmt.Errorf("calibration window [%g, %g] is empty", s.StartFrequency, s.StopFrequency)
	}

	f1, f2 := s.StartFrequency, s.StopFrequency
	steps := 0
	for code := uint64(s.StartCode); code <= uint64(s.StopCode); code += uint64(s.StepCode) {
		if err := ctx.Err(); err != nil {
			return ds, err
		}
		steps++

		if err := c.DAC.WriteCode(uint32(code), s.Resolution, true); err != nil {
			return ds, err
		}
		if err := timeutil.Settle(ctx, clock, s.DACSettle); err != nil {
			return ds, err
		}
		tr, err := c.Analyzer.Sweep(ctx, analyzer.SweepRequest{Start: f1, Stop: f2, Points: s.Points, Settle: s.SweepSettle})
		if err != nil {
			return ds, err
		}

		seed := model.SeedFromSweep(s.Seed, tr.Frequencies, tr.Values)
		rlc, err := model.FitRLC(tr.Frequencies, tr.Values, seed)
		if err != nil {
			return ds, fmt.Errorf("calibration at code 0x%X: %w", code, err)
		}
		peak, err := rlc.PeakFrequency(f1, f2)
		if err != nil {
			return ds, fmt.Errorf("calibration at code 0x%X: %w", code, err)
		}

		if Accept(peak, f1, f2) {
			ds.Append(uint32(code), peak)
		}
		f1, f2 = NextWindow(peak, s.StartFrequency, s.StopFrequency)
	}
	logf("%d of %d codes accepted", ds.Len(), steps)
	return ds, nil
}

// Run collects samples and fits the calibration polynomial to them.
func (c *Calibrator) Run(ctx context.Context) (Calibration, error) {
	ds, err := c.Collect(ctx)
	if err != nil {
		return Calibration{}, err
	}
	p, err := model.FitPolynomial(ds.Samples)
	if err != nil {
		return Calibration{Dataset: ds}, err
	}
	return Calibration{Model: p, Dataset: ds}, nil
}
