package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/config"
	"github.com/banshee-data/dactune/internal/dac"
	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/model"
	"github.com/banshee-data/dactune/internal/monitoring"
	"github.com/banshee-data/dactune/internal/peak"
	"github.com/banshee-data/dactune/internal/plot"
	"github.com/banshee-data/dactune/internal/security"
	"github.com/banshee-data/dactune/internal/store"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// PanicError is a panic recovered inside Session.Run.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
}

// Resolution returns the code resolution of the configured chip.
func Resolution(cfg *config.SessionConfig) int {
	chip, err := dac.LookupChip(cfg.GetDACChip())
	if err != nil {
		return dac.FieldBits
	}
	return chip.Bits
}

// CalibrationSettingsFrom maps the session configuration onto calibration
// settings.
func CalibrationSettingsFrom(cfg *config.SessionConfig) CalibrationSettings {
	return CalibrationSettings{
		StartCode:      cfg.GetStartCode(),
		StopCode:       cfg.GetStopCode(),
		StepCode:       cfg.GetStepCode(),
		Resolution:     Resolution(cfg),
		StartFrequency: cfg.GetStartFrequency(),
		StopFrequency:  cfg.GetStopFrequency(),
		Points:         cfg.GetCalibrationPoints(),
		DACSettle:      cfg.GetDACSettle(),
		SweepSettle:    cfg.GetSweepSettle(),
		Seed: model.RLC{
			L: cfg.GetSeedInductance(),
			C: cfg.GetSeedCapacitance(),
			R: cfg.GetSeedResistance(),
		},
	}
}

// MeasurementSettingsFrom maps the session configuration onto measurement
// settings.
func MeasurementSettingsFrom(cfg *config.SessionConfig) MeasurementSettings {
	return MeasurementSettings{
		StartCode:  cfg.GetStartCode(),
		StopCode:   cfg.GetStopCode(),
		Resolution: Resolution(cfg),
		Points:     cfg.GetMeasurementPoints(),
		Repeat:     cfg.GetRepeat(),
		Bias:       cfg.GetInverseBias(),
		DACSettle:  cfg.GetDACSettle(),
		Peak: peak.Options{
			Sigma:      cfg.GetSmoothingSigma(),
			Prominence: cfg.GetDipProminence(),
		},
	}
}

// Session owns both instruments for one run of the workflow.
type Session struct {
	Config *config.SessionConfig

	OpenDAC      func() (DAC, error)
	OpenAnalyzer func(ctx context.Context) (Analyzer, error)

	FS       fsutil.FileSystem
	Catalog  *store.Catalog
	Operator Operator
	// Continue decides whether to run another measurement iteration.
	// Defaults to prompting Operator.
	Continue ContinueFunc
	Clock    timeutil.Clock
}

// Summary reports what a session did.
type Summary struct {
	Calibration Calibration
	LoadState   LoadState
	Iterations  int
	Files       []string
}

// Run acquires the DAC and the analyzer, calibrates or loads a calibration,
// then measures until the operator stops. The analyzer is restored and both
// instruments are released on every exit path, including a panic.
func (s *Session) Run(ctx context.Context) (sum Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, &PanicError{Value: r, Stack: debug.Stack()})
		}
	}()

	d, err := s.OpenDAC()
	if err != nil {
		return sum, fmt.Errorf("open DAC: %w", err)
	}
	defer func() {
		if cerr := d.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close DAC: %w", cerr))
		}
	}()

	a, err := s.OpenAnalyzer(ctx)
	if err != nil {
		return sum, fmt.Errorf("open analyzer: %w", err)
	}
	defer func() {
		if rerr := a.Restore(ctx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore analyzer: %w", rerr))
		}
		if cerr := a.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close analyzer: %w", cerr))
		}
	}()

	return s.run(ctx, d, a)
}

func (s *Session) clock() timeutil.Clock {
	if s.Clock == nil {
		return timeutil.RealClock{}
	}
	return s.Clock
}

func (s *Session) run(ctx context.Context, d DAC, a Analyzer) (Summary, error) {
	var sum Summary
	cfg := s.Config
	clock := s.clock()
	logf := monitoring.Component("session")

	if err := d.Reset(); err != nil {
		return sum, err
	}
	if err := d.WriteCode(cfg.GetStartCode(), Resolution(cfg), true); err != nil {
		return sum, err
	}
	if err := d.RemoveOutputClamp(); err != nil {
		return sum, err
	}
	if err := a.Configure(ctx, analyzer.Magnitude); err != nil {
		return sum, err
	}

	rec := &Recorder{
		FS:       s.FS,
		Dir:      cfg.GetResultsDir(),
		Catalog:  s.Catalog,
		Plots:    plot.NewWriter(s.FS),
		Clock:    clock,
		PlotSkip: cfg.GetPlotSkip(),
	}
	calibrator := &Calibrator{DAC: d, Analyzer: a, Clock: clock, Settings: CalibrationSettingsFrom(cfg)}
	loader := &Loader{
		FS:       s.FS,
		Dir:      cfg.GetResultsDir(),
		Operator: s.Operator,
		Clock:    clock,
		Calibrate: func(ctx context.Context) (Calibration, error) {
			started := clock.Now()
			cal, err := calibrator.Run(ctx)
			if err != nil {
				return cal, err
			}
			if err := rec.SaveCalibration(ctx, &cal, cfg.GetRemark(), started); err != nil {
				return cal, err
			}
			logf("calibration saved to %s", cal.Path)
			return cal, nil
		},
	}

	cal, state, err := loader.Load(ctx)
	sum.LoadState = state
	if err != nil {
		return sum, err
	}
	sum.Calibration = cal
	if cal.Path != "" {
		sum.Files = append(sum.Files, cal.Path)
	}
	logf("calibration %s (%s), coefficients %v", cal.Path, state, cal.Model.Coefficients)

	if err := timeutil.Settle(ctx, clock, cfg.GetPhasePause()); err != nil {
		return sum, err
	}
	if err := a.Configure(ctx, analyzer.Phase); err != nil {
		return sum, err
	}

	m := &Measurer{DAC: d, Analyzer: a, Clock: clock, Calibration: cal, Settings: MeasurementSettingsFrom(cfg)}
	next := s.Continue
	if next == nil {
		next = PromptContinue(s.Operator)
	}
	remark := cfg.GetRemark()
	for {
		it, err := m.Iterate(ctx)
		if err != nil {
			return sum, err
		}
		sum.Iterations++
		path, err := rec.SaveMeasurement(ctx, it, remark)
		if err != nil {
			return sum, err
		}
		sum.Files = append(sum.Files, path)

		dec, err := next(ctx, sum.Iterations)
		if err != nil {
			return sum, err
		}
		if !dec.Continue {
			return sum, nil
		}
		remark = cfg.GetRemark() + security.SanitizeRemark(dec.Suffix)
	}
}

