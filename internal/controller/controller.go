// Package controller runs the calibration and measurement workflow: it
// builds the code to frequency calibration, tunes the DAC per grid step
// during measurement, and owns the instrument sessions for their lifetime.
package controller

import (
	"context"
	"fmt"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/model"
)

// DAC is the tuning DAC; *dac.Session satisfies it.
type DAC interface {
	Reset() error
	WriteCode(code uint32, resolutionBits int, enableOutput bool) error
	RemoveOutputClamp() error
	Close() error
}

// Analyzer is the impedance analyzer; *analyzer.Driver satisfies it.
type Analyzer interface {
	Configure(ctx context.Context, m analyzer.Measurement) error
	Sweep(ctx context.Context, req analyzer.SweepRequest) (analyzer.Trace, error)
	Restore(ctx context.Context) error
	Close() error
}

// Calibration is a fitted code to frequency model with the samples it was
// fitted to.
type Calibration struct {
	Model   model.Polynomial
	Dataset model.CalibrationDataset
	// Path is the calibration table the model was loaded from or saved to.
	Path string
}

// RangeError reports an inverted code outside the usable DAC range.
type RangeError struct {
	Frequency float64
	Code      int64
	Min, Max  uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("code = %d for %.0f Hz is out of range [%d: %d]", e.Code, e.Frequency, e.Min, e.Max)
}
