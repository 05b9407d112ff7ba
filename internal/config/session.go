package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is the path to the canonical session defaults file.
const DefaultConfigPath = "config/session.defaults.json"

// SessionConfig holds the bench parameters for one calibration/measurement
// session. Fields omitted from the JSON fall back to the Get* defaults.
type SessionConfig struct {
	// Instruments
	AnalyzerAddress *string `json:"analyzer_address,omitempty"` // tcp://host:port or serial:///dev/tty...
	AnalyzerTimeout *string `json:"analyzer_timeout,omitempty"` // duration string like "10s"
	DataFormat      *string `json:"data_format,omitempty"`      // REAL or ASCII
	DACBoard        *string `json:"dac_board,omitempty"`
	DACChip         *string `json:"dac_chip,omitempty"`
	DACPort         *string `json:"dac_port,omitempty"` // SPI port name, e.g. "SPI0.0"
	DACSpeedHz      *int64  `json:"dac_speed_hz,omitempty"`

	// Calibration sweep
	StartCode         *int64   `json:"start_code,omitempty"`
	StopCode          *int64   `json:"stop_code,omitempty"`
	StepCode          *int64   `json:"step_code,omitempty"`
	StartFrequency    *float64 `json:"start_frequency,omitempty"`
	StopFrequency     *float64 `json:"stop_frequency,omitempty"`
	CalibrationPoints *int     `json:"calibration_points,omitempty"`
	DACSettle         *string  `json:"dac_settle,omitempty"`
	SweepSettle       *string  `json:"sweep_settle,omitempty"`
	SeedInductance    *float64 `json:"seed_inductance,omitempty"`
	SeedCapacitance   *float64 `json:"seed_capacitance,omitempty"`
	SeedResistance    *float64 `json:"seed_resistance,omitempty"`

	// Measurement loop
	InverseBias       *float64 `json:"inverse_bias,omitempty"`
	MeasurementPoints *int     `json:"measurement_points,omitempty"`
	Repeat            *int     `json:"repeat,omitempty"`
	SmoothingSigma    *float64 `json:"smoothing_sigma,omitempty"`
	DipProminence     *float64 `json:"dip_prominence,omitempty"`
	PlotSkip          *int     `json:"plot_skip,omitempty"`
	PhasePause        *string  `json:"phase_pause,omitempty"`
	Remark            *string  `json:"remark,omitempty"`
	ResultsDir        *string  `json:"results_dir,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptySessionConfig returns a SessionConfig with all fields set to nil.
func EmptySessionConfig() *SessionConfig {
	return &SessionConfig{}
}

// DefaultSessionConfig returns a SessionConfig with every field populated
// from the Get* defaults.
func DefaultSessionConfig() *SessionConfig {
	e := EmptySessionConfig()
	return &SessionConfig{
		AnalyzerAddress:   ptrString(e.GetAnalyzerAddress()),
		AnalyzerTimeout:   ptrString(e.GetAnalyzerTimeout().String()),
		DataFormat:        ptrString(e.GetDataFormat()),
		DACBoard:          ptrString(e.GetDACBoard()),
		DACChip:           ptrString(e.GetDACChip()),
		DACPort:           ptrString(e.GetDACPort()),
		DACSpeedHz:        ptrInt64(e.GetDACSpeedHz()),
		StartCode:         ptrInt64(int64(e.GetStartCode())),
		StopCode:          ptrInt64(int64(e.GetStopCode())),
		StepCode:          ptrInt64(int64(e.GetStepCode())),
		StartFrequency:    ptrFloat64(e.GetStartFrequency()),
		StopFrequency:     ptrFloat64(e.GetStopFrequency()),
		CalibrationPoints: ptrInt(e.GetCalibrationPoints()),
		DACSettle:         ptrString(e.GetDACSettle().String()),
		SweepSettle:       ptrString(e.GetSweepSettle().String()),
		SeedInductance:    ptrFloat64(e.GetSeedInductance()),
		SeedCapacitance:   ptrFloat64(e.GetSeedCapacitance()),
		SeedResistance:    ptrFloat64(e.GetSeedResistance()),
		InverseBias:       ptrFloat64(e.GetInverseBias()),
		MeasurementPoints: ptrInt(e.GetMeasurementPoints()),
		Repeat:            ptrInt(e.GetRepeat()),
		SmoothingSigma:    ptrFloat64(e.GetSmoothingSigma()),
		DipProminence:     ptrFloat64(e.GetDipProminence()),
		PlotSkip:          ptrInt(e.GetPlotSkip()),
		PhasePause:        ptrString(e.GetPhasePause().String()),
		Remark:            ptrString(e.GetRemark()),
		ResultsDir:        ptrString(e.GetResultsDir()),
	}
}

// LoadSessionConfig loads a SessionConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
func LoadSessionConfig(path string) (*SessionConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySessionConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Intended for test setup.
func MustLoadDefaultConfig() *SessionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSessionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are consistent.
func (c *SessionConfig) Validate() error {
	for name, v := range map[string]*string{
		"analyzer_timeout": c.AnalyzerTimeout,
		"dac_settle":       c.DACSettle,
		"sweep_settle":     c.SweepSettle,
		"phase_pause":      c.PhasePause,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.DataFormat != nil {
		switch strings.ToUpper(*c.DataFormat) {
		case "REAL", "ASCII":
		default:
			return fmt.Errorf("data_format must be REAL or ASCII, got %q", *c.DataFormat)
		}
	}

	start, stop, step := c.GetStartCode(), c.GetStopCode(), c.GetStepCode()
	if step == 0 {
		return fmt.Errorf("step_code must be positive")
	}
	if start > stop {
		return fmt.Errorf("start_code 0x%X exceeds stop_code 0x%X", start, stop)
	}
	if c.StartCode != nil && (*c.StartCode < 0 || *c.StartCode > 0xFFFFF) {
		return fmt.Errorf("start_code must be a 20-bit code, got %d", *c.StartCode)
	}
	if c.StopCode != nil && (*c.StopCode < 0 || *c.StopCode > 0xFFFFF) {
		return fmt.Errorf("stop_code must be a 20-bit code, got %d", *c.StopCode)
	}
	if c.StepCode != nil && *c.StepCode <= 0 {
		return fmt.Errorf("step_code must be positive, got %d", *c.StepCode)
	}

	if c.GetStartFrequency() <= 0 || c.GetStartFrequency() >= c.GetStopFrequency() {
		return fmt.Errorf("frequency window must satisfy 0 < start < stop, got [%g, %g]",
			c.GetStartFrequency(), c.GetStopFrequency())
	}

	for name, v := range map[string]*int{
		"calibration_points": c.CalibrationPoints,
		"measurement_points": c.MeasurementPoints,
		"repeat":             c.Repeat,
	} {
		if v != nil && *v < 2 {
			return fmt.Errorf("%s must be at least 2, got %d", name, *v)
		}
	}
	if c.PlotSkip != nil && *c.PlotSkip < 0 {
		return fmt.Errorf("plot_skip must be non-negative, got %d", *c.PlotSkip)
	}

	if c.InverseBias != nil && *c.InverseBias <= 0 {
		return fmt.Errorf("inverse_bias must be positive, got %f", *c.InverseBias)
	}
	if c.SmoothingSigma != nil && *c.SmoothingSigma < 0 {
		return fmt.Errorf("smoothing_sigma must be non-negative, got %f", *c.SmoothingSigma)
	}
	if c.DipProminence != nil && *c.DipProminence < 0 {
		return fmt.Errorf("dip_prominence must be non-negative, got %f", *c.DipProminence)
	}
	if c.DACSpeedHz != nil && *c.DACSpeedHz <= 0 {
		return fmt.Errorf("dac_speed_hz must be positive, got %d", *c.DACSpeedHz)
	}

	for name, v := range map[string]*float64{
		"seed_inductance":  c.SeedInductance,
		"seed_capacitance": c.SeedCapacitance,
		"seed_resistance":  c.SeedResistance,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", name, *v)
		}
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetAnalyzerAddress returns the analyzer address or the default.
func (c *SessionConfig) GetAnalyzerAddress() string {
	if c.AnalyzerAddress == nil {
		return "tcp://192.168.1.10:5025"
	}
	return *c.AnalyzerAddress
}

// GetAnalyzerTimeout returns the per-command instrument timeout.
func (c *SessionConfig) GetAnalyzerTimeout() time.Duration {
	return durationOr(c.AnalyzerTimeout, 10*time.Second)
}

// GetDataFormat returns the trace transfer format, REAL or ASCII.
func (c *SessionConfig) GetDataFormat() string {
	if c.DataFormat == nil {
		return "REAL"
	}
	return strings.ToUpper(*c.DataFormat)
}

// GetDACBoard returns the DAC evaluation board name or the default.
func (c *SessionConfig) GetDACBoard() string {
	if c.DACBoard == nil {
		return "EVAL-AD5791SDZ"
	}
	return *c.DACBoard
}

// GetDACChip returns the DAC chip name or the default.
func (c *SessionConfig) GetDACChip() string {
	if c.DACChip == nil {
		return "AD5791"
	}
	return *c.DACChip
}

// GetDACPort returns the SPI port name. Empty selects the first registered port.
func (c *SessionConfig) GetDACPort() string {
	if c.DACPort == nil {
		return ""
	}
	return *c.DACPort
}

// GetDACSpeedHz returns the SPI clock.
func (c *SessionConfig) GetDACSpeedHz() int64 {
	if c.DACSpeedHz == nil {
		return 1_000_000
	}
	return *c.DACSpeedHz
}

// GetStartCode returns the first calibration code.
func (c *SessionConfig) GetStartCode() uint32 {
	if c.StartCode == nil {
		return 0x99000
	}
	return uint32(*c.StartCode)
}

// GetStopCode returns the last calibration code (inclusive).
func (c *SessionConfig) GetStopCode() uint32 {
	if c.StopCode == nil {
		return 0xE6600
	}
	return uint32(*c.StopCode)
}

// GetStepCode returns the calibration code increment.
func (c *SessionConfig) GetStepCode() uint32 {
	if c.StepCode == nil {
		return 0x2000
	}
	return uint32(*c.StepCode)
}

// GetStartFrequency returns the lower bound of the calibration window in Hz.
func (c *SessionConfig) GetStartFrequency() float64 {
	if c.StartFrequency == nil {
		return 8e6
	}
	return *c.StartFrequency
}

// GetStopFrequency returns the upper bound of the calibration window in Hz.
func (c *SessionConfig) GetStopFrequency() float64 {
	if c.StopFrequency == nil {
		return 11e6
	}
	return *c.StopFrequency
}

// GetCalibrationPoints returns the sweep point count used during calibration.
func (c *SessionConfig) GetCalibrationPoints() int {
	if c.CalibrationPoints == nil {
		return 201
	}
	return *c.CalibrationPoints
}

// GetDACSettle returns the delay between a DAC write and the dependent sweep.
func (c *SessionConfig) GetDACSettle() time.Duration {
	return durationOr(c.DACSettle, 5*time.Millisecond)
}

// GetSweepSettle returns the analyzer settle time. Zero selects bus triggering.
func (c *SessionConfig) GetSweepSettle() time.Duration {
	return durationOr(c.SweepSettle, 0)
}

// GetSeedInductance returns the RLC seed inductance in henries.
func (c *SessionConfig) GetSeedInductance() float64 {
	if c.SeedInductance == nil {
		return 13e-6
	}
	return *c.SeedInductance
}

// GetSeedCapacitance returns the RLC seed capacitance in farads.
func (c *SessionConfig) GetSeedCapacitance() float64 {
	if c.SeedCapacitance == nil {
		return 22e-12
	}
	return *c.SeedCapacitance
}

// GetSeedResistance returns the RLC seed resistance in ohms.
func (c *SessionConfig) GetSeedResistance() float64 {
	if c.SeedResistance == nil {
		return 53e3
	}
	return *c.SeedResistance
}

// GetInverseBias returns the factor applied to the target frequency when
// inverting the calibration polynomial.
func (c *SessionConfig) GetInverseBias() float64 {
	if c.InverseBias == nil {
		return 1.002
	}
	return *c.InverseBias
}

// GetMeasurementPoints returns the number of grid steps per measurement iteration.
func (c *SessionConfig) GetMeasurementPoints() int {
	if c.MeasurementPoints == nil {
		return 250
	}
	return *c.MeasurementPoints
}

// GetRepeat returns the number of fixed-frequency readings averaged per step.
func (c *SessionConfig) GetRepeat() int {
	if c.Repeat == nil {
		return 15
	}
	return *c.Repeat
}

// GetSmoothingSigma returns the Gaussian smoothing width in samples.
func (c *SessionConfig) GetSmoothingSigma() float64 {
	if c.SmoothingSigma == nil {
		return 2
	}
	return *c.SmoothingSigma
}

// GetDipProminence returns the minimum prominence of a phase dip.
func (c *SessionConfig) GetDipProminence() float64 {
	if c.DipProminence == nil {
		return 0.05
	}
	return *c.DipProminence
}

// GetPlotSkip returns the number of leading measurement points left off plots.
func (c *SessionConfig) GetPlotSkip() int {
	if c.PlotSkip == nil {
		return 3
	}
	return *c.PlotSkip
}

// GetPhasePause returns the pause after switching the analyzer to phase mode.
func (c *SessionConfig) GetPhasePause() time.Duration {
	return durationOr(c.PhasePause, time.Second)
}

// GetRemark returns the base filename remark for measurement files.
func (c *SessionConfig) GetRemark() string {
	if c.Remark == nil {
		return "P"
	}
	return *c.Remark
}

// GetResultsDir returns the directory that receives datasets and plots.
func (c *SessionConfig) GetResultsDir() string {
	if c.ResultsDir == nil {
		return "res"
	}
	return *c.ResultsDir
}
