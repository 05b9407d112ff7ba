package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()

	if cfg.StartCode == nil || *cfg.StartCode != 0x99000 {
		t.Errorf("Expected StartCode 0x99000, got %v", cfg.StartCode)
	}
	if cfg.DACSettle == nil || *cfg.DACSettle != "5ms" {
		t.Errorf("Expected DACSettle '5ms', got %v", cfg.DACSettle)
	}
	if cfg.Remark == nil || *cfg.Remark != "P" {
		t.Errorf("Expected Remark 'P', got %v", cfg.Remark)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestGetterDefaults(t *testing.T) {
	cfg := EmptySessionConfig()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"AnalyzerTimeout", cfg.GetAnalyzerTimeout(), 10 * time.Second},
		{"DataFormat", cfg.GetDataFormat(), "REAL"},
		{"DACBoard", cfg.GetDACBoard(), "EVAL-AD5791SDZ"},
		{"DACChip", cfg.GetDACChip(), "AD5791"},
		{"StartCode", cfg.GetStartCode(), uint32(0x99000)},
		{"StopCode", cfg.GetStopCode(), uint32(0xE6600)},
		{"StepCode", cfg.GetStepCode(), uint32(0x2000)},
		{"StartFrequency", cfg.GetStartFrequency(), 8e6},
		{"StopFrequency", cfg.GetStopFrequency(), 11e6},
		{"CalibrationPoints", cfg.GetCalibrationPoints(), 201},
		{"DACSettle", cfg.GetDACSettle(), 5 * time.Millisecond},
		{"SweepSettle", cfg.GetSweepSettle(), time.Duration(0)},
		{"SeedInductance", cfg.GetSeedInductance(), 13e-6},
		{"SeedCapacitance", cfg.GetSeedCapacitance(), 22e-12},
		{"SeedResistance", cfg.GetSeedResistance(), 53e3},
		{"InverseBias", cfg.GetInverseBias(), 1.002},
		{"MeasurementPoints", cfg.GetMeasurementPoints(), 250},
		{"Repeat", cfg.GetRepeat(), 15},
		{"SmoothingSigma", cfg.GetSmoothingSigma(), 2.0},
		{"DipProminence", cfg.GetDipProminence(), 0.05},
		{"PlotSkip", cfg.GetPlotSkip(), 3},
		{"PhasePause", cfg.GetPhasePause(), time.Second},
		{"Remark", cfg.GetRemark(), "P"},
		{"ResultsDir", cfg.GetResultsDir(), "res"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadSessionConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	testJSON := `{
  "analyzer_address": "serial:///dev/ttyUSB0?baud=115200",
  "data_format": "ascii",
  "repeat": 5,
  "sweep_settle": "20ms"
}`
	if err := os.WriteFile(path, []byte(testJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadSessionConfig(path)
	if err != nil {
		t.Fatalf("LoadSessionConfig failed: %v", err)
	}
	if got := cfg.GetAnalyzerAddress(); got != "serial:///dev/ttyUSB0?baud=115200" {
		t.Errorf("GetAnalyzerAddress() = %q", got)
	}
	if got := cfg.GetDataFormat(); got != "ASCII" {
		t.Errorf("GetDataFormat() = %q, want ASCII", got)
	}
	if got := cfg.GetRepeat(); got != 5 {
		t.Errorf("GetRepeat() = %d, want 5", got)
	}
	if got := cfg.GetSweepSettle(); got != 20*time.Millisecond {
		t.Errorf("GetSweepSettle() = %v, want 20ms", got)
	}
	// omitted fields keep defaults
	if got := cfg.GetStepCode(); got != 0x2000 {
		t.Errorf("GetStepCode() = 0x%X, want 0x2000", got)
	}
}

func TestLoadDefaultConfigFile(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	want := DefaultSessionConfig()

	if cfg.GetStartCode() != want.GetStartCode() || cfg.GetStopCode() != want.GetStopCode() {
		t.Errorf("code range mismatch: [0x%X, 0x%X]", cfg.GetStartCode(), cfg.GetStopCode())
	}
	if cfg.GetInverseBias() != 1.002 {
		t.Errorf("GetInverseBias() = %f", cfg.GetInverseBias())
	}
	if cfg.GetPhasePause() != time.Second {
		t.Errorf("GetPhasePause() = %v", cfg.GetPhasePause())
	}
}

func TestLoadSessionConfigMissing(t *testing.T) {
	if _, err := LoadSessionConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadSessionConfigRejectsNonJSON(t *testing.T) {
	_, err := LoadSessionConfig("config/session.yaml")
	if err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}
}

func TestLoadSessionConfigRejectsLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(path, make([]byte, 1024*1024+1), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadSessionConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestLoadSessionConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte(`{"repeat": "many"}`), 0o644)
	if _, err := LoadSessionConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SessionConfig
		wantErr string
	}{
		{"empty", SessionConfig{}, ""},
		{"bad duration", SessionConfig{DACSettle: ptrString("soon")}, "dac_settle"},
		{"negative duration", SessionConfig{PhasePause: ptrString("-1s")}, "phase_pause"},
		{"bad format", SessionConfig{DataFormat: ptrString("BINARY")}, "data_format"},
		{"inverted codes", SessionConfig{StartCode: ptrInt64(0xE0000), StopCode: ptrInt64(0x90000)}, "exceeds"},
		{"code too wide", SessionConfig{StopCode: ptrInt64(0x100000)}, "20-bit"},
		{"zero step", SessionConfig{StepCode: ptrInt64(0)}, "step_code"},
		{"inverted window", SessionConfig{StartFrequency: ptrFloat64(12e6)}, "frequency window"},
		{"one point", SessionConfig{CalibrationPoints: ptrInt(1)}, "calibration_points"},
		{"zero repeat", SessionConfig{Repeat: ptrInt(0)}, "repeat"},
		{"negative skip", SessionConfig{PlotSkip: ptrInt(-1)}, "plot_skip"},
		{"zero bias", SessionConfig{InverseBias: ptrFloat64(0)}, "inverse_bias"},
		{"negative sigma", SessionConfig{SmoothingSigma: ptrFloat64(-2)}, "smoothing_sigma"},
		{"negative prominence", SessionConfig{DipProminence: ptrFloat64(-0.1)}, "dip_prominence"},
		{"zero speed", SessionConfig{DACSpeedHz: ptrInt64(0)}, "dac_speed_hz"},
		{"zero seed", SessionConfig{SeedCapacitance: ptrFloat64(0)}, "seed_capacitance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationFallbackOnParseError(t *testing.T) {
	cfg := &SessionConfig{AnalyzerTimeout: ptrString("bogus"), DACSettle: ptrString("")}
	if got := cfg.GetAnalyzerTimeout(); got != 10*time.Second {
		t.Errorf("GetAnalyzerTimeout() = %v, want default", got)
	}
	if got := cfg.GetDACSettle(); got != 5*time.Millisecond {
		t.Errorf("GetDACSettle() = %v, want default", got)
	}
}
