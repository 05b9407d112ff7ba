// Package model holds the calibration and measurement data types and the two
// models fitted to them: the code to frequency polynomial and the parallel
// RLC impedance response.
package model

import "time"

// CalibrationSample is one accepted (code, resonant frequency) pair.
type CalibrationSample struct {
	Code      uint32
	Frequency float64
}

// CalibrationDataset holds accepted samples in code-ascending order.
type CalibrationDataset struct {
	Samples []CalibrationSample
}

// Append adds a sample.
func (d *CalibrationDataset) Append(code uint32, frequency float64) {
	d.Samples = append(d.Samples, CalibrationSample{Code: code, Frequency: frequency})
}

// Len returns the number of samples.
func (d CalibrationDataset) Len() int { return len(d.Samples) }

// Codes returns the sample codes as floats.
func (d CalibrationDataset) Codes() []float64 {
	out := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = float64(s.Code)
	}
	return out
}

// Frequencies returns the sample frequencies.
func (d CalibrationDataset) Frequencies() []float64 {
	out := make([]float64, len(d.Samples))
	for i, s := range d.Samples {
		out[i] = s.Frequency
	}
	return out
}

// MinCode returns the smallest code in the dataset, or 0 when empty.
func (d CalibrationDataset) MinCode() uint32 {
	if len(d.Samples) == 0 {
		return 0
	}
	m := d.Samples[0].Code
	for _, s := range d.Samples[1:] {
		if s.Code < m {
			m = s.Code
		}
	}
	return m
}

// FrequencyRange returns the smallest and largest sample frequency.
func (d CalibrationDataset) FrequencyRange() (lo, hi float64) {
	for i, s := range d.Samples {
		if i == 0 || s.Frequency < lo {
			lo = s.Frequency
		}
		if i == 0 || s.Frequency > hi {
			hi = s.Frequency
		}
	}
	return lo, hi
}

// MeasurementRecord is one grid step of a measurement iteration.
type MeasurementRecord struct {
	Frequency float64
	Phase     float64 // mean of Raw
	Code      uint32
	Raw       []float64
}

// MeasurementDataset is the output of one measurement iteration.
type MeasurementDataset struct {
	Records  []MeasurementRecord
	Started  time.Time
	Finished time.Time
}

// Append adds a record.
func (d *MeasurementDataset) Append(r MeasurementRecord) {
	d.Records = append(d.Records, r)
}

// Len returns the number of records.
func (d MeasurementDataset) Len() int { return len(d.Records) }

// Frequencies returns the grid frequencies.
func (d MeasurementDataset) Frequencies() []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Frequency
	}
	return out
}

// Phases returns the averaged phases.
func (d MeasurementDataset) Phases() []float64 {
	out := make([]float64, len(d.Records))
	for i, r := range d.Records {
		out[i] = r.Phase
	}
	return out
}

// Elapsed returns the iteration duration.
func (d MeasurementDataset) Elapsed() time.Duration {
	return d.Finished.Sub(d.Started)
}
