// Package sim is a simulated sensor bench: an AD5791 tuning a parallel RLC
// resonator that an E4990A measures. It answers the real DAC frames and SCPI
// commands, so the drivers run unchanged against it.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/dac"
	"github.com/banshee-data/dactune/internal/scpi"
)

// Sensor describes the simulated resonator and the sample feature a
// measurement looks for.
type Sensor struct {
	L float64 // inductance, H
	R float64 // parallel loss, ohm

	// Resonance at LowCode and HighCode; the tuning curve between them is
	// quadratic with Curvature as the share of the quadratic term.
	LowCode, HighCode uint32
	LowFreq, HighFreq float64
	Curvature         float64

	// Phase dip added in TZ mode.
	DipFrequency float64
	DipWidth     float64 // standard deviation, Hz
	DipDepth     float64 // degrees

	MagnitudeNoise float64 // relative
	PhaseNoise     float64 // degrees
}

// DefaultSensor resonates between 8.2 and 10.8 MHz over the default code
// range and carries a 3 degree dip at 9.5 MHz.
var DefaultSensor = Sensor{
	L:              13e-6,
	R:              53e3,
	LowCode:        0x99000,
	HighCode:       0xE6600,
	LowFreq:        8.2e6,
	HighFreq:       10.8e6,
	Curvature:      0.2,
	DipFrequency:   9.5e6,
	DipWidth:       40e3,
	DipDepth:       3,
	MagnitudeNoise: 2e-3,
	PhaseNoise:     0.02,
}

// Resonance returns the resonant frequency produced by code.
func (s Sensor) Resonance(code uint32) float64 {
	u := (float64(code) - float64(s.LowCode)) / (float64(s.HighCode) - float64(s.LowCode))
	shape := (1-s.Curvature)*u + s.Curvature*u*u
	return s.LowFreq + (s.HighFreq-s.LowFreq)*shape
}

// Capacitance returns the tuning capacitance that resonates with L at f.
func (s Sensor) Capacitance(f float64) float64 {
	w := 2 * math.Pi * f
	return 1 / (w * w * s.L)
}

// Impedance returns the resonator impedance at f for code.
func (s Sensor) Impedance(code uint32, f float64) complex128 {
	w := 2 * math.Pi * f
	c := s.Capacitance(s.Resonance(code))
	y := complex(1/s.R, w*c-1/(w*s.L))
	return 1 / y
}

// Phase returns the measured phase in degrees, including the sample dip.
func (s Sensor) Phase(code uint32, f float64) float64 {
	deg := cmplx.Phase(s.Impedance(code, f)) * 180 / math.Pi
	if s.DipDepth != 0 && s.DipWidth > 0 {
		d := (f - s.DipFrequency) / s.DipWidth
		deg -= s.DipDepth * math.Exp(-0.5*d*d)
	}
	return deg
}

// Bench holds the DAC and analyzer state. It is safe for concurrent use.
type Bench struct {
	mu     sync.Mutex
	sensor Sensor
	rng    *rand.Rand

	// DAC
	input  uint32 // input register, 20-bit field
	output uint32 // latched code
	ctrl   uint32
	frames int

	// analyzer
	param  analyzer.Measurement
	format analyzer.DataFormat
	start  float64
	stop   float64
	points int
	sweeps int
}

// New returns a bench for sensor with a seeded noise source.
func New(sensor Sensor, seed uint64) *Bench {
	return &Bench{
		sensor: sensor,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ctrl:   dac.CtrlRBUF | dac.CtrlOPGND | dac.CtrlDACTRI,
		param:  analyzer.Magnitude,
		format: analyzer.FormatReal,
		start:  5e6,
		stop:   10e6,
		points: analyzer.RestorePoints,
	}
}

// Sensor returns the simulated sensor.
func (b *Bench) Sensor() Sensor { return b.sensor }

// Code returns the code currently driving the output.
func (b *Bench) Code() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.output
}

// OutputEnabled reports whether the DAC output is driving the sensor.
func (b *Bench) OutputEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctrl&(dac.CtrlOPGND|dac.CtrlDACTRI) == 0
}

// Frames returns the number of SPI frames received.
func (b *Bench) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Sweeps returns the number of trace fetches served.
func (b *Bench) Sweeps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweeps
}

// Tx implements dac.Conn.
func (b *Bench) Tx(w, r []byte) error {
	read, addr, data, err := dac.ParseFrame(w)
	if err != nil {
		return err
	}
	if read {
		return fmt.Errorf("sim: readback not supported")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames++
	switch addr {
	case dac.RegDAC:
		b.input = data
	case dac.RegControl:
		b.ctrl = data
	case dac.RegSoftwareControl:
		if data&dac.SoftRESET != 0 {
			b.input, b.output = 0, 0
			b.ctrl = dac.CtrlRBUF | dac.CtrlOPGND | dac.CtrlDACTRI
		}
		if data&dac.SoftLDAC != 0 {
			b.output = b.input
		}
	}
	return nil
}

// Respond answers one SCPI command line; it plugs into scpi.TestablePort.
func (b *Bench) Respond(cmd string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd = strings.TrimSpace(cmd)
	switch {
	case cmd == "*IDN?":
		return []byte("Keysight Technologies,E4990A,SIM00001,A.02.14\n")
	case strings.HasPrefix(cmd, "SENS:FREQ:STAR "):
		var start, stop float64
		if _, err := fmt.Sscanf(cmd, "SENS:FREQ:STAR %g;STOP %g", &start, &stop); err == nil {
			b.start, b.stop = start, stop
		}
	case strings.HasPrefix(cmd, "SENSe:SWEep:POINts "):
		if n, err := strconv.Atoi(strings.TrimPrefix(cmd, "SENSe:SWEep:POINts ")); err == nil && n > 0 {
			b.points = n
		}
	case strings.HasPrefix(cmd, "CALCulate:PARameter1:DEFine "):
		b.param = analyzer.Measurement(strings.TrimPrefix(cmd, "CALCulate:PARameter1:DEFine "))
	case strings.HasPrefix(cmd, "FORMat:DATA "):
		if f, err := analyzer.ParseDataFormat(strings.TrimPrefix(cmd, "FORMat:DATA ")); err == nil {
			b.format = f
		}
	case cmd == "TRIG:SING;*OPC?":
		return []byte("+1\n")
	case cmd == "CALC:DATA:FDATA?":
		return b.trace()
	}
	return nil
}

// trace renders the current sweep as interleaved value/0 pairs.
func (b *Bench) trace() []byte {
	b.sweeps++
	freqs := analyzer.Grid(b.start, b.stop, b.points)
	raw := make([]float64, 0, 2*len(freqs))
	for _, f := range freqs {
		raw = append(raw, b.sample(f), 0)
	}
	if b.format == analyzer.FormatASCII {
		parts := make([]string, len(raw))
		for i, v := range raw {
			parts[i] = strconv.FormatFloat(v, 'E', 10, 64)
		}
		return []byte(strings.Join(parts, ",") + "\n")
	}
	return scpi.EncodeBlock(analyzer.EncodeReal(raw))
}

func (b *Bench) sample(f float64) float64 {
	s := b.sensor
	code := b.output
	if b.ctrl&(dac.CtrlOPGND|dac.CtrlDACTRI) != 0 {
		code = s.LowCode
	}
	if b.param == analyzer.Phase {
		return s.Phase(code, f) + s.PhaseNoise*b.rng.NormFloat64()
	}
	return cmplx.Abs(s.Impedance(code, f)) * (1 + s.MagnitudeNoise*b.rng.NormFloat64())
}

// Port returns a SCPI port served by the bench.
func (b *Bench) Port() *scpi.TestablePort {
	return scpi.NewTestablePort(b.Respond)
}

// Dialer returns a dialer whose every connection is served by the bench.
func (b *Bench) Dialer() scpi.Dialer {
	return dialer{b}
}

type dialer struct{ b *Bench }

func (d dialer) Dial(ctx context.Context, addr scpi.Address) (scpi.Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.b.Port(), nil
}
