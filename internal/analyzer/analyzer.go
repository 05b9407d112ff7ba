// Package analyzer drives a Keysight E4990A class impedance analyzer over SCPI.
package analyzer

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/dactune/internal/scpi"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// Measurement selects the trace parameter.
type Measurement string

const (
	// Magnitude is |Z| in ohms.
	Magnitude Measurement = "Z"
	// Phase is the impedance phase in degrees.
	Phase Measurement = "TZ"
)

// Trigger is the sweep trigger source.
type Trigger string

const (
	TriggerUnknown  Trigger = ""
	TriggerBus      Trigger = "BUS"
	TriggerInternal Trigger = "INTernal"
)

// DataFormat is the trace transfer format.
type DataFormat string

const (
	FormatReal  DataFormat = "REAL"
	FormatASCII DataFormat = "ASCii"
)

// ParseDataFormat accepts REAL or ASCII in any case.
func ParseDataFormat(s string) (DataFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "REAL":
		return FormatReal, nil
	case "ASC", "ASCII":
		return FormatASCII, nil
	}
	return "", fmt.Errorf("unknown data format %q", s)
}

// Default instrument state restored at the end of a session.
const (
	RestorePoints = 201
	RestoreSpan   = "SENS:FREQ:STAR 5e6;STOP 1e7"
)

// State is the part of the instrument configuration the driver tracks so that
// only changed settings are sent before a sweep.
type State struct {
	Trigger Trigger
	Points  int
}

// SweepRequest describes one sweep. Start == Stop is a fixed-frequency sweep.
// A positive Settle runs the sweep on the internal trigger and waits instead of
// single-triggering over the bus.
type SweepRequest struct {
	Start  float64
	Stop   float64
	Points int
	Settle time.Duration
}

// Trace is the result of one sweep.
type Trace struct {
	Values      []float64
	Frequencies []float64
}

// Commander is the SCPI session the driver talks through.
type Commander interface {
	Write(ctx context.Context, command string) error
	Query(ctx context.Context, command string) (string, error)
	QueryBlock(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// Options configures a Driver.
type Options struct {
	Format  DataFormat
	Timeout time.Duration
	Clock   timeutil.Clock
}

// Driver is a single-session E4990A driver.
type Driver struct {
	cmd         Commander
	clock       timeutil.Clock
	format      DataFormat
	state       State
	measurement Measurement
	configured  bool
}

// New wraps an open SCPI session.
func New(cmd Commander, opts Options) *Driver {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	format := opts.Format
	if format == "" {
		format = FormatReal
	}
	return &Driver{cmd: cmd, clock: clock, format: format}
}

// Open connects to the analyzer at address.
func Open(ctx context.Context, d scpi.Dialer, address string, opts Options) (*Driver, error) {
	sess, err := scpi.Open(ctx, d, address, opts.Timeout)
	if err != nil {
		return nil, errors.Wrap(err, "analyzer connect failed")
	}
	return New(sess, opts), nil
}

// State returns the tracked instrument state.
func (d *Driver) State() State { return d.state }

// Measurement returns the active trace parameter.
func (d *Driver) Measurement() Measurement { return d.measurement }

// Configure selects the trace parameter. The first call also sends the basic
// session configuration: bus trigger, continuous initiation, aperture 1,
// 1 V oscillator, point trigger, data format and display off.
func (d *Driver) Configure(ctx context.Context, m Measurement) error {
	errContext := "analyzer configure failed"

	if !d.configured {
		for _, c := range []string{
			"TRIGger1:SOURce BUS",
			"INITiate1:CONTinuous ON",
			"SENSe:APERture 1",
			"CALCulate:PARameter1:DEFine " + string(m),
			":SOUR1:VOLT 1000E-3",
			"FORMat:DATA " + string(d.format),
			"TRIG1:POIN1 ON",
			":DISPlay:ENABle 0",
		} {
			if err := d.cmd.Write(ctx, c); err != nil {
				return errors.Wrap(err, errContext)
			}
		}
		d.configured = true
		d.state.Trigger = TriggerBus
		d.measurement = m
		return nil
	}

	if m == d.measurement {
		return nil
	}
	if err := d.cmd.Write(ctx, "CALCulate:PARameter1:DEFine "+string(m)); err != nil {
		return errors.Wrap(err, errContext)
	}
	d.measurement = m
	return nil
}

// apply sends only the commands needed to move the instrument from the
// tracked state to want.
func (d *Driver) apply(ctx context.Context, want State) error {
	if want.Points != d.state.Points {
		if err := d.cmd.Write(ctx, fmt.Sprintf("SENSe:SWEep:POINts %d", want.Points)); err != nil {
			return err
		}
		d.state.Points = want.Points
	}
	if want.Trigger != d.state.Trigger {
		if err := d.cmd.Write(ctx, "TRIGger1:SOURce "+string(want.Trigger)); err != nil {
			return err
		}
		d.state.Trigger = want.Trigger
	}
	return nil
}

// Sweep runs one sweep and returns the primary trace values with the linear
// frequency grid they were taken on.
func (d *Driver) Sweep(ctx context.Context, req SweepRequest) (Trace, error) {
	errContext := "analyzer sweep failed"

	if req.Points < 1 {
		return Trace{}, fmt.Errorf("sweep needs at least one point, got %d", req.Points)
	}
	if req.Start <= 0 || req.Stop < req.Start {
		return Trace{}, fmt.Errorf("invalid sweep span [%g, %g]", req.Start, req.Stop)
	}

	span := fmt.Sprintf("SENS:FREQ:STAR %s;STOP %s", formatHz(req.Start), formatHz(req.Stop))
	if err := d.cmd.Write(ctx, span); err != nil {
		return Trace{}, errors.Wrap(err, errContext)
	}

	want := State{Points: req.Points, Trigger: TriggerBus}
	if req.Settle > 0 {
		want.Trigger = TriggerInternal
	}
	if err := d.apply(ctx, want); err != nil {
		return Trace{}, errors.Wrap(err, errContext)
	}

	if req.Settle > 0 {
		if err := timeutil.Settle(ctx, d.clock, req.Settle); err != nil {
			return Trace{}, err
		}
	} else {
		reply, err := d.cmd.Query(ctx, "TRIG:SING;*OPC?")
		if err != nil {
			return Trace{}, errors.Wrap(err, errContext)
		}
		if strings.TrimLeft(strings.TrimSpace(reply), "+") != "1" {
			return Trace{}, errors.Errorf("unexpected *OPC? reply %q", reply)
		}
	}

	values, err := d.fetch(ctx)
	if err != nil {
		return Trace{}, errors.Wrap(err, errContext)
	}
	if len(values) != req.Points {
		return Trace{}, errors.Errorf("expected %d trace points, got %d", req.Points, len(values))
	}

	return Trace{Values: values, Frequencies: Grid(req.Start, req.Stop, req.Points)}, nil
}

// fetch reads the formatted data trace and drops the secondary value of each
// interleaved pair.
func (d *Driver) fetch(ctx context.Context) ([]float64, error) {
	var raw []float64
	switch d.format {
	case FormatASCII:
		reply, err := d.cmd.Query(ctx, "CALC:DATA:FDATA?")
		if err != nil {
			return nil, err
		}
		raw, err = DecodeASCII(reply)
		if err != nil {
			return nil, err
		}
	default:
		block, err := d.cmd.QueryBlock(ctx, "CALC:DATA:FDATA?")
		if err != nil {
			return nil, err
		}
		raw, err = DecodeReal(block)
		if err != nil {
			return nil, err
		}
	}
	return Primary(raw), nil
}

// Restore returns the instrument to its front-panel defaults: display on,
// 201 points, |Z|, 5-10 MHz span, internal trigger. It runs even when ctx is
// already cancelled and reports the first failure after trying every command.
func (d *Driver) Restore(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var first error
	for _, c := range []string{
		":DISPlay:ENABle 1",
		fmt.Sprintf("SENSe:SWEep:POINts %d", RestorePoints),
		"CALCulate:PARameter1:DEFine " + string(Magnitude),
		RestoreSpan,
		"TRIGger1:SOURce " + string(TriggerInternal),
	} {
		if err := d.cmd.Write(ctx, c); err != nil && first == nil {
			first = errors.Wrap(err, "analyzer restore failed")
		}
	}
	d.state = State{Trigger: TriggerInternal, Points: RestorePoints}
	d.measurement = Magnitude
	return first
}

// Close releases the SCPI session.
func (d *Driver) Close() error {
	return d.cmd.Close()
}

// Grid returns n frequencies spaced linearly over [start, stop].
func Grid(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	return floats.Span(out, start, stop)
}

// DecodeReal decodes a REAL block of big-endian float64 values.
func DecodeReal(block []byte) ([]float64, error) {
	if len(block)%8 != 0 {
		return nil, errors.Errorf("REAL block length %d is not a multiple of 8", len(block))
	}
	out := make([]float64, len(block)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(block[i*8:]))
	}
	return out, nil
}

// EncodeReal is the inverse of DecodeReal.
func EncodeReal(values []float64) []byte {
	out := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(out[i*8:], math.Float64bits(v))
	}
	return out
}

// DecodeASCII decodes a comma separated ASCII trace.
func DecodeASCII(reply string) ([]float64, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, nil
	}
	parts := strings.Split(reply, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "conversion for trace value %d failed", i)
		}
		out[i] = v
	}
	return out, nil
}

// Primary keeps elements 0, 2, 4, ... of an interleaved trace.
func Primary(raw []float64) []float64 {
	out := make([]float64, 0, (len(raw)+1)/2)
	for i := 0; i < len(raw); i += 2 {
		out = append(out, raw[i])
	}
	return out
}

func formatHz(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
