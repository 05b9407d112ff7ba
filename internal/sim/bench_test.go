package sim

import (
	"context"
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/dactune/internal/analyzer"
	"github.com/banshee-data/dactune/internal/dac"
	"github.com/banshee-data/dactune/internal/timeutil"
)

func TestSensor_Model(t *testing.T) {
	s := DefaultSensor
	assert.InDelta(t, s.LowFreq, s.Resonance(s.LowCode), 1e-6)
	assert.InDelta(t, s.HighFreq, s.Resonance(s.HighCode), 1e-6)
	assert.Less(t, s.Resonance(0xA0000), s.Resonance(0xA2000))

	f0 := s.Resonance(0xB0000)
	assert.InDelta(t, s.R, cmplx.Abs(s.Impedance(0xB0000, f0)), 1e-6*s.R)
	assert.Greater(t, cmplx.Abs(s.Impedance(0xB0000, f0)), cmplx.Abs(s.Impedance(0xB0000, f0*1.01)))

	away := s.Phase(0xB0000, s.DipFrequency+1e6)
	noDip := s
	noDip.DipDepth = 0
	assert.InDelta(t, s.DipDepth, noDip.Phase(0xB0000, s.DipFrequency)-s.Phase(0xB0000, s.DipFrequency), 1e-9)
	assert.False(t, math.IsNaN(away))
}

func TestBench_DACFrames(t *testing.T) {
	b := New(DefaultSensor, 1)
	sess, err := dac.NewSession("EVAL-AD5791SDZ", "AD5791", b, nil)
	require.NoError(t, err)

	require.NoError(t, sess.Reset())
	assert.False(t, b.OutputEnabled())

	require.NoError(t, sess.WriteCode(0x99000, 20, true))
	assert.Equal(t, uint32(0x99000), b.Code())
	assert.True(t, b.OutputEnabled())

	require.NoError(t, sess.WriteCode(0x2000, 18, false))
	assert.Equal(t, uint32(0x8000), b.Code(), "18-bit code is left justified")

	require.NoError(t, sess.Reset())
	assert.Equal(t, uint32(0), b.Code())
	assert.Greater(t, b.Frames(), 5)

	assert.Error(t, b.Tx([]byte{0x80, 0, 0}, make([]byte, 3)), "readback")
	assert.Error(t, b.Tx([]byte{0x10}, nil))
}

func openDriver(t *testing.T, b *Bench) *analyzer.Driver {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	d, err := analyzer.Open(context.Background(), b.Dialer(), "tcp://sim:5025", analyzer.Options{Timeout: time.Second, Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestBench_MagnitudeSweepPeaksAtResonance(t *testing.T) {
	b := New(DefaultSensor, 7)
	sess, err := dac.NewSession("EVAL-AD5791SDZ", "AD5791", b, nil)
	require.NoError(t, err)
	require.NoError(t, sess.WriteCode(0xB0000, 20, true))

	d := openDriver(t, b)
	ctx := context.Background()
	require.NoError(t, d.Configure(ctx, analyzer.Magnitude))

	tr, err := d.Sweep(ctx, analyzer.SweepRequest{Start: 8e6, Stop: 11e6, Points: 201})
	require.NoError(t, err)
	require.Len(t, tr.Values, 201)

	peak := tr.Frequencies[floats.MaxIdx(tr.Values)]
	assert.InDelta(t, b.Sensor().Resonance(0xB0000), peak, 30e3)
	assert.Equal(t, 1, b.Sweeps())
}

func TestBench_PhaseAtFixedFrequency(t *testing.T) {
	b := New(DefaultSensor, 3)
	sess, err := dac.NewSession("EVAL-AD5791SDZ", "AD5791", b, nil)
	require.NoError(t, err)
	require.NoError(t, sess.WriteCode(0xB0000, 20, true))

	d := openDriver(t, b)
	ctx := context.Background()
	require.NoError(t, d.Configure(ctx, analyzer.Magnitude))
	require.NoError(t, d.Configure(ctx, analyzer.Phase))

	f := b.Sensor().DipFrequency
	tr, err := d.Sweep(ctx, analyzer.SweepRequest{Start: f, Stop: f, Points: 15})
	require.NoError(t, err)
	require.Len(t, tr.Values, 15)

	want := b.Sensor().Phase(0xB0000, f)
	assert.InDelta(t, want, stat.Mean(tr.Values, nil), 0.05)
}

func TestBench_ASCIIFormat(t *testing.T) {
	b := New(DefaultSensor, 5)
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	d, err := analyzer.Open(context.Background(), b.Dialer(), "tcp://sim:5025",
		analyzer.Options{Timeout: time.Second, Clock: clock, Format: analyzer.FormatASCII})
	require.NoError(t, err)
	defer d.Close()

	ctx := context.Background()
	require.NoError(t, d.Configure(ctx, analyzer.Magnitude))
	tr, err := d.Sweep(ctx, analyzer.SweepRequest{Start: 8e6, Stop: 9e6, Points: 11, Settle: 5 * time.Millisecond})
	require.NoError(t, err)
	assert.Len(t, tr.Values, 11)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, clock.Sleeps())
}

func TestBench_DialerHonoursContext(t *testing.T) {
	b := New(DefaultSensor, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := analyzer.Open(ctx, b.Dialer(), "tcp://sim:5025", analyzer.Options{})
	assert.Error(t, err)
}
