package model

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/dactune/internal/fit"
)

// negativeResistancePenalty is subtracted from |Z| when R < 0 so a solver
// wandering into unphysical parameters sees a huge residual.
const negativeResistancePenalty = 1e12

// RLC is a parallel inductor, capacitor and resistor.
type RLC struct {
	L float64 // henries
	C float64 // farads
	R float64 // ohms
}

// DefaultRLCSeed is the starting point for the impedance fit.
var DefaultRLCSeed = RLC{L: 13e-6, C: 22e-12, R: 53e3}

// Impedance returns the complex impedance at frequency f.
func (m RLC) Impedance(f float64) complex128 {
	w := 2 * math.Pi * f
	return 1 / complex(1/m.R, w*m.C-1/(w*m.L))
}

// Magnitude returns |Z| at frequency f, heavily penalised for R < 0.
func (m RLC) Magnitude(f float64) float64 {
	z := cmplx.Abs(m.Impedance(f))
	if m.R < 0 {
		z -= negativeResistancePenalty
	}
	return z
}

// Phase returns the impedance phase in radians at frequency f.
func (m RLC) Phase(f float64) float64 {
	w := 2 * math.Pi * f
	return math.Atan((w*m.L - 1/(w*m.C)) / m.R)
}

// Resonance returns the undamped resonant frequency 1/(2π√LC).
func (m RLC) Resonance() float64 {
	return 1 / (2 * math.Pi * math.Sqrt(m.L*m.C))
}

// SeedFromSweep adapts seed to a measured |Z| sweep: L is kept, R is the
// largest magnitude and C puts the resonance on the largest sample. The seed
// is returned unchanged when the sweep has no usable maximum.
func SeedFromSweep(seed RLC, freqs, mags []float64) RLC {
	if len(freqs) == 0 || len(freqs) != len(mags) {
		return seed
	}
	i := floats.MaxIdx(mags)
	peak, f := mags[i], freqs[i]
	if !(peak > 0) || math.IsInf(peak, 0) || !(f > 0) {
		return seed
	}
	w := 2 * math.Pi * f
	return RLC{L: seed.L, C: 1 / (w * w * seed.L), R: peak}
}

// FitRLC fits the |Z| response to a sweep by least squares. The solver works
// on log parameters so all three stay positive and comparably scaled.
func FitRLC(freqs, mags []float64, seed RLC) (RLC, error) {
	if len(freqs) != len(mags) {
		return RLC{}, fmt.Errorf("frequency and magnitude lengths differ: %d vs %d", len(freqs), len(mags))
	}
	if seed.L <= 0 || seed.C <= 0 || seed.R <= 0 {
		return RLC{}, &fit.Error{Op: "rlc", Reason: fmt.Sprintf("seed must be positive, got %+v", seed)}
	}

	prob := fit.Problem{
		M: len(freqs),
		Func: func(dst, x []float64) {
			m := RLC{L: math.Exp(x[0]), C: math.Exp(x[1]), R: math.Exp(x[2])}
			for i, f := range freqs {
				dst[i] = m.Magnitude(f) - mags[i]
			}
		},
	}
	x0 := []float64{math.Log(seed.L), math.Log(seed.C), math.Log(seed.R)}
	res, err := fit.LeastSquares(prob, x0, nil)
	if err != nil {
		return RLC{}, err
	}
	return RLC{L: math.Exp(res.X[0]), C: math.Exp(res.X[1]), R: math.Exp(res.X[2])}, nil
}

// PeakFrequency returns the frequency in [lo, hi] that maximizes |Z|.
func (m RLC) PeakFrequency(lo, hi float64) (float64, error) {
	res, err := fit.MinimizeBounded(func(f float64) float64 { return -m.Magnitude(f) }, lo, hi, nil)
	if err != nil {
		return 0, err
	}
	return res.X, nil
}
