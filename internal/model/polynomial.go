package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/dactune/internal/fit"
)

// Degree of the code to frequency polynomial.
const Degree = 5

// DefaultInverseBias scales the target frequency before inversion.
const DefaultInverseBias = 1.002

// PolynomialSeed is the starting point of the fit in raw code coefficients.
var PolynomialSeed = [Degree + 1]float64{-2.8e7, 1.7e4, 3e-4, 4e-10, -2e-16, 4e-23}

// Polynomial maps a DAC code to a resonant frequency:
// f = c0 + c1*code + ... + c5*code^5.
type Polynomial struct {
	Coefficients [Degree + 1]float64
}

// Evaluate returns the frequency for code.
func (p Polynomial) Evaluate(code float64) float64 {
	return horner(p.Coefficients[:], code)
}

// Derivative returns df/dcode at code.
func (p Polynomial) Derivative(code float64) float64 {
	var d float64
	for k := Degree; k >= 1; k-- {
		d = d*code + float64(k)*p.Coefficients[k]
	}
	return d
}

// Invert returns the nearest integer code at which the polynomial reaches
// target*DefaultInverseBias, starting the search from guess.
func (p Polynomial) Invert(target float64, guess uint32) (int64, error) {
	return p.InvertBiased(target, DefaultInverseBias, guess)
}

// InvertBiased is Invert with an explicit bias factor.
func (p Polynomial) InvertBiased(target, bias float64, guess uint32) (int64, error) {
	goal := target * bias
	x, err := fit.Root(
		func(c float64) float64 { return p.Evaluate(c) - goal },
		p.Derivative,
		float64(guess),
		nil,
	)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(x)), nil
}

func horner(c []float64, x float64) float64 {
	var y float64
	for k := len(c) - 1; k >= 0; k-- {
		y = y*x + c[k]
	}
	return y
}

// FitPolynomial fits the calibration polynomial to the samples by
// Levenberg-Marquardt least squares from PolynomialSeed. The solver runs on
// codes mapped to [-1, 1]; the result holds raw code coefficients.
func FitPolynomial(samples []CalibrationSample) (Polynomial, error) {
	distinct := make(map[uint32]struct{}, len(samples))
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		distinct[s.Code] = struct{}{}
		lo = math.Min(lo, float64(s.Code))
		hi = math.Max(hi, float64(s.Code))
	}
	if len(distinct) < Degree+1 {
		return Polynomial{}, &fit.Error{
			Op:     "polynomial",
			Reason: fmt.Sprintf("need at least %d distinct codes, got %d", Degree+1, len(distinct)),
		}
	}

	center, scale := (hi+lo)/2, (hi-lo)/2
	u := make([]float64, len(samples))
	for i, s := range samples {
		u[i] = (float64(s.Code) - center) / scale
	}

	prob := fit.Problem{
		M: len(samples),
		Func: func(dst, q []float64) {
			for i, s := range samples {
				dst[i] = horner(q, u[i]) - s.Frequency
			}
		},
		Jac: func(dst *mat.Dense, q []float64) {
			for i := range samples {
				pow := 1.0
				for k := range q {
					dst.Set(i, k, pow)
					pow *= u[i]
				}
			}
		},
	}

	seed := toNormalized(PolynomialSeed, center, scale)
	res, err := fit.LeastSquares(prob, seed[:], nil)
	if err != nil {
		return Polynomial{}, err
	}

	var q [Degree + 1]float64
	copy(q[:], res.X)
	return Polynomial{Coefficients: fromNormalized(q, center, scale)}, nil
}

// toNormalized rewrites p(x) as a polynomial in u = (x - center)/scale.
func toNormalized(p [Degree + 1]float64, center, scale float64) [Degree + 1]float64 {
	var q [Degree + 1]float64
	for k := 0; k <= Degree; k++ {
		sk := math.Pow(scale, float64(k))
		for j := k; j <= Degree; j++ {
			q[k] += p[j] * binomial(j, k) * math.Pow(center, float64(j-k)) * sk
		}
	}
	return q
}

// fromNormalized is the inverse of toNormalized.
func fromNormalized(q [Degree + 1]float64, center, scale float64) [Degree + 1]float64 {
	var p [Degree + 1]float64
	for j := 0; j <= Degree; j++ {
		for k := j; k <= Degree; k++ {
			p[j] += q[k] * binomial(k, j) * math.Pow(-center, float64(k-j)) / math.Pow(scale, float64(k))
		}
	}
	return p
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}
