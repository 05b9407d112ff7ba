package fit

import (
	"fmt"
	"math"
)

// BoundedSettings tunes MinimizeBounded. Zero values select defaults.
type BoundedSettings struct {
	XAbsTol       float64 // default 1e-5
	MaxIterations int     // function evaluations, default 500
}

// BoundedResult is the minimizer found by MinimizeBounded.
type BoundedResult struct {
	X           float64
	F           float64
	Evaluations int
}

// MinimizeBounded finds a local minimum of f on [lo, hi] with Brent's method
// (golden section search with parabolic interpolation). The endpoints are
// never evaluated.
func MinimizeBounded(f func(float64) float64, lo, hi float64, s *BoundedSettings) (BoundedResult, error) {
	const op = "bounded minimize"
	if !(lo < hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return BoundedResult{}, &Error{Op: op, Reason: fmt.Sprintf("invalid bounds [%g, %g]", lo, hi)}
	}
	xatol, maxFun := 1e-5, 500
	if s != nil {
		if s.XAbsTol > 0 {
			xatol = s.XAbsTol
		}
		if s.MaxIterations > 0 {
			maxFun = s.MaxIterations
		}
	}

	sqrtEps := math.Sqrt(2.2e-16)
	goldenMean := 0.5 * (3 - math.Sqrt(5))

	a, b := lo, hi
	fulc := a + goldenMean*(b-a)
	nfc, xf := fulc, fulc
	var rat, e float64
	x := xf
	fx := f(x)
	num := 1
	ffulc, fnfc := fx, fx
	xm := 0.5 * (a + b)
	tol1 := sqrtEps*math.Abs(xf) + xatol/3
	tol2 := 2 * tol1

	for math.Abs(xf-xm) > tol2-0.5*(b-a) {
		golden := true

		if math.Abs(e) > tol1 {
			golden = false
			r := (xf - nfc) * (fx - ffulc)
			q := (xf - fulc) * (fx - fnfc)
			p := (xf-fulc)*q - (xf-nfc)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			r = e
			e = rat

			if math.Abs(p) < math.Abs(0.5*q*r) && p > q*(a-xf) && p < q*(b-xf) {
				rat = p / q
				x = xf + rat
				if x-a < tol2 || b-x < tol2 {
					rat = tol1 * signOrOne(xm-xf)
				}
			} else {
				golden = true
			}
		}

		if golden {
			if xf >= xm {
				e = a - xf
			} else {
				e = b - xf
			}
			rat = goldenMean * e
		}

		x = xf + signOrOne(rat)*math.Max(math.Abs(rat), tol1)
		fu := f(x)
		num++

		if fu <= fx {
			if x >= xf {
				a = xf
			} else {
				b = xf
			}
			fulc, ffulc = nfc, fnfc
			nfc, fnfc = xf, fx
			xf, fx = x, fu
		} else {
			if x < xf {
				a = x
			} else {
				b = x
			}
			if fu <= fnfc || nfc == xf {
				fulc, ffulc = nfc, fnfc
				nfc, fnfc = x, fu
			} else if fu <= ffulc || fulc == xf || fulc == nfc {
				fulc, ffulc = x, fu
			}
		}

		xm = 0.5 * (a + b)
		tol1 = sqrtEps*math.Abs(xf) + xatol/3
		tol2 = 2 * tol1

		if num >= maxFun {
			return BoundedResult{X: xf, F: fx, Evaluations: num},
				&Error{Op: op, Reason: "maximum function evaluations exceeded", Iterations: num}
		}
	}

	if math.IsNaN(fx) {
		return BoundedResult{X: xf, F: fx, Evaluations: num}, &Error{Op: op, Reason: "objective is NaN at the minimizer"}
	}
	return BoundedResult{X: xf, F: fx, Evaluations: num}, nil
}

// signOrOne returns the sign of v, treating zero as positive.
func signOrOne(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
