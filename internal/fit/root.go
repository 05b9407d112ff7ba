package fit

import (
	"fmt"
	"math"
)

// RootSettings tunes Root. Zero values select defaults.
type RootSettings struct {
	XTol          float64 // relative step tolerance, default DefaultTolerance
	MaxIterations int     // default 100
}

// Root solves f(x) = 0 from x0 with Newton's method. A step that does not
// reduce |f| is halved until it does; a vanishing derivative is an error.
func Root(f, df func(float64) float64, x0 float64, s *RootSettings) (float64, error) {
	const op = "root"
	xtol, maxIter := DefaultTolerance, 100
	if s != nil {
		if s.XTol > 0 {
			xtol = s.XTol
		}
		if s.MaxIterations > 0 {
			maxIter = s.MaxIterations
		}
	}

	x := x0
	fx := f(x)
	if math.IsNaN(fx) || math.IsInf(fx, 0) {
		return x, &Error{Op: op, Reason: fmt.Sprintf("non-finite value at start %g", x0)}
	}

	for iter := 1; iter <= maxIter; iter++ {
		if fx == 0 {
			return x, nil
		}
		d := df(x)
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return x, &Error{Op: op, Reason: fmt.Sprintf("derivative vanished at %g", x), Iterations: iter}
		}

		step := -fx / d
		next, fnext := x+step, f(x+step)
		for k := 0; k < 30 && !(math.Abs(fnext) < math.Abs(fx)); k++ {
			step /= 2
			next, fnext = x+step, f(x+step)
		}

		done := math.Abs(step) <= xtol*math.Max(1, math.Abs(x))
		if math.Abs(fnext) < math.Abs(fx) || done {
			x, fx = next, fnext
		}
		if done {
			return x, nil
		}
	}
	return x, &Error{Op: op, Reason: "did not converge", Iterations: maxIter}
}
