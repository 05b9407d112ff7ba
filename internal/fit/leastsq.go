package fit

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTolerance matches the usual MINPACK defaults (sqrt of machine epsilon).
const DefaultTolerance = 1.49012e-8

// Problem is a nonlinear least squares problem: minimize 0.5*|r(x)|^2.
type Problem struct {
	// M is the number of residuals.
	M int
	// Func writes the M residuals at x into dst.
	Func func(dst, x []float64)
	// Jac writes the M×N Jacobian at x into dst. Nil selects central
	// finite differences.
	Jac func(dst *mat.Dense, x []float64)
}

// Settings tunes LeastSquares. Zero values select defaults.
type Settings struct {
	FTol           float64 // relative reduction of the cost
	XTol           float64 // relative size of the scaled step
	GTol           float64 // cosine between residuals and Jacobian columns
	MaxEvaluations int     // residual evaluations, default 200*(N+1)
	InitialDamping float64 // default 1e-3
	FDStep         float64 // finite-difference step, default fd.Central's
}

// Status says which criterion stopped the solver.
type Status int

const (
	FTolConverged Status = iota + 1
	XTolConverged
	GTolConverged
)

func (s Status) String() string {
	switch s {
	case FTolConverged:
		return "ftol"
	case XTolConverged:
		return "xtol"
	case GTolConverged:
		return "gtol"
	}
	return "unknown"
}

// Result is a converged least squares solution.
type Result struct {
	X           []float64
	Residuals   []float64
	Cost        float64
	Iterations  int
	Evaluations int
	Status      Status
}

// LeastSquares minimizes the problem from x0 with Levenberg-Marquardt.
// Each step solves the damped system [J; sqrt(mu) D] h = [-r; 0] by QR, with
// D the running maximum of the Jacobian column norms.
func LeastSquares(p Problem, x0 []float64, s *Settings) (Result, error) {
	const op = "least squares"
	n, m := len(x0), p.M
	if n == 0 {
		return Result{}, &Error{Op: op, Reason: "no parameters"}
	}
	if m < n {
		return Result{}, &Error{Op: op, Reason: "fewer residuals than parameters"}
	}
	set := withDefaults(s, n)

	evals := 0
	eval := func(dst, x []float64) bool {
		p.Func(dst, x)
		evals++
		return allFinite(dst)
	}

	x := append([]float64(nil), x0...)
	r := make([]float64, m)
	if !eval(r, x) {
		return Result{}, &Error{Op: op, Reason: "non-finite residuals at the starting point"}
	}
	cost := 0.5 * floats.Dot(r, r)

	J := mat.NewDense(m, n, nil)
	jacobian := func() {
		if p.Jac != nil {
			p.Jac(J, x)
			return
		}
		fd.Jacobian(J, p.Func, x, &fd.JacobianSettings{Formula: fd.Central, Step: set.FDStep})
		evals += 2 * n
	}
	jacobian()

	colNorms := make([]float64, n)
	diag := make([]float64, n)
	columnNorms(J, colNorms)
	for j, c := range colNorms {
		diag[j] = c
		if c == 0 {
			diag[j] = 1
		}
	}

	mu := set.InitialDamping
	nu := 2.0

	result := func(status Status, iter int) Result {
		return Result{
			X: x, Residuals: r, Cost: cost,
			Iterations: iter, Evaluations: evals, Status: status,
		}
	}

	g := make([]float64, n)
	h := make([]float64, n)
	xNew := make([]float64, n)
	rNew := make([]float64, m)
	A := mat.NewDense(m+n, n, nil)
	b := mat.NewVecDense(m+n, nil)

	for iter := 1; ; iter++ {
		if cost == 0 {
			return result(FTolConverged, iter-1), nil
		}

		// gradient and its scaled cosine against the residual vector
		gv := mat.NewVecDense(n, g)
		gv.MulVec(J.T(), mat.NewVecDense(m, r))
		rNorm := math.Sqrt(2 * cost)
		gMax := 0.0
		for j := range g {
			if colNorms[j] != 0 {
				gMax = math.Max(gMax, math.Abs(g[j])/(colNorms[j]*rNorm))
			}
		}
		if gMax <= set.GTol {
			return result(GTolConverged, iter-1), nil
		}

		for {
			if evals >= set.MaxEvaluations {
				return result(0, iter), &Error{Op: op, Reason: "maximum residual evaluations exceeded", Iterations: iter}
			}

			A.Zero()
			A.Slice(0, m, 0, n).(*mat.Dense).Copy(J)
			sq := math.Sqrt(mu)
			for j := 0; j < n; j++ {
				A.Set(m+j, j, sq*diag[j])
			}
			for i := 0; i < m; i++ {
				b.SetVec(i, -r[i])
			}
			for j := 0; j < n; j++ {
				b.SetVec(m+j, 0)
			}
			hv := mat.NewVecDense(n, h)
			if err := hv.SolveVec(A, b); err != nil {
				var cond mat.Condition
				if !errors.As(err, &cond) {
					return result(0, iter), &Error{Op: op, Reason: "step solve failed", Iterations: iter, Err: err}
				}
			}

			var dxNorm, xNorm, damp float64
			for j := 0; j < n; j++ {
				dxNorm += (diag[j] * h[j]) * (diag[j] * h[j])
				xNorm += (diag[j] * x[j]) * (diag[j] * x[j])
				xNew[j] = x[j] + h[j]
			}
			damp = mu * dxNorm
			dxNorm, xNorm = math.Sqrt(dxNorm), math.Sqrt(xNorm)
			stepTiny := dxNorm <= set.XTol*(xNorm+set.XTol)

			finite := eval(rNew, xNew)
			costNew := 0.5 * floats.Dot(rNew, rNew)
			predicted := 0.5 * (damp - floats.Dot(g, h))
			actual := cost - costNew

			rho := -1.0
			if finite && predicted > 0 {
				rho = actual / predicted
			}

			if rho > 1e-4 {
				prevCost := cost
				copy(x, xNew)
				copy(r, rNew)
				cost = costNew
				mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
				nu = 2

				if actual <= set.FTol*prevCost && predicted <= set.FTol*prevCost {
					return result(FTolConverged, iter), nil
				}
				if stepTiny {
					return result(XTolConverged, iter), nil
				}

				jacobian()
				columnNorms(J, colNorms)
				for j, c := range colNorms {
					diag[j] = math.Max(diag[j], c)
				}
				break
			}

			if stepTiny {
				return result(XTolConverged, iter), nil
			}
			mu *= nu
			nu *= 2
		}
	}
}

func withDefaults(s *Settings, n int) Settings {
	var set Settings
	if s != nil {
		set = *s
	}
	if set.FTol <= 0 {
		set.FTol = DefaultTolerance
	}
	if set.XTol <= 0 {
		set.XTol = DefaultTolerance
	}
	if set.GTol <= 0 {
		set.GTol = DefaultTolerance
	}
	if set.MaxEvaluations <= 0 {
		set.MaxEvaluations = 200 * (n + 1)
	}
	if set.InitialDamping <= 0 {
		set.InitialDamping = 1e-3
	}
	if set.FDStep <= 0 {
		set.FDStep = fd.Central.Step
	}
	return set
}

func columnNorms(J *mat.Dense, dst []float64) {
	m, n := J.Dims()
	for j := 0; j < n; j++ {
		var s float64
		for i := 0; i < m; i++ {
			v := J.At(i, j)
			s += v * v
		}
		dst[j] = math.Sqrt(s)
	}
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
