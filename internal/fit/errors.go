// Package fit holds the numerical solvers used by the calibration models:
// Levenberg-Marquardt least squares, bounded scalar minimization and a
// safeguarded Newton root finder.
package fit

import "fmt"

// Error reports a solver that failed to produce a usable answer.
type Error struct {
	Op         string
	Reason     string
	Iterations int
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fit %s: %s", e.Op, e.Reason)
	if e.Iterations > 0 {
		msg += fmt.Sprintf(" after %d iterations", e.Iterations)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
