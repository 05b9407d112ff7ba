package controller

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/dactune/internal/fsutil"
	"github.com/banshee-data/dactune/internal/monitoring"
	"github.com/banshee-data/dactune/internal/security"
	"github.com/banshee-data/dactune/internal/store"
	"github.com/banshee-data/dactune/internal/timeutil"
)

// LoadState is a step of the calibration file decision.
type LoadState int

const (
	Searching LoadState = iota
	Found
	NotFound
	UserSuppliedName
	Loaded
	Recalibrated
)

func (s LoadState) String() string {
	switch s {
	case Searching:
		return "searching"
	case Found:
		return "found"
	case NotFound:
		return "not found"
	case UserSuppliedName:
		return "user supplied name"
	case Loaded:
		return "loaded"
	case Recalibrated:
		return "recalibrated"
	}
	return fmt.Sprintf("LoadState(%d)", int(s))
}

// Loader decides between reusing a calibration file and running a new
// calibration, asking the operator where the choice is theirs.
type Loader struct {
	FS       fsutil.FileSystem
	Dir      string
	Operator Operator
	Clock    timeutil.Clock
	// Calibrate runs a fresh calibration when no file is used.
	Calibrate func(ctx context.Context) (Calibration, error)
}

// Load walks the decision until a calibration is loaded or recalibrated and
// returns it with the terminal state.
func (l *Loader) Load(ctx context.Context) (Calibration, LoadState, error) {
	logf := monitoring.Component("loader")
	clock := l.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	name := store.CalibrationFile(l.Dir, clock.Now())
	state := Searching
	for {
		if err := ctx.Err(); err != nil {
			return Calibration{}, state, err
		}
		switch state {
		case Searching:
			if l.FS.Exists(name) {
				state = Found
			} else {
				state = NotFound
			}

		case Found:
			answer, err := l.Operator.Ask(ctx, fmt.Sprintf("Find the C2F file '%s'. Open it? <Y/N/filename>: ", name))
			if err != nil {
				return Calibration{}, state, fmt.Errorf("calibration file prompt: %w", err)
			}
			switch answer {
			case "Y", "y", "yes", "":
				cal, err := l.read(name)
				if err != nil {
					logf("%v", err)
					state = NotFound
					continue
				}
				return cal, Loaded, nil
			case "N", "n", "no":
				return l.recalibrate(ctx)
			default:
				state = l.supplied(answer, &name)
			}

		case NotFound:
			answer, err := l.Operator.Ask(ctx, "Cannot find the C2F file. Please enter the file name or press ENTER to execute calibration. <ENTER/filename>: ")
			if err != nil {
				return Calibration{}, state, fmt.Errorf("calibration file prompt: %w", err)
			}
			if answer == "" {
				return l.recalibrate(ctx)
			}
			state = l.supplied(answer, &name)

		case UserSuppliedName:
			if !l.FS.Exists(name) {
				logf("calibration file %s does not exist", name)
				state = NotFound
				continue
			}
			cal, err := l.read(name)
			if err != nil {
				logf("%v", err)
				state = NotFound
				continue
			}
			return cal, Loaded, nil
		}
	}
}

// supplied points name at an operator-given file inside Dir. Names that
// would leave Dir are refused.
func (l *Loader) supplied(answer string, name *string) LoadState {
	if err := security.ValidateLocalName(answer); err != nil {
		monitoring.Component("loader")("%v", err)
		return NotFound
	}
	*name = filepath.Join(l.Dir, answer)
	return UserSuppliedName
}

func (l *Loader) read(name string) (Calibration, error) {
	p, ds, err := store.ReadCalibration(l.FS, name)
	if err != nil {
		return Calibration{}, err
	}
	return Calibration{Model: p, Dataset: ds, Path: name}, nil
}

func (l *Loader) recalibrate(ctx context.Context) (Calibration, LoadState, error) {
	if l.Calibrate == nil {
		return Calibration{}, NotFound, fmt.Errorf("no calibration available")
	}
	cal, err := l.Calibrate(ctx)
	if err != nil {
		return cal, NotFound, err
	}
	return cal, Recalibrated, nil
}
