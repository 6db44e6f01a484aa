// Package iterwalk implements IterWalk, the cross-coupled outer convergence
// loop that drives a list of (detector, motor) pairs to their goal centroids
// in order, alternating imager insertion, filtered measurement, adaptive
// tolerance and overshoot, WalkToPixel dispatch, and recovery branching.
// Grounded on pswalker's iterwalk.iterwalk: the pre-step nominal-position
// move, the while-index-<-num retry loop (not a plain range, since recovery
// can retry or hold at the same index), the finished-flag invalidation rule,
// and the debug counters (mirror_walks, yag_cycles, recoveries) it logs at
// the end of a run.
package iterwalk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/fit"
	"github.com/beamctrl/walker/pkg/logging"
	"github.com/beamctrl/walker/pkg/measure"
	"github.com/beamctrl/walker/pkg/recovery"
	"github.com/beamctrl/walker/pkg/walk"
	"github.com/beamctrl/walker/pkg/walkerr"
)

// Imager is a detector that also carries insertion state — every entry in
// Config.Detectors must satisfy both, since IterWalk's per-pair insertion
// step moves the imager IN before measuring through it and OUT once a later
// pair takes over.
type Imager interface {
	device.Readable
	device.Insertable
}

// Config lists the per-pair parameters IterWalk drives to convergence, plus
// the run-wide knobs. Every per-pair slice is listified: it must either be
// empty (a documented default), length 1 (broadcast to every pair), or
// exactly len(Detectors).
type Config struct {
	Detectors []Imager
	Motors    []device.Movable
	Goals     []float64

	// Starts, if a pair's entry is non-nil, seeds that pair's first walk
	// step position on the run's very first outer iteration only.
	Starts []*float64
	// FirstSteps is the naive probe size used when no Gradients entry is
	// given. Default 1.
	FirstSteps []float64
	// Gradients seeds a pair's pitch->centroid slope; refined in place from
	// every successful walk's fitted slope.
	Gradients []*float64
	// DetectorFields names the field MeasureAverage and WalkToPixel read
	// from each detector. Default "centroid_x".
	DetectorFields []string
	// Tolerances is the per-pair convergence tolerance. Default 20.
	Tolerances []float64
	// System lists extra readables recorded alongside every measurement,
	// minus whichever pair's own detector is active.
	System []device.Readable
	// Averages is the per-pair sample count for MeasureAverage. Default 1.
	Averages []int
	// Overshoot inflates (or, if negative, deflates) the goal sent to
	// WalkToPixel for every pair but the first, exploiting parasitic
	// cross-coupling without biasing the termination check.
	Overshoot float64
	// MaxWalks bounds the number of outer passes over all pairs. Nil means
	// unbounded (run until converged, fatal, or ctx cancellation).
	MaxWalks *int
	// Timeout is the wall-clock budget for the whole run, checked at every
	// pair's entry. Zero means unbounded.
	Timeout time.Duration
	// RecoveryPlan builds the plan IterWalk diverts to when a pre-walk
	// measurement raises FilterCount. Nil means such a failure is fatal.
	RecoveryPlan recovery.Builder
	// Filters is the per-pair field->predicate map passed to every
	// MeasureAverage and WalkToPixel call for that pair.
	Filters     []measure.FilterSet
	DropMissing bool
	// TolScaling is the per-pair adaptive-tolerance constant; a nil entry
	// uses the fixed tolerance unconditionally.
	TolScaling []*float64

	Logger zerolog.Logger
}

// Result reports IterWalk's termination state: which pairs converged, their
// final positions and fitted models, and the debug counters pswalker's
// iterwalk logs on exit.
type Result struct {
	Finished      []bool
	DonePositions []float64
	Models        []*fit.LinearFit

	MirrorWalks int
	YagCycles   int
	Recoveries  int
	Elapsed     time.Duration
}

// AllFinished reports whether every pair reached its goal within tolerance.
func (r Result) AllFinished() bool {
	for _, f := range r.Finished {
		if !f {
			return false
		}
	}
	return true
}

// clock is a seam so tests never depend on a real wall clock.
var clock = time.Now

// Run drives every (detector, motor) pair to its goal, or returns a fatal
// *walkerr.Failure. If MaxWalks outer passes complete without every pair
// converging, it returns a nil error with Result.AllFinished() false. On a
// fatal error the Result returned describes the state at the moment of
// failure.
func Run(ctx context.Context, coord command.Coordinator, cfg Config) (Result, error) {
	num := len(cfg.Detectors)
	if num == 0 || len(cfg.Motors) != num || len(cfg.Goals) != num {
		return Result{}, walkerr.NewGlobal(walkerr.ConfigurationError,
			"detectors, motors, and goals must share one non-zero length")
	}

	goals, err := listify("goals", cfg.Goals, num, 0)
	if err != nil {
		return Result{}, err
	}
	starts, err := listify("starts", cfg.Starts, num, (*float64)(nil))
	if err != nil {
		return Result{}, err
	}
	firstSteps, err := listify("first_steps", cfg.FirstSteps, num, 1.0)
	if err != nil {
		return Result{}, err
	}
	gradients, err := listify("gradients", cfg.Gradients, num, (*float64)(nil))
	if err != nil {
		return Result{}, err
	}
	detFields, err := listify("detector_fields", cfg.DetectorFields, num, "centroid_x")
	if err != nil {
		return Result{}, err
	}
	tolerances, err := listify("tolerances", cfg.Tolerances, num, 20.0)
	if err != nil {
		return Result{}, err
	}
	averages, err := listify("averages", cfg.Averages, num, 1)
	if err != nil {
		return Result{}, err
	}
	filters, err := listify("filters", cfg.Filters, num, measure.FilterSet(nil))
	if err != nil {
		return Result{}, err
	}
	tolScaling, err := listify("tol_scaling", cfg.TolScaling, num, (*float64)(nil))
	if err != nil {
		return Result{}, err
	}

	runLogger := logging.ForRun(cfg.Logger, uuid.NewString())
	runLogger.Debug().Int("pairs", num).Msg("iterwalk starting")

	finished := make([]bool, num)
	donePos := make([]float64, num)
	models := make([]*fit.LinearFit, num)
	mirrorWalks, yagCycles, recoveries := 0, 0, 0
	start := clock()

	result := func() Result {
		return Result{
			Finished:      append([]bool(nil), finished...),
			DonePositions: append([]float64(nil), donePos...),
			Models:        append([]*fit.LinearFit(nil), models...),
			MirrorWalks:   mirrorWalks,
			YagCycles:     yagCycles,
			Recoveries:    recoveries,
			Elapsed:       clock().Sub(start),
		}
	}

	if err := moveToNominal(ctx, coord, cfg.Motors); err != nil {
		return result(), err
	}

	detectorNames := make([]string, num)
	motorNames := make([]string, num)
	for i := range cfg.Detectors {
		detectorNames[i] = cfg.Detectors[i].Name()
		motorNames[i] = cfg.Motors[i].Name()
	}
	if err := coord.Save(ctx, command.StartDoc{
		Detectors: detectorNames,
		Motors:    motorNames,
		Goals:     goals,
		PlanArgs: map[string]any{
			"overshoot": cfg.Overshoot,
			"max_walks": cfg.MaxWalks,
			"timeout":   cfg.Timeout,
		},
	}); err != nil {
		return result(), err
	}

	for walks := 0; ; walks++ {
		if cfg.MaxWalks != nil && walks >= *cfg.MaxWalks {
			runLogger.Warn().Int("max_walks", *cfg.MaxWalks).Msg("iterwalk reached max_walks limit without full convergence")
			break
		}

		index := 0
		for index < num {
			pairLogger := logging.ForPair(runLogger, index)

			if cfg.Timeout > 0 && clock().Sub(start) > cfg.Timeout {
				return result(), walkerr.NewGlobal(walkerr.GlobalTimeout,
					fmt.Sprintf("iterwalk exceeded timeout after %s", clock().Sub(start)))
			}

			if err := insertImagers(ctx, coord, cfg.Detectors, index); err != nil {
				return result(), walkerr.New(walkerr.MotorTimeout, index, 0, 0, "detector insertion failed: "+err.Error())
			}
			yagCycles++

			var firstPos *float64
			if walks == 0 && starts[index] != nil {
				firstPos = starts[index]
			}

			fullSystem := excludeByName(cfg.System, cfg.Detectors[index].Name())

			originalPosition, perr := cfg.Motors[index].Position(ctx)
			if perr != nil {
				return result(), walkerr.New(walkerr.MotorTimeout, index, 0, 0, perr.Error())
			}

			coord.Checkpoint(ctx)

			field := cfg.Detectors[index].Name() + "_" + detFields[index]
			agg, merr := measure.Average(ctx, coord, measure.Config{
				Sources:     append([]device.Readable{cfg.Detectors[index]}, fullSystem...),
				Fields:      []string{field},
				N:           averages[index],
				Filters:     filters[index],
				DropMissing: cfg.DropMissing,
			})
			if merr != nil {
				next, recovered, herr := handleFailure(ctx, coord, cfg, gradients, firstSteps, finished,
					detFields, index, true, originalPosition, merr, &pairLogger)
				if herr != nil {
					return result(), herr
				}
				if recovered {
					recoveries++
				}
				index = next
				continue
			}
			pos := agg[field]

			if absFloat(pos-goals[index]) <= tolerances[index] {
				finished[index] = true
				donePos[index] = pos
				if allTrue(finished) {
					break
				}
				index++
				continue
			}
			for i := range finished {
				finished[i] = false
			}

			goal := goals[index]
			if index != 0 {
				goal = (goals[index]-pos)*(1+cfg.Overshoot) + pos
			}

			selectedTol := tolerances[index]
			if tolScaling[index] != nil {
				t := absFloat(pos-goals[index]) / *tolScaling[index]
				if t < tolerances[index] {
					t = tolerances[index]
				}
				selectedTol = t
			}

			pairLogger.Info().Float64("from", pos).Float64("to", goal).
				Str("detector", cfg.Detectors[index].Name()).Str("motor", cfg.Motors[index].Name()).
				Msg("starting walk")

			wres, werr := walk.Run(ctx, coord, walk.Config{
				Detector:      cfg.Detectors[index],
				Motor:         cfg.Motors[index],
				DetectorField: detFields[index],
				Target:        goal,
				Start:         firstPos,
				FirstStep:     firstSteps[index],
				Gradient:      gradients[index],
				Tolerance:     selectedTol,
				Average:       averages[index],
				System:        fullSystem,
				MaxSteps:      10,
				Filters:       filters[index],
				DropMissing:   cfg.DropMissing,
			})
			if werr != nil {
				next, recovered, herr := handleFailure(ctx, coord, cfg, gradients, firstSteps, finished,
					detFields, index, false, originalPosition, werr, &pairLogger)
				if herr != nil {
					return result(), herr
				}
				if recovered {
					recoveries++
				}
				index = next
				continue
			}

			models[index] = wres.Fit
			if wres.Fit != nil && wres.Fit.Fitted() {
				slope := wres.Fit.Slope()
				gradients[index] = &slope
			}
			mirrorWalks++

			if absFloat(wres.Centroid-goal) > selectedTol {
				return result(), walkerr.New(walkerr.WalkExceededSteps, index, wres.Centroid, wres.Position,
					"walk_to_pixel failed to reach the goal")
			}

			finished[index] = true
			donePos[index] = wres.Centroid
			index++
		}

		if allTrue(finished) {
			break
		}
	}

	res := result()
	runLogger.Info().Int("mirror_walks", res.MirrorWalks).Int("yag_cycles", res.YagCycles).
		Int("recoveries", res.Recoveries).Dur("elapsed", res.Elapsed).Msg("iterwalk finished")
	return res, nil
}

// moveToNominal brings every motor with a defined nominal position there in
// a single parallel group before sensing begins.
func moveToNominal(ctx context.Context, coord command.Coordinator, motors []device.Movable) error {
	var targets []command.MotorTarget
	for _, m := range motors {
		if pos, ok := m.NominalPosition(ctx); ok {
			targets = append(targets, command.MotorTarget{Motor: m, Target: pos})
		}
	}
	return command.AbsSetGroup(ctx, coord, targets)
}

// insertImagers brings detector `current` IN, pulls every earlier detector
// OUT (it would otherwise block the beam), and sends every later detector
// IN without waiting for it — ready for its own turn, but not blocking this
// one. Grounded on plan_stubs.prep_img_motors's prev_out/tail_in split.
func insertImagers(ctx context.Context, coord command.Coordinator, detectors []Imager, current int) error {
	var grouped []command.InsertTarget
	for i, d := range detectors {
		switch {
		case i < current:
			grouped = append(grouped, command.InsertTarget{Insertable: d, State: device.Out})
		case i == current:
			grouped = append(grouped, command.InsertTarget{Insertable: d, State: device.In})
		default:
			if err := coord.SetInsert(ctx, d, device.In); err != nil {
				return err
			}
		}
	}
	return command.AbsSetInsertGroup(ctx, coord, grouped)
}

// handleFailure implements RecoveryBranch's pre-walk/intra-walk split. For
// a pre-walk failure (the measurement before WalkToPixel raised
// FilterCount) it dispatches to cfg.RecoveryPlan, if any, with a fallback of
// the motor's nominal position or its current position. For an intra-walk
// failure it never calls RecoveryPlan: it restores the motor to the
// position it held at pair entry, resets every finished flag, and halves
// the step aggressiveness (doubles the gradient magnitude, flips and halves
// first_step) before retrying the same pair.
func handleFailure(
	ctx context.Context,
	coord command.Coordinator,
	cfg Config,
	gradients []*float64,
	firstSteps []float64,
	finished []bool,
	detFields []string,
	index int,
	preWalk bool,
	originalPosition float64,
	cause error,
	logger *zerolog.Logger,
) (nextIndex int, recovered bool, err error) {
	var failure *walkerr.Failure
	if !errors.As(cause, &failure) || failure.Kind != walkerr.FilterCount {
		return index, false, cause
	}

	if preWalk {
		if cfg.RecoveryPlan == nil {
			logger.Error().Msg("no recovery plan configured, aborting")
			return index, false, cause
		}

		fallback, ok := cfg.Motors[index].NominalPosition(ctx)
		if !ok {
			pos, perr := cfg.Motors[index].Position(ctx)
			if perr != nil {
				return index, false, walkerr.New(walkerr.MotorTimeout, index, 0, 0, perr.Error())
			}
			fallback = pos
		}

		plan := cfg.RecoveryPlan(cfg.Detectors[index], detFields[index], cfg.Motors[index])
		ok, rerr := recovery.Branch(ctx, coord, plan, cfg.Motors[index], fallback)
		if rerr != nil {
			return index, false, rerr
		}
		for i := range finished {
			finished[i] = false
		}
		if !ok {
			logger.Info().Msg("recovery failed, using fallback position and advancing")
			return index + 1, true, nil
		}
		return index, true, nil
	}

	logger.Info().Msg("bad state during walk_to_pixel, undoing and lowering step parameters")
	if serr := coord.SetMotor(ctx, cfg.Motors[index], originalPosition); serr != nil {
		return index, false, walkerr.New(walkerr.MotorTimeout, index, 0, originalPosition, serr.Error())
	}
	for i := range finished {
		finished[i] = false
	}
	if gradients[index] != nil {
		doubled := *gradients[index] * 2
		gradients[index] = &doubled
	}
	firstSteps[index] = -firstSteps[index] / 2
	return index, false, nil
}

func excludeByName(system []device.Readable, name string) []device.Readable {
	out := make([]device.Readable, 0, len(system))
	for _, r := range system {
		if r.Name() == name {
			continue
		}
		out = append(out, r)
	}
	return out
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// listify broadcasts a per-pair argument to length num: empty uses def for
// every pair, length 1 broadcasts that one value, length num is used as-is
// (copied, so IterWalk's in-place mutation of gradients/first_steps never
// aliases the caller's slice), and any other length is a ConfigurationError.
func listify[T any](name string, xs []T, num int, def T) ([]T, error) {
	out := make([]T, num)
	switch len(xs) {
	case 0:
		for i := range out {
			out[i] = def
		}
	case num:
		copy(out, xs)
	case 1:
		for i := range out {
			out[i] = xs[0]
		}
	default:
		return nil, walkerr.NewGlobal(walkerr.ConfigurationError,
			fmt.Sprintf("%s: expected length 1 or %d, got %d", name, num, len(xs)))
	}
	return out, nil
}
