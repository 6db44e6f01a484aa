// Package walk implements WalkToPixel, the inner bounded 1-D root-find that
// drives one motor so one detector field reaches a target centroid. Grounded
// on pswalker's plans.walk_to_pixel: the get_first_step seed/probe choice,
// the slope/|r|>0.5 branch vs. the reset-and-reseed branch, and the
// max_steps budget.
package walk

import (
	"context"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/fit"
	"github.com/beamctrl/walker/pkg/measure"
	"github.com/beamctrl/walker/pkg/walkerr"
)

// Config parameterizes one WalkToPixel invocation.
type Config struct {
	Detector device.Readable
	Motor    device.Movable
	// DetectorField names the field MeasureAverage reads for the detector
	// reading. The motor's position is always read directly via
	// Motor.Position, never through a measured/filtered field: see
	// DESIGN.md for why Movable is not folded into the measurement's
	// Sources.
	DetectorField string

	Target float64
	// Start is the initial motor position; if nil, Motor.Position is used.
	Start *float64
	// FirstStep is the naive probe size used when no seed Gradient is given,
	// and again whenever a reset occurs.
	FirstStep float64
	// Gradient is an optional seed slope (detector units per motor unit).
	Gradient *float64
	Tolerance float64
	// Average is the sample count passed to MeasureAverage each step.
	Average int
	// System lists extra readables folded into every MeasureAverage call
	// (recorded but not used to drive the walk).
	System []device.Readable
	// MaxSteps bounds the number of motor moves since the most recent reset;
	// a reset (low-correlation or zero-slope fit) restarts the count, so a
	// walk that resets on every step is not bounded by it. Stopping at the
	// budget without reaching Tolerance is reported via Result.ExceededSteps.
	MaxSteps int

	Delay   measure.DelaySchedule
	Filters measure.FilterSet
	DropMissing bool
}

// Result is what WalkToPixel returns: the last measured centroid, the fit
// object accumulated across steps (nil if no step was taken), and whether
// the step budget was exhausted without reaching tolerance.
type Result struct {
	Centroid       float64
	Position       float64
	Fit            *fit.LinearFit
	Steps          int
	ExceededSteps  bool
}

// Run drives Motor until |read(Detector) - Target| <= Tolerance or MaxSteps
// moves have been made since the last reset.
func Run(ctx context.Context, coord command.Coordinator, cfg Config) (Result, error) {
	c0, p0, err := measureOnce(ctx, coord, cfg)
	if err != nil {
		return Result{}, err
	}
	if cfg.Start != nil {
		p0 = *cfg.Start
	}

	if absFloat(c0-cfg.Target) <= cfg.Tolerance {
		return Result{Centroid: c0, Position: p0}, nil
	}

	model := fit.NewLinearFit(cfg.DetectorField, "position", 1)

	var q float64
	if cfg.Gradient != nil && *cfg.Gradient != 0 {
		b := c0 - (*cfg.Gradient)*p0
		q = (cfg.Target - b) / (*cfg.Gradient)
	} else {
		q = p0 + cfg.FirstStep
	}

	model.Event(p0, c0)

	c, p := c0, p0
	step := 0
	for absFloat(c-cfg.Target) > cfg.Tolerance && step < cfg.MaxSteps {
		coord.Checkpoint(ctx)

		if err := coord.SetMotor(ctx, cfg.Motor, q); err != nil {
			return Result{Centroid: c, Position: p}, walkerr.New(walkerr.MotorTimeout, -1, c, p, err.Error())
		}

		c, p, err = measureOnce(ctx, coord, cfg)
		if err != nil {
			return Result{Centroid: c, Position: p, Fit: model}, err
		}

		model.Event(p, c)

		if model.Fitted() && model.Slope() != 0 && model.Correlation() > fit.CorrelationThreshold {
			q, err = model.Backsolve(cfg.Target)
			if err != nil {
				return Result{Centroid: c, Position: p, Fit: model}, err
			}
		} else {
			// Reset: direction-reversal artifacts or a stuck detector have
			// made the accumulated fit untrustworthy. Keep only the latest
			// point and re-seed with the same initial-step policy as step 2.
			model.Reset()
			model.Event(p, c)
			if cfg.Gradient != nil && *cfg.Gradient != 0 {
				b := c - (*cfg.Gradient)*p
				q = (cfg.Target - b) / (*cfg.Gradient)
			} else {
				q = p + cfg.FirstStep
			}
			step = 0
		}

		step++
	}

	res := Result{Centroid: c, Position: p, Fit: model, Steps: step}
	if absFloat(c-cfg.Target) > cfg.Tolerance {
		res.ExceededSteps = true
	}
	return res, nil
}

func measureOnce(ctx context.Context, coord command.Coordinator, cfg Config) (centroid, position float64, err error) {
	sources := append([]device.Readable{cfg.Detector}, cfg.System...)
	position, err = cfg.Motor.Position(ctx)
	if err != nil {
		return 0, 0, walkerr.New(walkerr.MotorTimeout, -1, 0, 0, err.Error())
	}

	agg, err := measure.Average(ctx, coord, measure.Config{
		Sources:     sources,
		Fields:      []string{detFieldKey(cfg)},
		N:           maxInt(cfg.Average, 1),
		Delay:       cfg.Delay,
		Filters:     cfg.Filters,
		DropMissing: cfg.DropMissing,
	})
	if err != nil {
		return 0, position, err
	}
	return agg[detFieldKey(cfg)], position, nil
}

func detFieldKey(cfg Config) string {
	return cfg.Detector.Name() + "_" + cfg.DetectorField
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
