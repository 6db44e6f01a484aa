// Package recovery implements the operator-supplied plan IterWalk diverts
// to when a pre-walk measurement raises FilterCount, plus the standard
// threshold-scan recovery primitive. Grounded on pswalker's recovery.py
// (recover_threshold's ceil/floor condition and try_reverse-by-recursion,
// and make_homs_recover's closure-over-devices construction). The scan
// itself moves the motor one SetMotor call at a time and reads the signal
// after each move.
package recovery

import (
	"context"
	"time"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/walkerr"
)

// Plan is a recovery plan invoked when a pre-walk measurement fails with
// FilterCount. It reports ok=true when the pair's devices were brought back
// into a workable state and the pair should be retried, ok=false when the
// caller should fall back to the nominal/entry position and move on.
type Plan func(ctx context.Context, coord command.Coordinator) (ok bool, err error)

// Builder constructs a Plan closed over the detector/motor pair it will
// operate on, the way make_homs_recover closes over (yags, yag_index,
// motor, threshold) rather than taking them as per-call arguments.
type Builder func(detector device.Readable, field string, motor device.Movable) Plan

// Branch runs plan and, on failure (ok=false), commands motor back to
// fallback — pswalker's "fallback to nominal position" step. It never
// decides whether to retry the same pair or advance to the next; that
// decision belongs to the orchestrator (iterwalk), which owns the finished
// flags and pair index.
func Branch(ctx context.Context, coord command.Coordinator, plan Plan, motor device.Movable, fallback float64) (ok bool, err error) {
	ok, err = plan(ctx, coord)
	if err != nil {
		return false, err
	}
	if !ok {
		if serr := coord.SetMotor(ctx, motor, fallback); serr != nil {
			return false, walkerr.New(walkerr.MotorTimeout, -1, 0, fallback, serr.Error())
		}
	}
	return ok, nil
}

// ThresholdConfig parameterizes the standard threshold-scan recovery plan.
type ThresholdConfig struct {
	Signal      device.Readable
	SignalField string
	Threshold   float64
	Motor       device.Movable
	// DirInitial is +1 to scan toward the motor's high limit first, -1 for
	// the low limit first.
	DirInitial int
	Timeout    time.Duration
	TryReverse bool
	// Ceil: true looks for signal >= Threshold, false for signal <= Threshold.
	Ceil bool
	// OffLimit is the margin kept off the hard limit when approaching it.
	OffLimit float64
	// HasStop selects the flavor: true uses the "stop on match" scan
	// (motor.Stop as soon as the condition is met); false uses
	// "find-widest-region" (scans the whole range, returns to the midpoint
	// of the widest satisfying interval) for motors that can't stop safely.
	HasStop  bool
	StepSize float64
}

func (c ThresholdConfig) condition(x float64) bool {
	if c.Ceil {
		return x >= c.Threshold
	}
	return x <= c.Threshold
}

// NewThresholdPlan builds a Plan implementing ThresholdConfig. It is itself
// a Builder-compatible shape when partially applied; see NewThresholdBuilder.
func NewThresholdPlan(cfg ThresholdConfig) Plan {
	return func(ctx context.Context, coord command.Coordinator) (bool, error) {
		if cfg.HasStop {
			return runStopOnMatch(ctx, coord, cfg)
		}
		return runWidestRegion(ctx, coord, cfg)
	}
}

// NewThresholdBuilder returns a Builder that plugs a (detector, motor) pair
// into an otherwise-fixed threshold configuration, the way make_homs_recover
// closes a fixed threshold/center over a (yags, yag_index, motor) triple
// supplied per call.
func NewThresholdBuilder(threshold float64, dirInitial int, ceil, hasStop bool, stepSize, offLimit float64, timeout time.Duration, tryReverse bool) Builder {
	return func(detector device.Readable, field string, motor device.Movable) Plan {
		return NewThresholdPlan(ThresholdConfig{
			Signal:      detector,
			SignalField: field,
			Threshold:   threshold,
			Motor:       motor,
			DirInitial:  dirInitial,
			Timeout:     timeout,
			TryReverse:  tryReverse,
			Ceil:        ceil,
			OffLimit:    offLimit,
			HasStop:     hasStop,
			StepSize:    stepSize,
		})
	}
}

func (c ThresholdConfig) setpoint(ctx context.Context) (float64, error) {
	low, high, ok := c.Motor.Limits(ctx)
	if !ok {
		return 0, walkerr.NewGlobal(walkerr.ConfigurationError, "threshold recovery requires motor limits")
	}
	if c.DirInitial > 0 {
		return high - c.OffLimit, nil
	}
	return low + c.OffLimit, nil
}

func (c ThresholdConfig) readSignal(ctx context.Context, coord command.Coordinator) (float64, error) {
	doc, err := coord.TriggerAndRead(ctx, []device.Readable{c.Signal})
	if err != nil {
		return 0, err
	}
	f, ok := doc[c.Signal.Name()+"_"+c.SignalField]
	if !ok {
		return 0, walkerr.NewGlobal(walkerr.ConfigurationError, "signal field missing from recovery scan read")
	}
	return f.Value, nil
}

// runStopOnMatch moves the motor toward the limit named by DirInitial in
// StepSize increments, sampling the signal after each move, and stops as
// soon as the condition is satisfied. On reaching the limit without a
// match, it retries the opposite direction once if TryReverse is set.
func runStopOnMatch(ctx context.Context, coord command.Coordinator, cfg ThresholdConfig) (bool, error) {
	deadline := time.Time{}
	if cfg.Timeout > 0 {
		deadline = timeNow().Add(cfg.Timeout)
	}

	target, err := cfg.setpoint(ctx)
	if err != nil {
		return false, err
	}
	pos, err := cfg.Motor.Position(ctx)
	if err != nil {
		return false, err
	}
	step := cfg.StepSize
	if cfg.DirInitial < 0 {
		step = -step
	}

	for {
		if !deadline.IsZero() && timeNow().After(deadline) {
			break
		}
		next := pos + step
		if (step > 0 && next > target) || (step < 0 && next < target) {
			next = target
		}
		if err := coord.SetMotor(ctx, cfg.Motor, next); err != nil {
			return false, err
		}
		pos = next

		val, err := cfg.readSignal(ctx, coord)
		if err != nil {
			return false, err
		}
		if cfg.condition(val) {
			if err := cfg.Motor.Stop(ctx); err != nil {
				return false, err
			}
			return true, nil
		}
		if pos == target {
			break
		}
	}

	if cfg.TryReverse {
		reversed := cfg
		reversed.DirInitial = -cfg.DirInitial
		reversed.TryReverse = false
		if cfg.Timeout > 0 {
			reversed.Timeout = cfg.Timeout * 2
		}
		return runStopOnMatch(ctx, coord, reversed)
	}
	return false, nil
}

// runWidestRegion scans the motor's full travel range, records which
// samples satisfy the condition, and returns to the midpoint of the widest
// contiguous satisfying run.
func runWidestRegion(ctx context.Context, coord command.Coordinator, cfg ThresholdConfig) (bool, error) {
	low, high, ok := cfg.Motor.Limits(ctx)
	if !ok {
		return false, walkerr.NewGlobal(walkerr.ConfigurationError, "find-widest-region recovery requires motor limits")
	}
	if cfg.StepSize <= 0 {
		return false, walkerr.NewGlobal(walkerr.ConfigurationError, "find-widest-region recovery requires a positive StepSize")
	}

	type sample struct {
		pos float64
		ok  bool
	}
	var samples []sample
	for pos := low; pos <= high; pos += cfg.StepSize {
		if err := coord.SetMotor(ctx, cfg.Motor, pos); err != nil {
			return false, err
		}
		val, err := cfg.readSignal(ctx, coord)
		if err != nil {
			return false, err
		}
		samples = append(samples, sample{pos: pos, ok: cfg.condition(val)})
	}

	bestStart, bestLen, runStart, runLen := -1, 0, -1, 0
	for i, s := range samples {
		if s.ok {
			if runStart < 0 {
				runStart = i
			}
			runLen++
			if runLen > bestLen {
				bestLen, bestStart = runLen, runStart
			}
		} else {
			runStart, runLen = -1, 0
		}
	}

	if bestStart < 0 {
		return false, nil
	}
	mid := (samples[bestStart].pos + samples[bestStart+bestLen-1].pos) / 2
	if err := coord.SetMotor(ctx, cfg.Motor, mid); err != nil {
		return false, err
	}
	return true, nil
}

// timeNow returns time.Now(); the threshold scans read the clock only
// through it.
func timeNow() time.Time { return time.Now() }
