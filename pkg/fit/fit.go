// Package fit maintains the online linear models IterWalk and WalkToPixel
// use to relate a motor's pitch to a detector's centroid. Grounded on
// pswalker's callbacks.py: LiveBuild's averaging-then-refit event loop and
// LinearFit's single-variable OLS wrapper, with eval/backsolve matching the
// Python implementation's signatures and failure modes. OLS itself is
// gonum.org/v1/gonum/stat's closed-form LinearRegression/Correlation rather
// than a hand-rolled solver, per spec.md §9's "OLS is closed form."
package fit

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/beamctrl/walker/pkg/walkerr"
)

// CorrelationThreshold is the |r| floor below which a fit is considered
// degenerate and callers should reseed rather than trust its slope.
const CorrelationThreshold = 0.5

// LinearFit maintains y = slope*x + intercept over one independent field x
// and one dependent field y, with event-group averaging the way
// callbacks.LiveBuild averages every `average` consecutive events into one
// point before refitting.
type LinearFit struct {
	xField, yField string
	average        int

	xs, ys []float64
	xAvg   []float64 // pending samples for the in-progress average window
	yAvg   []float64

	slope, intercept, absR float64
	fitted                 bool
}

// NewLinearFit builds a fit with the given averaging window (1 disables
// averaging: every event becomes a point).
func NewLinearFit(xField, yField string, average int) *LinearFit {
	if average < 1 {
		average = 1
	}
	return &LinearFit{xField: xField, yField: yField, average: average}
}

// Event ingests one (x, y) observation. When the averaging window fills,
// the arithmetic mean of the last `average` samples is appended as one
// compressed point and the fit is recomputed from the full buffer — an O(n)
// recompute rather than an incremental running-sum update, so that Reset
// (correlation collapse) and normal appends share one code path.
func (f *LinearFit) Event(x, y float64) {
	f.xAvg = append(f.xAvg, x)
	f.yAvg = append(f.yAvg, y)
	if len(f.xAvg) < f.average {
		return
	}
	f.xs = append(f.xs, mean(f.xAvg))
	f.ys = append(f.ys, mean(f.yAvg))
	f.xAvg = f.xAvg[:0]
	f.yAvg = f.yAvg[:0]
	f.recompute()
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (f *LinearFit) recompute() {
	if !distinctX(f.xs) {
		f.fitted = false
		return
	}
	f.intercept, f.slope = stat.LinearRegression(f.xs, f.ys, nil, false)
	f.absR = absFloat(stat.Correlation(f.xs, f.ys, nil))
	f.fitted = true
}

func distinctX(xs []float64) bool {
	if len(xs) < 2 {
		return false
	}
	first := xs[0]
	for _, x := range xs[1:] {
		if x != first {
			return true
		}
	}
	return false
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Fitted reports whether at least two distinct-x samples have been
// ingested, i.e. whether Eval/Backsolve/Slope/Correlation are meaningful.
func (f *LinearFit) Fitted() bool { return f.fitted }

// Slope returns the current fitted slope (zero value if not Fitted).
func (f *LinearFit) Slope() float64 { return f.slope }

// Intercept returns the current fitted intercept (zero value if not Fitted).
func (f *LinearFit) Intercept() float64 { return f.intercept }

// Correlation returns |r| for the current fit (zero value if not Fitted).
func (f *LinearFit) Correlation() float64 { return f.absR }

// Eval evaluates y = slope*x + intercept at x.
func (f *LinearFit) Eval(x float64) (float64, error) {
	if !f.fitted {
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "no fit yet: fewer than 2 distinct-x samples")
	}
	return f.slope*x + f.intercept, nil
}

// Backsolve returns x* such that Eval(x*) == target. Undefined when the
// model is flat (slope == 0) and the line doesn't already pass through the
// target, matching callbacks.LinearFit.backsolve's ValueError.
func (f *LinearFit) Backsolve(target float64) (float64, error) {
	if !f.fitted {
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "no fit yet: fewer than 2 distinct-x samples")
	}
	if f.slope == 0 {
		if f.intercept == target {
			return 0, nil
		}
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined,
			fmt.Sprintf("flat model (intercept=%.6g) cannot reach target=%.6g", f.intercept, target))
	}
	return (target - f.intercept) / f.slope, nil
}

// Reset discards all accumulated samples, the way WalkToPixel's correlation
// collapse branch drops the stored points.
func (f *LinearFit) Reset() {
	f.xs = nil
	f.ys = nil
	f.xAvg = f.xAvg[:0]
	f.yAvg = f.yAvg[:0]
	f.slope, f.intercept, f.absR = 0, 0, 0
	f.fitted = false
}
