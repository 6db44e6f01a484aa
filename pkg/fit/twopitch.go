package fit

import (
	"errors"

	"gonum.org/v1/gonum/mat"

	"github.com/beamctrl/walker/pkg/walkerr"
)

// TwoPitchFit models y = x0 + a0*x1 + a1*x2: a baseline field x0 (e.g. an
// upstream centroid) plus two pitch contributions with fitted coefficients
// a0, a1. Grounded on callbacks.py's MultiPitchFit two-bounce model; its
// Backsolve requires exactly one of {a0, a1}'s variable pinned to a known
// value, solving for the other.
type TwoPitchFit struct {
	x0Field, x1Field, x2Field, yField string
	average                           int

	x0s, x1s, x2s, ys           []float64
	x0Avg, x1Avg, x2Avg, yAvg   []float64

	a0, a1 float64
	fitted bool
}

func NewTwoPitchFit(x0Field, x1Field, x2Field, yField string, average int) *TwoPitchFit {
	if average < 1 {
		average = 1
	}
	return &TwoPitchFit{x0Field: x0Field, x1Field: x1Field, x2Field: x2Field, yField: yField, average: average}
}

// Event ingests one (x0, x1, x2, y) observation with the same averaging
// semantics as LinearFit.Event.
func (f *TwoPitchFit) Event(x0, x1, x2, y float64) {
	f.x0Avg = append(f.x0Avg, x0)
	f.x1Avg = append(f.x1Avg, x1)
	f.x2Avg = append(f.x2Avg, x2)
	f.yAvg = append(f.yAvg, y)
	if len(f.yAvg) < f.average {
		return
	}
	f.x0s = append(f.x0s, mean(f.x0Avg))
	f.x1s = append(f.x1s, mean(f.x1Avg))
	f.x2s = append(f.x2s, mean(f.x2Avg))
	f.ys = append(f.ys, mean(f.yAvg))
	f.x0Avg, f.x1Avg, f.x2Avg, f.yAvg = f.x0Avg[:0], f.x1Avg[:0], f.x2Avg[:0], f.yAvg[:0]
	f.recompute()
}

func (f *TwoPitchFit) recompute() {
	n := len(f.ys)
	if n < 2 {
		f.fitted = false
		return
	}
	design := mat.NewDense(n, 2, nil)
	target := mat.NewVecDense(n, nil)
	for i := range f.ys {
		design.Set(i, 0, f.x1s[i])
		design.Set(i, 1, f.x2s[i])
		target.SetVec(i, f.ys[i]-f.x0s[i])
	}
	var coeffs mat.VecDense
	if err := coeffs.SolveVec(design, target); err != nil {
		f.fitted = false
		return
	}
	f.a0, f.a1 = coeffs.AtVec(0), coeffs.AtVec(1)
	f.fitted = true
}

func (f *TwoPitchFit) Fitted() bool    { return f.fitted }
func (f *TwoPitchFit) A0() float64     { return f.a0 }
func (f *TwoPitchFit) A1() float64     { return f.a1 }

// Eval evaluates y = x0 + a0*x1 + a1*x2.
func (f *TwoPitchFit) Eval(x0, x1, x2 float64) (float64, error) {
	if !f.fitted {
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "no fit yet: fewer than 2 samples")
	}
	return x0 + f.a0*x1 + f.a1*x2, nil
}

// ErrBothPinned / ErrNeitherPinned report TwoPitchFit.Backsolve misuse:
// exactly one of x1, x2 must be pinned (non-nil) and the other nil (solved
// for).
var (
	ErrBothPinned    = errors.New("twopitch backsolve: both x1 and x2 pinned, nothing to solve for")
	ErrNeitherPinned = errors.New("twopitch backsolve: neither x1 nor x2 pinned, underdetermined")
)

// Backsolve returns the unpinned variable's value needed to reach target,
// given x0 and exactly one of x1/x2 pinned.
func (f *TwoPitchFit) Backsolve(x0 float64, x1, x2 *float64, target float64) (float64, error) {
	if !f.fitted {
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "no fit yet: fewer than 2 samples")
	}
	if x1 != nil && x2 != nil {
		return 0, ErrBothPinned
	}
	if x1 == nil && x2 == nil {
		return 0, ErrNeitherPinned
	}
	remainder := target - x0
	if x1 != nil {
		if f.a1 == 0 {
			return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "a1 is zero, cannot solve for x2")
		}
		return (remainder - f.a0*(*x1)) / f.a1, nil
	}
	if f.a0 == 0 {
		return 0, walkerr.NewGlobal(walkerr.BacksolveUndefined, "a0 is zero, cannot solve for x1")
	}
	return (remainder - f.a1*(*x2)) / f.a0, nil
}

func (f *TwoPitchFit) Reset() {
	f.x0s, f.x1s, f.x2s, f.ys = nil, nil, nil, nil
	f.x0Avg, f.x1Avg, f.x2Avg, f.yAvg = f.x0Avg[:0], f.x1Avg[:0], f.x2Avg[:0], f.yAvg[:0]
	f.a0, f.a1 = 0, 0
	f.fitted = false
}
