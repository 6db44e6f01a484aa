// Package testutil provides noisy-linear-instrument fakes for exercising
// measure, fit, walk, iterwalk, and recovery without real device I/O. It is
// grounded on pswalker's examples.py — the Source/Mover simulation that
// reports a motor readback plus per-field transforms with uniform additive
// noise — translated into Go device.Readable/device.Movable/device.Insertable
// implementations and a synchronous in-process command.Coordinator. This is
// test infrastructure only, never a shipped simulation feature.
package testutil

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
)

// Motor is a fake device.Movable with optional travel limits and a settable
// failure for the next Set call.
type Motor struct {
	NameStr string
	Pos     float64
	Nominal *float64
	Low     *float64
	High    *float64
	SetErr  error
	Moves   int
}

func NewMotor(name string, start float64) *Motor { return &Motor{NameStr: name, Pos: start} }

func (m *Motor) Name() string { return m.NameStr }

func (m *Motor) Position(ctx context.Context) (float64, error) { return m.Pos, nil }

func (m *Motor) NominalPosition(ctx context.Context) (float64, bool) {
	if m.Nominal == nil {
		return 0, false
	}
	return *m.Nominal, true
}

func (m *Motor) Set(ctx context.Context, target float64) error {
	if m.SetErr != nil {
		err := m.SetErr
		m.SetErr = nil
		return err
	}
	if m.Low != nil && target < *m.Low {
		target = *m.Low
	}
	if m.High != nil && target > *m.High {
		target = *m.High
	}
	m.Pos = target
	m.Moves++
	return nil
}

func (m *Motor) Limits(ctx context.Context) (float64, float64, bool) {
	if m.Low == nil || m.High == nil {
		return 0, 0, false
	}
	return *m.Low, *m.High, true
}

func (m *Motor) Stop(ctx context.Context) error { return nil }

// Detector is a fake device.Readable whose fields are computed on demand,
// and a fake device.Insertable gating whether readings are meaningful: when
// not IN, fields report NaN so filters (with DropMissing) reject them, per
// spec.md §3's "a detector reports valid samples only when IN" invariant.
type Detector struct {
	NameStr  string
	Inserted device.InsertState
	Compute  func() map[string]float64
	TrigErr  error
}

func NewDetector(name string, compute func() map[string]float64) *Detector {
	return &Detector{NameStr: name, Inserted: device.In, Compute: compute}
}

func (d *Detector) Name() string { return d.NameStr }

func (d *Detector) Trigger(ctx context.Context) error { return d.TrigErr }

func (d *Detector) Read(ctx context.Context) (device.Sample, error) {
	s := make(device.Sample)
	if d.Inserted != device.In {
		for field := range d.Compute() {
			s[field] = device.Field{Value: math.NaN()}
		}
		return s, nil
	}
	for field, v := range d.Compute() {
		s[field] = device.Field{Value: v}
	}
	return s, nil
}

func (d *Detector) Describe(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for field := range d.Compute() {
		out[field] = "number"
	}
	return out, nil
}

func (d *Detector) SetState(ctx context.Context, state device.InsertState) error {
	d.Inserted = state
	return nil
}

func (d *Detector) State(ctx context.Context) (device.InsertState, error) { return d.Inserted, nil }

// LinearCentroid builds a Compute func reporting field = gradient*(motor's
// position) + offset + uniform noise in [-noise, noise], the way
// examples.py's Mover adds np.random.uniform(-1, 1)*noise to a readback.
func LinearCentroid(field string, motor *Motor, gradient, offset, noise float64) func() map[string]float64 {
	return func() map[string]float64 {
		n := 0.0
		if noise > 0 {
			n = (rand.Float64()*2 - 1) * noise
		}
		return map[string]float64{field: gradient*motor.Pos + offset + n}
	}
}

// TwoPitchCentroid sums the contribution of two motors, grounding the
// two-bounce optics relationship from examples.py's one_bounce/two_bounce.
func TwoPitchCentroid(field string, m0, m1 *Motor, g0, g1, offset, noise float64) func() map[string]float64 {
	return func() map[string]float64 {
		n := 0.0
		if noise > 0 {
			n = (rand.Float64()*2 - 1) * noise
		}
		return map[string]float64{field: offset + g0*m0.Pos + g1*m1.Pos + n}
	}
}

// Coordinator is a synchronous, in-process command.Coordinator: every
// operation completes immediately, which is sufficient for exercising the
// control-loop logic without a real transport. Saved documents are kept for
// assertions.
type Coordinator struct {
	Saved      []any
	SleepCalls int
}

func NewCoordinator() *Coordinator { return &Coordinator{} }

func (c *Coordinator) TriggerAndRead(ctx context.Context, sources []device.Readable) (device.Sample, error) {
	merged := make(device.Sample)
	for _, s := range sources {
		if err := s.Trigger(ctx); err != nil {
			return nil, err
		}
	}
	for _, s := range sources {
		sample, err := s.Read(ctx)
		if err != nil {
			return nil, err
		}
		for field, v := range sample {
			merged[s.Name()+"_"+field] = v
		}
	}
	return merged, nil
}

func (c *Coordinator) SetGrouped(ctx context.Context, group string, motor device.Movable, target float64) error {
	return motor.Set(ctx, target)
}

func (c *Coordinator) SetInsertGrouped(ctx context.Context, group string, ins device.Insertable, state device.InsertState) error {
	return ins.SetState(ctx, state)
}

func (c *Coordinator) WaitGroup(ctx context.Context, group string) error { return nil }

func (c *Coordinator) SetMotor(ctx context.Context, motor device.Movable, target float64) error {
	return motor.Set(ctx, target)
}

func (c *Coordinator) SetInsert(ctx context.Context, ins device.Insertable, state device.InsertState) error {
	return ins.SetState(ctx, state)
}

func (c *Coordinator) Sleep(ctx context.Context, d time.Duration) error {
	c.SleepCalls++
	return nil
}

func (c *Coordinator) Save(ctx context.Context, doc any) error {
	c.Saved = append(c.Saved, doc)
	return nil
}

func (c *Coordinator) Checkpoint(ctx context.Context) {}

var (
	_ command.Coordinator = (*Coordinator)(nil)
	_ device.Movable      = (*Motor)(nil)
	_ device.Readable     = (*Detector)(nil)
	_ device.Insertable   = (*Detector)(nil)
)
