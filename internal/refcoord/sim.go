package refcoord

import (
	"context"
	"math"
	"math/rand"

	"github.com/beamctrl/walker/pkg/device"
)

// SimMotor is a runnable simulated motor for cmd/beamwalk when no real
// transport is configured: a linear actuator with optional travel limits,
// grounded on the same readback-equals-commanded-position model as
// pswalker's examples.py Mover, but kept in refcoord rather than
// internal/testutil since it backs a demo command, not a unit test.
type SimMotor struct {
	NameStr string
	Pos     float64
	Nominal *float64
	Low     *float64
	High    *float64
}

func NewSimMotor(name string, start float64) *SimMotor { return &SimMotor{NameStr: name, Pos: start} }

func (m *SimMotor) Name() string { return m.NameStr }

func (m *SimMotor) Position(ctx context.Context) (float64, error) { return m.Pos, nil }

func (m *SimMotor) NominalPosition(ctx context.Context) (float64, bool) {
	if m.Nominal == nil {
		return 0, false
	}
	return *m.Nominal, true
}

func (m *SimMotor) Set(ctx context.Context, target float64) error {
	if m.Low != nil && target < *m.Low {
		target = *m.Low
	}
	if m.High != nil && target > *m.High {
		target = *m.High
	}
	m.Pos = target
	return nil
}

func (m *SimMotor) Limits(ctx context.Context) (float64, float64, bool) {
	if m.Low == nil || m.High == nil {
		return 0, 0, false
	}
	return *m.Low, *m.High, true
}

func (m *SimMotor) Stop(ctx context.Context) error { return nil }

// SimDetector is a runnable simulated imager: its field is a linear function
// of one or two motors' positions plus uniform noise, and it reports NaN
// while not inserted, the same convention internal/testutil uses so Filters
// reject readings taken through a retracted imager.
type SimDetector struct {
	NameStr  string
	Field    string
	Inserted device.InsertState
	Compute  func() float64
}

// NewSimDetector builds a one-field SimDetector reading field = gradient*
// motor.Pos + offset + uniform noise in [-noise, noise].
func NewSimDetector(name, field string, motor *SimMotor, gradient, offset, noise float64) *SimDetector {
	return &SimDetector{
		NameStr:  name,
		Field:    field,
		Inserted: device.In,
		Compute: func() float64 {
			n := 0.0
			if noise > 0 {
				n = (rand.Float64()*2 - 1) * noise
			}
			return gradient*motor.Pos + offset + n
		},
	}
}

func (d *SimDetector) Name() string { return d.NameStr }

func (d *SimDetector) Trigger(ctx context.Context) error { return nil }

func (d *SimDetector) Read(ctx context.Context) (device.Sample, error) {
	if d.Inserted != device.In {
		return device.Sample{d.Field: {Value: math.NaN()}}, nil
	}
	return device.Sample{d.Field: {Value: d.Compute()}}, nil
}

func (d *SimDetector) Describe(ctx context.Context) (map[string]string, error) {
	return map[string]string{d.Field: "number"}, nil
}

func (d *SimDetector) SetState(ctx context.Context, state device.InsertState) error {
	d.Inserted = state
	return nil
}

func (d *SimDetector) State(ctx context.Context) (device.InsertState, error) { return d.Inserted, nil }

var (
	_ device.Movable    = (*SimMotor)(nil)
	_ device.Readable   = (*SimDetector)(nil)
	_ device.Insertable = (*SimDetector)(nil)
)
