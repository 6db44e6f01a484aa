package command

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beamctrl/walker/pkg/device"
)

// MotorTarget pairs a motor with the position it should be driven to as
// part of a parallel group move.
type MotorTarget struct {
	Motor  device.Movable
	Target float64
}

// AbsSetGroup issues a move to every target under a single group token and
// waits for all of them to complete, mirroring iterwalk.py's pre-step
// parallel abs_set over a uuid.uuid4() group. Coordinators that don't need
// the token for dedup are free to implement WaitGroup as a no-op and do the
// actual fan-out here with errgroup instead; this helper only needs
// Coordinator.SetGrouped / WaitGroup to exist for coordinators that do.
func AbsSetGroup(ctx context.Context, coord Coordinator, targets []MotorTarget) error {
	if len(targets) == 0 {
		return nil
	}
	group := uuid.NewString()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			return coord.SetGrouped(ctx, group, t.Motor, t.Target)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return coord.WaitGroup(ctx, group)
}

// InsertTarget pairs an insertable device with the state it should be
// driven to as part of a parallel group move.
type InsertTarget struct {
	Insertable device.Insertable
	State      device.InsertState
}

// AbsSetInsertGroup is AbsSetGroup's counterpart for imager insertion state,
// grounded on plan_stubs.prep_img_motors's waited group of abs_set("IN"/"OUT")
// calls for the imagers that must be in position before triggering.
func AbsSetInsertGroup(ctx context.Context, coord Coordinator, targets []InsertTarget) error {
	if len(targets) == 0 {
		return nil
	}
	group := uuid.NewString()

	g, ctx := errgroup.WithContext(ctx)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			return coord.SetInsertGrouped(ctx, group, t.Insertable, t.State)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return coord.WaitGroup(ctx, group)
}
