package recovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctrl/walker/internal/testutil"
	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/recovery"
)

func TestBranch_SuccessLeavesMotorAlone(t *testing.T) {
	motor := testutil.NewMotor("m0", 42)
	coord := testutil.NewCoordinator()

	succeed := recovery.Plan(func(ctx context.Context, c command.Coordinator) (bool, error) {
		return true, nil
	})
	ok, err := recovery.Branch(context.Background(), coord, succeed, motor, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42.0, motor.Pos)
}

func TestBranch_FailureCommandsFallback(t *testing.T) {
	motor := testutil.NewMotor("m0", 42)
	coord := testutil.NewCoordinator()

	fail := recovery.Plan(func(ctx context.Context, c command.Coordinator) (bool, error) {
		return false, nil
	})
	ok, err := recovery.Branch(context.Background(), coord, fail, motor, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0.0, motor.Pos)
}

func TestThresholdPlan_StopOnMatch(t *testing.T) {
	motor := testutil.NewMotor("m0", 0)
	low, high := -10.0, 10.0
	motor.Low, motor.High = &low, &high
	det := testutil.NewDetector("diode", testutil.LinearCentroid("intensity", motor, 1, 0, 0))
	coord := testutil.NewCoordinator()

	builder := recovery.NewThresholdBuilder(5, 1, true, true, 1, 0, 0, false)
	plan := builder(det, "intensity", motor)

	ok, err := plan(context.Background(), coord)
	require.NoError(t, err)
	assert.True(t, ok)
	pos, _ := motor.Position(context.Background())
	assert.GreaterOrEqual(t, pos, 5.0)
}

func TestThresholdPlan_FindWidestRegion(t *testing.T) {
	motor := testutil.NewMotor("m0", 0)
	low, high := 0.0, 10.0
	motor.Low, motor.High = &low, &high
	det := testutil.NewDetector("diode", func() map[string]float64 {
		pos, _ := motor.Position(context.Background())
		if pos >= 3 && pos <= 7 {
			return map[string]float64{"intensity": 10}
		}
		return map[string]float64{"intensity": 0}
	})
	coord := testutil.NewCoordinator()

	builder := recovery.NewThresholdBuilder(5, 1, true, false, 1, 0, 0, false)
	plan := builder(det, "intensity", motor)

	ok, err := plan(context.Background(), coord)
	require.NoError(t, err)
	assert.True(t, ok)
	pos, _ := motor.Position(context.Background())
	assert.InDelta(t, 5, pos, 1.0)
}

func TestThresholdPlan_NoMatchReturnsFalse(t *testing.T) {
	motor := testutil.NewMotor("m0", 0)
	low, high := -10.0, 10.0
	motor.Low, motor.High = &low, &high
	det := testutil.NewDetector("diode", testutil.LinearCentroid("intensity", motor, 0, 0, 0))
	coord := testutil.NewCoordinator()

	builder := recovery.NewThresholdBuilder(5, 1, true, true, 1, 0, 0, true)
	plan := builder(det, "intensity", motor)

	ok, err := plan(context.Background(), coord)
	require.NoError(t, err)
	assert.False(t, ok)
}
