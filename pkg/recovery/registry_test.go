package recovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctrl/walker/internal/testutil"
	"github.com/beamctrl/walker/pkg/recovery"
)

func TestRegistry_BuildThreshold(t *testing.T) {
	reg := recovery.NewRegistry()
	require.NoError(t, reg.Register("threshold", func(params map[string]any) (recovery.Builder, error) {
		return recovery.NewThresholdBuilder(params["threshold"].(float64), 1, true, true, 1, 0, 0, false), nil
	}))

	builder, err := reg.Build("threshold", map[string]any{"threshold": 5.0})
	require.NoError(t, err)

	motor := testutil.NewMotor("m0", 0)
	low, high := -10.0, 10.0
	motor.Low, motor.High = &low, &high
	det := testutil.NewDetector("diode", testutil.LinearCentroid("intensity", motor, 1, 0, 0))
	coord := testutil.NewCoordinator()

	plan := builder(det, "intensity", motor)
	ok, err := plan(context.Background(), coord)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_BuildUnknownPlan(t *testing.T) {
	reg := recovery.NewRegistry()
	_, err := reg.Build("nope", nil)
	assert.ErrorIs(t, err, recovery.ErrNotFound)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := recovery.NewRegistry()
	factory := func(map[string]any) (recovery.Builder, error) { return nil, nil }
	require.NoError(t, reg.Register("x", factory))
	assert.ErrorIs(t, reg.Register("x", factory), recovery.ErrExists)
}

func TestDefaultRegistry_ThresholdFactory(t *testing.T) {
	builder, err := recovery.Default.Build("threshold", map[string]any{
		"threshold": 5.0,
		"step_size": 1.0,
	})
	require.NoError(t, err)
	assert.NotNil(t, builder)
}

func TestDefaultRegistry_ThresholdFactoryMissingThreshold(t *testing.T) {
	_, err := recovery.Default.Build("threshold", map[string]any{})
	assert.Error(t, err)
}
