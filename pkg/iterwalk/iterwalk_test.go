package iterwalk_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctrl/walker/internal/testutil"
	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/iterwalk"
	"github.com/beamctrl/walker/pkg/logging"
	"github.com/beamctrl/walker/pkg/measure"
	"github.com/beamctrl/walker/pkg/recovery"
)

// Scenario 1: two independent pairs, exact gradients supplied.
func TestRun_TwoPairsExactGradients(t *testing.T) {
	m0 := testutil.NewMotor("m0", 0)
	m1 := testutil.NewMotor("m1", 0)
	det0 := testutil.NewDetector("yag0", testutil.LinearCentroid("centroid_x", m0, -8000, 1_920_240, 0))
	det1 := testutil.NewDetector("yag1", testutil.LinearCentroid("centroid_x", m1, 64000, 10_240, 0))
	coord := testutil.NewCoordinator()

	g0, g1 := -8000.0, 64000.0
	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:  []iterwalk.Imager{det0, det1},
		Motors:     []device.Movable{m0, m1},
		Goals:      []float64{240, 240},
		Gradients:  []*float64{&g0, &g1},
		Tolerances: []float64{5, 5},
		Averages:   []int{1, 1},
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, res.AllFinished())
	assert.LessOrEqual(t, m0.Moves+m1.Moves, 4)
}

// Scenario 2: with tol_scaling set, the walk runs at the scaled tolerance
// max(|c-g|/2, 5), and the run still converges to within the fixed tolerance.
func TestRun_AdaptiveToleranceConverges(t *testing.T) {
	m0 := testutil.NewMotor("m0", 0)
	det0 := testutil.NewDetector("yag0", testutil.LinearCentroid("centroid_x", m0, -8000, 1_920_240, 0))
	coord := testutil.NewCoordinator()

	scaling := 2.0
	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:  []iterwalk.Imager{det0},
		Motors:     []device.Movable{m0},
		Goals:      []float64{240},
		FirstSteps: []float64{1},
		Tolerances: []float64{5},
		Averages:   []int{1},
		TolScaling: []*float64{&scaling},
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, res.AllFinished())
	assert.InDelta(t, 240, res.DonePositions[0], 5)
}

// Scenario 3: FilterCount on pair 1's first measurement; recovery succeeds.
func TestRun_FilterCountPreWalkRecovers(t *testing.T) {
	m0 := testutil.NewMotor("m0", 10)
	m1 := testutil.NewMotor("m1", 50)

	det0 := testutil.NewDetector("yag0", testutil.LinearCentroid("centroid_x", m0, 1, 0, 0))

	calls := 0
	det1 := testutil.NewDetector("yag1", func() map[string]float64 {
		calls++
		if calls == 1 {
			return map[string]float64{"centroid_x": math.NaN()}
		}
		return map[string]float64{"centroid_x": m1.Pos}
	})

	coord := testutil.NewCoordinator()
	recovered := false
	builder := recovery.Builder(func(d device.Readable, field string, motor device.Movable) recovery.Plan {
		return func(ctx context.Context, c command.Coordinator) (bool, error) {
			recovered = true
			return true, nil
		}
	})

	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:  []iterwalk.Imager{det0, det1},
		Motors:     []device.Movable{m0, m1},
		Goals:      []float64{10, 50},
		Tolerances: []float64{5, 5},
		Averages:   []int{1, 1},
		Filters: []measure.FilterSet{
			{},
			{"yag1_centroid_x": func(float64) bool { return true }},
		},
		DropMissing:  true,
		RecoveryPlan: builder,
		Logger:       logging.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Equal(t, 1, res.Recoveries)
	assert.True(t, res.AllFinished())
}

// Scenario 4: FilterCount mid-walk on pair 0; no recovery plan invoked.
func TestRun_FilterCountDuringWalkHalvesStep(t *testing.T) {
	m0 := testutil.NewMotor("m0", 100)
	det0 := testutil.NewDetector("yag0", func() map[string]float64 {
		if m0.Moves == 2 {
			return map[string]float64{"centroid_x": math.NaN()}
		}
		return map[string]float64{"centroid_x": 3 * m0.Pos}
	})
	coord := testutil.NewCoordinator()

	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:  []iterwalk.Imager{det0},
		Motors:     []device.Movable{m0},
		Goals:      []float64{240},
		FirstSteps: []float64{1},
		Tolerances: []float64{1},
		Averages:   []int{1},
		Filters: []measure.FilterSet{
			{"yag0_centroid_x": func(float64) bool { return true }},
		},
		DropMissing: true,
		Logger:      logging.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recoveries)
	assert.True(t, res.AllFinished())
	assert.InDelta(t, 240, res.DonePositions[0], 1)
}

// Scenario 5: an underdetermined system (both motors move both detectors
// identically) never converges; max_walks bounds the run without a fatal
// error.
func TestRun_MaxWalksExceeded(t *testing.T) {
	m0 := testutil.NewMotor("m0", 0)
	m1 := testutil.NewMotor("m1", 0)
	det0 := testutil.NewDetector("yag0", testutil.TwoPitchCentroid("y", m0, m1, 1, 1, 0, 0))
	det1 := testutil.NewDetector("yag1", testutil.TwoPitchCentroid("y", m0, m1, 1, 1, 0, 0))
	coord := testutil.NewCoordinator()

	g0, g1 := 1.0, 1.0
	maxWalks := 3
	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:      []iterwalk.Imager{det0, det1},
		Motors:         []device.Movable{m0, m1},
		Goals:          []float64{100, 200},
		Gradients:      []*float64{&g0, &g1},
		DetectorFields: []string{"y", "y"},
		Tolerances:     []float64{5, 5},
		Averages:       []int{1, 1},
		MaxWalks:       &maxWalks,
		Logger:         logging.Nop(),
	})
	require.NoError(t, err)
	assert.False(t, res.AllFinished())
}

// Scenario 6: pre-walk measurement already within tolerance; no motor move.
func TestRun_AlreadyWithinToleranceNoMove(t *testing.T) {
	m0 := testutil.NewMotor("m0", 10)
	det0 := testutil.NewDetector("yag0", testutil.LinearCentroid("centroid_x", m0, 1, 0, 0))
	coord := testutil.NewCoordinator()

	res, err := iterwalk.Run(context.Background(), coord, iterwalk.Config{
		Detectors:  []iterwalk.Imager{det0},
		Motors:     []device.Movable{m0},
		Goals:      []float64{10},
		Tolerances: []float64{1},
		Averages:   []int{1},
		Logger:     logging.Nop(),
	})
	require.NoError(t, err)
	assert.True(t, res.AllFinished())
	assert.Equal(t, 0, m0.Moves)
	// One StartDoc plus one EventDoc from the single pre-walk measurement.
	assert.Len(t, coord.Saved, 2)
	_, isStart := coord.Saved[0].(command.StartDoc)
	assert.True(t, isStart)
}
