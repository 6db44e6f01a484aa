package measure_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctrl/walker/internal/testutil"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/measure"
	"github.com/beamctrl/walker/pkg/walkerr"
)

func TestAverage_AllPassing(t *testing.T) {
	motor := testutil.NewMotor("m1", 10)
	det := testutil.NewDetector("yag1", testutil.LinearCentroid("centroid_x", motor, 2, 5, 0))
	coord := testutil.NewCoordinator()

	result, err := measure.Average(context.Background(), coord, measure.Config{
		Sources: []device.Readable{det},
		Fields:  []string{"yag1_centroid_x"},
		N:       5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 25.0, result["yag1_centroid_x"], 1e-9)
	assert.Len(t, coord.Saved, 5)
}

func TestAverage_FilterCountError(t *testing.T) {
	motor := testutil.NewMotor("m1", 10)
	det := testutil.NewDetector("yag1", testutil.LinearCentroid("centroid_x", motor, 2, 5, 0))
	coord := testutil.NewCoordinator()

	_, err := measure.Average(context.Background(), coord, measure.Config{
		Sources:     []device.Readable{det},
		Fields:      []string{"yag1_centroid_x"},
		N:           5,
		DropMissing: true,
		Filters: measure.FilterSet{
			"yag1_centroid_x": func(v float64) bool { return false },
		},
	})
	require.Error(t, err)
	var f *walkerr.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, walkerr.FilterCount, f.Kind)
}

func TestAverage_DropMissingFalsePassesThrough(t *testing.T) {
	motor := testutil.NewMotor("m1", 10)
	det := testutil.NewDetector("yag1", testutil.LinearCentroid("centroid_x", motor, 2, 5, 0))
	det.Inserted = "OUT"
	coord := testutil.NewCoordinator()

	result, err := measure.Average(context.Background(), coord, measure.Config{
		Sources:     []device.Readable{det},
		Fields:      []string{"yag1_centroid_x"},
		N:           3,
		DropMissing: false,
	})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(result["yag1_centroid_x"]))
}

func TestAverage_SliceDelayExhaustedIsConfigurationError(t *testing.T) {
	motor := testutil.NewMotor("m1", 10)
	det := testutil.NewDetector("yag1", testutil.LinearCentroid("centroid_x", motor, 2, 5, 0))
	coord := testutil.NewCoordinator()

	// N=3 needs 2 interstep delays, but the schedule supplies only one.
	_, err := measure.Average(context.Background(), coord, measure.Config{
		Sources: []device.Readable{det},
		Fields:  []string{"yag1_centroid_x"},
		N:       3,
		Delay:   measure.SliceDelay{0},
	})
	require.Error(t, err)
	var f *walkerr.Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, walkerr.ConfigurationError, f.Kind)
}

func TestAverage_MedianRejectsOutlier(t *testing.T) {
	calls := 0
	vals := []float64{10, 10, 10, 1000, 10}
	det := testutil.NewDetector("yag1", func() map[string]float64 {
		v := vals[calls%len(vals)]
		calls++
		return map[string]float64{"centroid_x": v}
	})
	coord := testutil.NewCoordinator()

	result, err := measure.Average(context.Background(), coord, measure.Config{
		Sources: []device.Readable{det},
		Fields:  []string{"yag1_centroid_x"},
		N:       5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, result["yag1_centroid_x"], 1e-9)
}
