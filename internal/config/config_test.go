package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamctrl/walker/internal/config"
)

func writeAndLoad(t *testing.T, name, contents string) config.Run {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	run, err := config.Load(path)
	require.NoError(t, err)
	return run
}

func TestLoad_YAML(t *testing.T) {
	run := writeAndLoad(t, "run.yaml", `
detectors: [yag1, yag2]
motors: [m1h, m2h]
goals: [240, 240]
tolerances: [5, 5]
overshoot: 0.1
max_walks: 10
recovery_plan:
  name: threshold
  params:
    threshold: 5
`)

	assert.Equal(t, []string{"yag1", "yag2"}, run.Detectors)
	assert.Equal(t, []string{"m1h", "m2h"}, run.Motors)
	assert.Equal(t, []float64{240, 240}, run.Goals)
	assert.Equal(t, []float64{5, 5}, run.Tolerances)
	assert.InDelta(t, 0.1, run.Overshoot, 1e-9)
	require.NotNil(t, run.MaxWalks)
	assert.Equal(t, 10, *run.MaxWalks)
	require.NotNil(t, run.RecoveryPlan)
	assert.Equal(t, "threshold", run.RecoveryPlan.Name)
	assert.Equal(t, 5, run.RecoveryPlan.Params["threshold"])
}

func TestLoad_JSON(t *testing.T) {
	run := writeAndLoad(t, "run.json", `{
		"detectors": ["yag1"],
		"motors": ["m1h"],
		"goals": [240]
	}`)
	assert.Equal(t, []string{"yag1"}, run.Detectors)
	assert.Equal(t, []string{"m1h"}, run.Motors)
	assert.Equal(t, []float64{240}, run.Goals)
}

func TestLoad_UnrecognizedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o644))
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	n := 7
	want := config.Run{
		Detectors:  []string{"yag1"},
		Motors:     []string{"m1h"},
		Goals:      []float64{240},
		Tolerances: []float64{5},
		MaxWalks:   &n,
	}
	require.NoError(t, config.Save(path, want))

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, want.Detectors, got.Detectors)
	assert.Equal(t, want.Motors, got.Motors)
	assert.Equal(t, want.Goals, got.Goals)
	assert.Equal(t, want.Tolerances, got.Tolerances)
	require.NotNil(t, got.MaxWalks)
	assert.Equal(t, *want.MaxWalks, *got.MaxWalks)
}
