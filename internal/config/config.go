// Package config loads and saves a run's configuration surface (detectors,
// motors, goals, and the rest of iterwalk.Config's listified parameters) as
// YAML or JSON, detected from the file extension. Grounded structurally on
// the teacher's cmd/spectrometer/internal/config Loader/Saver: extension
// dispatch plus slog debug logging at each step. The protobuf branch that
// package also had is dropped — this module has no generated proto schema
// for a run's configuration, and YAML/JSON cover every shape iterwalk.Config
// needs (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Run is the on-disk shape of a run's configuration: everything in
// iterwalk.Config that is plain data (device instances themselves are wired
// up by cmd/beamwalk, not described here).
type Run struct {
	Detectors []string `yaml:"detectors" json:"detectors"`
	Motors    []string `yaml:"motors" json:"motors"`
	Goals     []float64 `yaml:"goals" json:"goals"`

	Starts         []*float64 `yaml:"starts,omitempty" json:"starts,omitempty"`
	FirstSteps     []float64  `yaml:"first_steps,omitempty" json:"first_steps,omitempty"`
	Gradients      []*float64 `yaml:"gradients,omitempty" json:"gradients,omitempty"`
	DetectorFields []string   `yaml:"detector_fields,omitempty" json:"detector_fields,omitempty"`
	Tolerances     []float64  `yaml:"tolerances,omitempty" json:"tolerances,omitempty"`
	System         []string   `yaml:"system,omitempty" json:"system,omitempty"`
	Averages       []int      `yaml:"averages,omitempty" json:"averages,omitempty"`
	Overshoot      float64    `yaml:"overshoot,omitempty" json:"overshoot,omitempty"`
	MaxWalks       *int       `yaml:"max_walks,omitempty" json:"max_walks,omitempty"`
	TimeoutSeconds float64    `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	TolScaling     []*float64 `yaml:"tol_scaling,omitempty" json:"tol_scaling,omitempty"`

	// RecoveryPlan names a factory registered in recovery.Default, with its
	// parameters, e.g. {name: threshold, params: {threshold: 5}}.
	RecoveryPlan *RecoveryPlanRef `yaml:"recovery_plan,omitempty" json:"recovery_plan,omitempty"`
}

// RecoveryPlanRef names a recovery.Registry entry and its build parameters.
type RecoveryPlanRef struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Load reads path, picking YAML or JSON by extension (.yaml/.yml or .json).
func Load(path string) (Run, error) {
	slog.Debug("loading run configuration", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return Run{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var run Run
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &run); err != nil {
			return Run{}, fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &run); err != nil {
			return Run{}, fmt.Errorf("config: decode json %s: %w", path, err)
		}
	default:
		return Run{}, fmt.Errorf("config: unrecognized extension %q for %s", ext, path)
	}

	slog.Debug("loaded run configuration", "path", path, "pairs", len(run.Detectors))
	return run, nil
}

// Save writes run to path, picking YAML or JSON by extension.
func Save(path string, run Run) error {
	slog.Debug("saving run configuration", "path", path)
	var data []byte
	var err error
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(run)
	case ".json":
		data, err = json.MarshalIndent(run, "", "  ")
	default:
		return fmt.Errorf("config: unrecognized extension %q for %s", ext, path)
	}
	if err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	slog.Debug("saved run configuration", "path", path)
	return nil
}
