// Command beamwalk runs IterWalk from a YAML/JSON run configuration against
// a simulated rig (refcoord's SimMotor/SimDetector), for exercising and
// demonstrating the control loop without a beamline. It has no real-device
// transport. Grounded on cmd/manipulator/main.go's shape:
// flag parsing, log/slog, and signal.NotifyContext for graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/beamctrl/walker/internal/config"
	"github.com/beamctrl/walker/internal/refcoord"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/iterwalk"
	"github.com/beamctrl/walker/pkg/logging"
	"github.com/beamctrl/walker/pkg/options"
	"github.com/beamctrl/walker/pkg/recovery"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to a run configuration file (.yaml or .json)")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: beamwalk -config run.yaml")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	run, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load run configuration", "err", err)
		os.Exit(1)
	}

	log := logging.New(os.Stderr)
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	}
	coord := refcoord.New(log)

	cfg, err := buildConfig(run, log)
	if err != nil {
		slog.Error("failed to build iterwalk configuration", "err", err)
		os.Exit(1)
	}

	slog.Info("starting run", "pairs", len(cfg.Detectors), "max_walks", run.MaxWalks)
	result, err := iterwalk.Run(ctx, coord, cfg)
	if err != nil {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("run finished",
		"all_finished", result.AllFinished(),
		"mirror_walks", result.MirrorWalks,
		"yag_cycles", result.YagCycles,
		"recoveries", result.Recoveries,
		"elapsed", result.Elapsed,
	)
	for i, pos := range result.DonePositions {
		slog.Info("pair result", "index", i, "finished", result.Finished[i], "position", pos)
	}
}

// buildConfig assembles an iterwalk.Config from run, wiring a simulated rig
// for the named detectors and motors (each detector reads a linear function
// of its own motor only; there is no real transport in this module) and
// resolving run's recovery_plan reference, if any, against recovery.Default.
func buildConfig(run config.Run, log zerolog.Logger) (iterwalk.Config, error) {
	if len(run.Detectors) != len(run.Motors) || len(run.Detectors) != len(run.Goals) {
		return iterwalk.Config{}, fmt.Errorf("beamwalk: detectors, motors, and goals must be the same length")
	}

	motors := make([]*refcoord.SimMotor, len(run.Motors))
	for i, name := range run.Motors {
		motors[i] = refcoord.NewSimMotor(name, 0)
	}

	detectors := make([]iterwalk.Imager, len(run.Detectors))
	for i, name := range run.Detectors {
		field := "centroid_x"
		if i < len(run.DetectorFields) && run.DetectorFields[i] != "" {
			field = run.DetectorFields[i]
		}
		// Demo gradients: each pair is an independent, strongly-coupled
		// pitch->centroid response, alternating sign to exercise both
		// naive-probe directions across a multi-pair run.
		gradient := -8000.0
		if i%2 == 1 {
			gradient = 8000.0
		}
		detectors[i] = refcoord.NewSimDetector(name, field, motors[i], gradient, 0, 0)
	}

	movables := make([]device.Movable, len(motors))
	for i, m := range motors {
		movables[i] = m
	}

	var recoveryPlan recovery.Builder
	if run.RecoveryPlan != nil {
		plan, err := recovery.Default.Build(run.RecoveryPlan.Name, run.RecoveryPlan.Params)
		if err != nil {
			return iterwalk.Config{}, fmt.Errorf("beamwalk: recovery plan %q: %w", run.RecoveryPlan.Name, err)
		}
		recoveryPlan = plan
	}

	opts := []options.Option[iterwalk.Config]{
		iterwalk.WithLogger(log),
	}
	if len(run.Tolerances) > 0 {
		opts = append(opts, iterwalk.WithTolerances(run.Tolerances...))
	}
	if len(run.FirstSteps) > 0 {
		opts = append(opts, iterwalk.WithFirstSteps(run.FirstSteps...))
	}
	if run.Overshoot != 0 {
		opts = append(opts, iterwalk.WithOvershoot(run.Overshoot))
	}
	if run.MaxWalks != nil {
		opts = append(opts, iterwalk.WithMaxWalks(*run.MaxWalks))
	}
	if run.TimeoutSeconds > 0 {
		opts = append(opts, iterwalk.WithTimeout(time.Duration(run.TimeoutSeconds*float64(time.Second))))
	}
	if recoveryPlan != nil {
		opts = append(opts, iterwalk.WithRecoveryPlan(recoveryPlan))
	}

	cfg := iterwalk.NewConfig(detectors, movables, run.Goals, opts...)
	return cfg, nil
}
