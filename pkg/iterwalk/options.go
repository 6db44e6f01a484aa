package iterwalk

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/options"
	"github.com/beamctrl/walker/pkg/recovery"
)

// NewConfig builds a Config from the three always-required alignments plus
// functional options for everything else, the way plugin.DefaultOptions
// plus a chain of With* calls assembles an Options struct.
func NewConfig(detectors []Imager, motors []device.Movable, goals []float64, opts ...options.Option[Config]) Config {
	cfg := Config{Detectors: detectors, Motors: motors, Goals: goals}
	options.Apply(&cfg, opts...)
	return cfg
}

func WithTolerances(t ...float64) options.Option[Config] {
	return func(c *Config) { c.Tolerances = t }
}

func WithAverages(a ...int) options.Option[Config] {
	return func(c *Config) { c.Averages = a }
}

func WithGradients(g ...*float64) options.Option[Config] {
	return func(c *Config) { c.Gradients = g }
}

func WithFirstSteps(f ...float64) options.Option[Config] {
	return func(c *Config) { c.FirstSteps = f }
}

func WithOvershoot(o float64) options.Option[Config] {
	return func(c *Config) { c.Overshoot = o }
}

func WithMaxWalks(n int) options.Option[Config] {
	return func(c *Config) { c.MaxWalks = &n }
}

func WithTimeout(d time.Duration) options.Option[Config] {
	return func(c *Config) { c.Timeout = d }
}

func WithRecoveryPlan(b recovery.Builder) options.Option[Config] {
	return func(c *Config) { c.RecoveryPlan = b }
}

func WithLogger(l zerolog.Logger) options.Option[Config] {
	return func(c *Config) { c.Logger = l }
}
