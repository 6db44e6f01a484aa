// Package measure implements the filtered averaging primitive used by both
// fit and walk: gather N samples from a set of readable sources, reject
// samples that fail per-field predicates, and return the per-field median
// of whatever passed. Grounded on pswalker's plans.measure_average (the
// trigger/wait/read/save/sleep loop and the median aggregate — "not the
// mean, chosen to reject outliers from noisy centroid pipelines") and
// callbacks.apply_filters (the missing-field / NaN / Inf handling and the
// drop_missing semantics).
package measure

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/beamctrl/walker/pkg/command"
	"github.com/beamctrl/walker/pkg/device"
	"github.com/beamctrl/walker/pkg/walkerr"
)

// Predicate gates one field's value; it returns true when the sample should
// be accepted.
type Predicate func(value float64) bool

// FilterSet maps field name to the predicate that must pass for the sample
// to be accepted. A field with no entry always passes.
type FilterSet map[string]Predicate

// apply reports whether doc passes every filter in fs. Per
// callbacks.apply_filters: a missing field or a NaN/Inf value is a
// filter-failure when dropMissing is true, and is skipped (treated as
// passing) when dropMissing is false.
func (fs FilterSet) apply(doc device.Sample, dropMissing bool) bool {
	for field, pred := range fs {
		f, ok := doc[field]
		if !ok {
			if dropMissing {
				return false
			}
			continue
		}
		if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
			if dropMissing {
				return false
			}
			continue
		}
		if !pred(f.Value) {
			return false
		}
	}
	return true
}

// DelaySchedule supplies the interstep delay between the (step)-th and
// (step+1)-th of N measurement iterations, for step in [0, N-2].
type DelaySchedule interface {
	Delay(step int) (time.Duration, error)
}

// ConstantDelay repeats the same delay between every pair of consecutive
// iterations, the way a scalar delay argument does in measure_average.
type ConstantDelay time.Duration

func (d ConstantDelay) Delay(step int) (time.Duration, error) {
	return time.Duration(d), nil
}

// SliceDelay supplies one delay per interstep gap. Running out of entries
// before N-1 interstep delays are consumed is a ConfigurationError, mirroring
// measure_average's "num={} but delays only provides {} entries".
type SliceDelay []time.Duration

func (d SliceDelay) Delay(step int) (time.Duration, error) {
	if step >= len(d) {
		return 0, walkerr.NewGlobal(walkerr.ConfigurationError,
			fmt.Sprintf("delay schedule exhausted: need entry %d, have %d", step, len(d)))
	}
	return d[step], nil
}

// Config parameterizes one MeasureAverage call.
type Config struct {
	Sources []device.Readable
	// Fields are the target field names, in the order the returned
	// aggregate is keyed.
	Fields []string
	// N is the number of trigger/read iterations to attempt.
	N int
	// MinSamples is the minimum number of accepted samples required after
	// N attempts. Zero means "require all N".
	MinSamples int
	// Delay is consulted between iterations; nil means no sleep.
	Delay   DelaySchedule
	Filters FilterSet
	// DropMissing controls whether a missing/NaN/Inf field fails the
	// sample (true) or is treated as passing (false).
	DropMissing bool
}

func (c Config) minSamples() int {
	if c.MinSamples <= 0 {
		return c.N
	}
	return c.MinSamples
}

// Average runs the MeasureAverage algorithm: for N iterations, trigger and
// read every source, apply the filter set, and — on acceptance — record one
// sample per target field. The result is the element-wise median of the
// accepted samples. Raises a FilterCount failure if fewer than MinSamples
// were accepted after N attempts.
func Average(ctx context.Context, coord command.Coordinator, cfg Config) (map[string]float64, error) {
	if cfg.N <= 0 {
		return nil, walkerr.NewGlobal(walkerr.ConfigurationError, "N must be >= 1")
	}
	collected := make([][]float64, len(cfg.Fields))
	for i := range collected {
		collected[i] = make([]float64, 0, cfg.N)
	}

	accepted := 0
	for i := 0; i < cfg.N; i++ {
		doc, err := coord.TriggerAndRead(ctx, cfg.Sources)
		if err != nil {
			return nil, err
		}

		if err := coord.Save(ctx, command.EventDoc{Seq: i, Fields: doc}); err != nil {
			return nil, err
		}

		if cfg.Filters.apply(doc, cfg.DropMissing) {
			ok := true
			values := make([]float64, len(cfg.Fields))
			for j, field := range cfg.Fields {
				f, present := doc[field]
				if !present {
					ok = false
					break
				}
				values[j] = f.Value
			}
			if ok {
				accepted++
				for j, v := range values {
					collected[j] = append(collected[j], v)
				}
			}
		}

		if i+1 == cfg.N {
			break
		}
		if cfg.Delay != nil {
			d, err := cfg.Delay.Delay(i)
			if err != nil {
				return nil, err
			}
			if d > 0 {
				if err := coord.Sleep(ctx, d); err != nil {
					return nil, err
				}
			}
		}
	}

	if accepted < cfg.minSamples() {
		return nil, walkerr.NewGlobal(walkerr.FilterCount,
			fmt.Sprintf("only %d/%d samples passed filters, need %d", accepted, cfg.N, cfg.minSamples()))
	}

	result := make(map[string]float64, len(cfg.Fields))
	for j, field := range cfg.Fields {
		sorted := append([]float64(nil), collected[j]...)
		sort.Float64s(sorted)
		result[field] = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	}
	return result, nil
}

// Centroid is a convenience wrapper over Average for a single detector and
// a single field, grounded on plans.py's measure_centroid helper.
func Centroid(ctx context.Context, coord command.Coordinator, det device.Readable, field string, n int, delay DelaySchedule) (float64, error) {
	res, err := Average(ctx, coord, Config{
		Sources: []device.Readable{det},
		Fields:  []string{field},
		N:       n,
		Delay:   delay,
	})
	if err != nil {
		return 0, err
	}
	return res[field], nil
}
