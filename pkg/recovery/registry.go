package recovery

import (
	"errors"
	"sync"
	"time"

	"github.com/beamctrl/walker/pkg/walkerr"
)

// Sentinel errors for the named-plan registry, grounded on
// pkg/core/plugin/registry.go's Register/New error set.
var (
	ErrExists   = errors.New("recovery plan already registered")
	ErrNotFound = errors.New("recovery plan not registered")
)

// Factory builds a Builder from configuration parameters loaded off disk —
// a YAML/JSON map rather than the Python kwargs a recovery_plan closure
// would otherwise need hand-wiring for every deployment.
type Factory func(params map[string]any) (Builder, error)

// Registry maps a recovery plan name (as named in a run's configuration
// surface) to the Factory that builds it. Grounded on
// pkg/core/plugin/registry.go's mutex-guarded map, renamed from Plugin to
// recovery plans and from options.Option varargs to a plain params map.
type Registry struct {
	mu    sync.RWMutex
	plans map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plans: make(map[string]Factory)}
}

// Register adds a Factory under name. Returns ErrExists on a duplicate.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[name]; ok {
		return ErrExists
	}
	r.plans[name] = factory
	return nil
}

// Unregister removes name, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, name)
}

// Build looks up name and invokes its Factory with params.
func (r *Registry) Build(name string, params map[string]any) (Builder, error) {
	r.mu.RLock()
	factory, ok := r.plans[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return factory(params)
}

// ForEach calls f for every registered name, in no particular order.
func (r *Registry) ForEach(f func(name string, factory Factory)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, factory := range r.plans {
		f(name, factory)
	}
}

// Default is the process-wide registry cmd/beamwalk resolves
// configuration-surface recovery_plan names against. Library code is free
// to build its own Registry instead; nothing in this package requires it.
var Default = NewRegistry()

func init() {
	Default.Register("threshold", thresholdFactory)
}

func thresholdFactory(params map[string]any) (Builder, error) {
	threshold, err := requireFloat(params, "threshold")
	if err != nil {
		return nil, err
	}
	dirInitial, err := optionalInt(params, "dir_initial", 1)
	if err != nil {
		return nil, err
	}
	ceil, err := optionalBool(params, "ceil", true)
	if err != nil {
		return nil, err
	}
	hasStop, err := optionalBool(params, "has_stop", true)
	if err != nil {
		return nil, err
	}
	stepSize, err := optionalFloat(params, "step_size", 1)
	if err != nil {
		return nil, err
	}
	offLimit, err := optionalFloat(params, "off_limit", 0)
	if err != nil {
		return nil, err
	}
	timeoutSeconds, err := optionalFloat(params, "timeout_seconds", 0)
	if err != nil {
		return nil, err
	}
	tryReverse, err := optionalBool(params, "try_reverse", false)
	if err != nil {
		return nil, err
	}

	return NewThresholdBuilder(threshold, dirInitial, ceil, hasStop, stepSize, offLimit,
		time.Duration(timeoutSeconds*float64(time.Second)), tryReverse), nil
}

func requireFloat(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, walkerr.NewGlobal(walkerr.ConfigurationError, "recovery plan missing required parameter "+key)
	}
	return asFloat(v, key)
}

func optionalFloat(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	return asFloat(v, key)
}

func optionalInt(params map[string]any, key string, def int) (int, error) {
	f, err := optionalFloat(params, key, float64(def))
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func optionalBool(params map[string]any, key string, def bool) (bool, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, walkerr.NewGlobal(walkerr.ConfigurationError, "recovery plan parameter "+key+" must be a boolean")
	}
	return b, nil
}

// asFloat coerces the handful of numeric shapes a YAML or JSON decoder can
// hand back into an interface{} value.
func asFloat(v any, key string) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, walkerr.NewGlobal(walkerr.ConfigurationError, "recovery plan parameter "+key+" must be a number")
	}
}
