package engine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the public configuration surface for the Engine facade. It
// intentionally narrows underlying component knobs; advanced callers inject
// custom implementations (sampler, observer) through New directly.
type Config struct {
	// Seed initializes the trajectory RNG. Two runs of the same model with
	// the same seed yield identical (time, key) sequences.
	Seed uint64 `yaml:"seed"`

	// MaxSteps bounds a trajectory independently of the stop-predicate.
	// Zero means unbounded.
	MaxSteps int `yaml:"max_steps"`

	// DebugChecks enables the post-reconciliation consistency check that
	// asserts key-set equality across the enabled table, the dependency
	// network and the live sampler clocks.
	DebugChecks bool `yaml:"debug_checks"`

	// MetricsEnabled toggles the metrics provider wiring.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// MetricsBackend selects the implementation when MetricsEnabled is true.
	// Supported:
	//   "prom" (default) - built-in Prometheus registry
	//   "otel"          - OpenTelemetry bridge
	//   "noop"          - explicit no-op
	// Unknown values fall back to the default (prom).
	MetricsBackend string `yaml:"metrics_backend"`

	// EventBusEnabled toggles the internal telemetry event bus.
	EventBusEnabled bool `yaml:"event_bus_enabled"`

	// HealthEnabled toggles the probe-based health evaluator.
	HealthEnabled bool `yaml:"health_enabled"`
}

// Defaults returns a Config with reasonable defaults.
func Defaults() Config {
	return Config{
		Seed:            1,
		MaxSteps:        0,
		DebugChecks:     true,
		MetricsEnabled:  false,
		MetricsBackend:  "prom",
		EventBusEnabled: true,
		HealthEnabled:   true,
	}
}

// LoadConfig reads a YAML config file over Defaults().
func LoadConfig(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
