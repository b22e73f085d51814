// Package engine composes the simulation core behind a single facade: the
// observed state tree, the event-type registry, the generator indexes, the
// dependency network and the external sampler, driven by the reconciliation
// loop in driver.go.
package engine

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/rand"

	"kairos/engine/event"
	"kairos/engine/internal/depnet"
	"kairos/engine/internal/genindex"
	telemEvents "kairos/engine/internal/telemetry/events"
	intmetrics "kairos/engine/internal/telemetry/metrics"
	"kairos/engine/models"
	"kairos/engine/sampler"
	"kairos/engine/state"
	"kairos/engine/telemetry/logging"
)

// Snapshot is a unified view of engine state.
// Stable: field additions are allowed; existing fields retain semantics.
type Snapshot struct {
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime"`
	Now        float64       `json:"now"`
	Steps      int64         `json:"steps"`
	LiveClocks int           `json:"live_clocks"`
	Enabled    int           `json:"enabled"`
}

// TelemetryEvent is a reduced, stable event representation for external
// observers, bridged from the internal bus.
type TelemetryEvent struct {
	Time     time.Time              `json:"time"`
	Category string                 `json:"category"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity,omitempty"`
	Labels   map[string]string      `json:"labels,omitempty"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
}

// EventObserver receives TelemetryEvent notifications.
type EventObserver func(ev TelemetryEvent)

// Engine composes all subsystems behind a single facade. A trajectory is
// single-threaded and cooperative; the engine is not safe for concurrent
// stepping, though telemetry accessors are.
type Engine struct {
	cfg   Config
	world any
	base  *state.Base

	types        map[models.Tag]event.Type
	immediateIdx *genindex.Index
	timedIdx     *genindex.Index

	smp           sampler.Sampler
	enabled       map[models.ClockKey]event.Event
	enablingTimes map[models.ClockKey]float64
	deps          *depnet.Network

	now      float64
	src      *rand.Rand
	observer Observer

	startedAt time.Time
	steps     int64
	log       logging.Logger

	metricsProvider intmetrics.Provider
	eventBus        telemEvents.Bus

	mSteps      intmetrics.Counter
	mFirings    intmetrics.Counter
	mEnables    intmetrics.Counter
	mDisables   intmetrics.Counter
	gLiveClocks intmetrics.Gauge

	eventObserversMu sync.RWMutex
	eventObservers   []EventObserver
}

// New constructs an Engine. world must embed state.Base; types registers one
// Type per event tag. smp may be nil, in which case a default first-reaction
// sampler over the joined key space is created. obs may be nil.
func New(cfg Config, world state.RootState, types []event.Type, smp sampler.Sampler, obs Observer) (*Engine, error) {
	if world == nil {
		return nil, errors.New("engine: nil world")
	}
	if smp == nil {
		smp = sampler.NewFirstReaction()
	}
	e := &Engine{
		cfg:           cfg,
		world:         world,
		base:          world.Root(),
		types:         make(map[models.Tag]event.Type, len(types)),
		immediateIdx:  genindex.New(),
		timedIdx:      genindex.New(),
		smp:           smp,
		enabled:       make(map[models.ClockKey]event.Event),
		enablingTimes: make(map[models.ClockKey]float64),
		deps:          depnet.New(),
		src:           rand.New(rand.NewSource(cfg.Seed)),
		observer:      obs,
		startedAt:     time.Now(),
		log:           logging.New(slog.Default()),
	}
	for _, t := range types {
		if _, dup := e.types[t.Tag()]; dup {
			return nil, errors.New("engine: duplicate event tag " + string(t.Tag()))
		}
		e.types[t.Tag()] = t
		if t.Immediate() {
			e.immediateIdx.Register(t.Generators())
		} else {
			e.timedIdx.Register(t.Generators())
		}
	}

	e.metricsProvider = selectMetricsProvider(cfg)
	if cfg.EventBusEnabled {
		e.eventBus = telemEvents.NewBus(e.metricsProvider)
	}
	if e.metricsProvider != nil {
		e.mSteps = e.metricsProvider.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "kairos", Subsystem: "driver", Name: "steps_total", Help: "Trajectory steps taken"}})
		e.mFirings = e.metricsProvider.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "kairos", Subsystem: "driver", Name: "firings_total", Help: "Event firings by kind", Labels: []string{"kind"}}})
		e.mEnables = e.metricsProvider.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "kairos", Subsystem: "driver", Name: "clocks_enabled_total", Help: "Clock enable operations"}})
		e.mDisables = e.metricsProvider.NewCounter(intmetrics.CounterOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "kairos", Subsystem: "driver", Name: "clocks_disabled_total", Help: "Clock disable operations"}})
		e.gLiveClocks = e.metricsProvider.NewGauge(intmetrics.GaugeOpts{CommonOpts: intmetrics.CommonOpts{Namespace: "kairos", Subsystem: "driver", Name: "live_clocks", Help: "Currently live sampler clocks"}})
	}
	return e, nil
}

// selectMetricsProvider returns a metrics.Provider based on telemetry fields
// in Config. Embedders configure telemetry exclusively via Config.
func selectMetricsProvider(cfg Config) intmetrics.Provider {
	if !cfg.MetricsEnabled {
		return nil
	}
	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "prom", "prometheus":
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	case "otel", "opentelemetry":
		return intmetrics.NewOTelProvider(intmetrics.OTelProviderOptions{})
	case "noop":
		return intmetrics.NewNoopProvider()
	default:
		return intmetrics.NewPrometheusProvider(intmetrics.PrometheusProviderOptions{})
	}
}

// MetricsHandler returns the HTTP handler for metrics exposition (Prometheus
// backend only). Nil if metrics are disabled or the backend has no handler.
func (e *Engine) MetricsHandler() http.Handler {
	if e == nil || e.metricsProvider == nil {
		return nil
	}
	if hp, ok := e.metricsProvider.(interface{ MetricsHandler() http.Handler }); ok {
		return hp.MetricsHandler()
	}
	return nil
}

// RNG exposes the trajectory source so model code can build distributions
// that draw from the same seeded stream.
func (e *Engine) RNG() *rand.Rand { return e.src }

// Now returns the current simulation time.
func (e *Engine) Now() float64 { return e.now }

// Sampler returns the sampler in use.
func (e *Engine) Sampler() sampler.Sampler { return e.smp }

// Snapshot returns a unified state view.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		StartedAt:  e.startedAt,
		Uptime:     time.Since(e.startedAt),
		Now:        e.now,
		Steps:      e.steps,
		LiveClocks: e.smp.Len(),
		Enabled:    len(e.enabled),
	}
}

// HealthStatus classifies a health probe result.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthProbe is one subsystem evaluation.
type HealthProbe struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// HealthReport aggregates the engine's probes with a worst-status rollup.
type HealthReport struct {
	Overall   HealthStatus  `json:"overall"`
	Probes    []HealthProbe `json:"probes"`
	Generated time.Time     `json:"generated"`
}

// HealthSnapshot evaluates the engine's invariant probes. The engine is
// synchronous and the probes are counter comparisons, so evaluation is
// uncached. Overall is unknown when health is disabled.
func (e *Engine) HealthSnapshot() HealthReport {
	if !e.cfg.HealthEnabled {
		return HealthReport{Overall: HealthUnknown, Generated: time.Now()}
	}
	probes := []HealthProbe{e.coherenceProbe(), e.busProbe()}
	overall := HealthHealthy
	for _, p := range probes {
		switch p.Status {
		case HealthUnhealthy:
			overall = HealthUnhealthy
		case HealthDegraded:
			if overall != HealthUnhealthy {
				overall = HealthDegraded
			}
		}
	}
	return HealthReport{Overall: overall, Probes: probes, Generated: time.Now()}
}

// coherenceProbe mirrors the driver's key-set invariant as a cheap count
// comparison, without entering a capture scope.
func (e *Engine) coherenceProbe() HealthProbe {
	if len(e.enabled) != e.deps.Len() || len(e.enabled) != e.smp.Len() {
		return HealthProbe{Name: "coherence", Status: HealthUnhealthy, Detail: "enabled/deps/sampler key counts diverged"}
	}
	return HealthProbe{Name: "coherence", Status: HealthHealthy}
}

func (e *Engine) busProbe() HealthProbe {
	if e.eventBus == nil {
		return HealthProbe{Name: "event_bus", Status: HealthHealthy}
	}
	st := e.eventBus.Stats()
	if st.Published > 0 && st.Dropped > st.Published/2 {
		return HealthProbe{Name: "event_bus", Status: HealthDegraded, Detail: "most events dropped by slow subscribers"}
	}
	return HealthProbe{Name: "event_bus", Status: HealthHealthy}
}

// RegisterEventObserver adds an observer invoked synchronously for each
// internal telemetry event. No-op if nil provided.
func (e *Engine) RegisterEventObserver(obs EventObserver) {
	if e == nil || obs == nil {
		return
	}
	e.eventObserversMu.Lock()
	e.eventObservers = append(e.eventObservers, obs)
	e.eventObserversMu.Unlock()
}

// publish sends an event to the internal bus and bridges it to registered
// facade observers.
func (e *Engine) publish(ev telemEvents.Event) {
	if e.eventBus != nil {
		_ = e.eventBus.Publish(ev)
	}
	e.eventObserversMu.RLock()
	if len(e.eventObservers) == 0 {
		e.eventObserversMu.RUnlock()
		return
	}
	observers := append([]EventObserver(nil), e.eventObservers...)
	e.eventObserversMu.RUnlock()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	pub := TelemetryEvent{Time: ev.Time, Category: ev.Category, Type: ev.Type, Severity: ev.Severity, Labels: ev.Labels, Fields: ev.Fields}
	for _, o := range observers { // synchronous; observers must be fast
		func() { defer func() { _ = recover() }(); o(pub) }()
	}
}
