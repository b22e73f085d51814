package metrics

// OpenTelemetry metrics bridge implementing the Provider interface. Keeps
// the internal abstraction stable while letting deployments opt into OTEL
// exporters and processors. Scope: counters, gauges, histograms, timers.
// Gauges simulate Set semantics via an UpDownCounter delta application.

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type OTelProviderOptions struct {
	ServiceName string // reserved for future resource attribution
}

// NewOTelProvider returns a metrics.Provider backed by an OTEL
// MeterProvider. Exporters, views and resource attributes can be layered on
// by callers; zero-config for now.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter("kairos")
	return &otelProvider{mp: mp, meter: meter}
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	inst, err := p.meter.Float64Counter(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	inst, err := p.meter.Float64UpDownCounter(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	inst, err := p.meter.Float64Histogram(buildOTelName(opts.CommonOpts), metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst}
}

func (p *otelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(HistogramOpts{CommonOpts: h.CommonOpts, Buckets: h.Buckets})
	return func() Timer { return &otelTimer{h: hist, start: time.Now()} }
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

// buildOTelName composes namespace/subsystem/name using '.' separators.
func buildOTelName(c CommonOpts) string {
	out := c.Name
	if c.Subsystem != "" {
		out = c.Subsystem + "." + out
	}
	if c.Namespace != "" {
		out = c.Namespace + "." + out
	}
	return out
}

// Instrument implementations -------------------------------------------------

type otelCounter struct{ c metric.Float64Counter }

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta > 0 {
		c.c.Add(context.Background(), delta)
	}
}

type otelGauge struct {
	g    metric.Float64UpDownCounter
	mu   sync.Mutex
	prev float64
}

func (g *otelGauge) Set(v float64, labels ...string) {
	g.mu.Lock()
	diff := v - g.prev
	g.prev = v
	g.mu.Unlock()
	if diff != 0 {
		g.g.Add(context.Background(), diff)
	}
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.mu.Lock()
	g.prev += delta
	g.mu.Unlock()
	g.g.Add(context.Background(), delta)
}

type otelHistogram struct{ h metric.Float64Histogram }

func (h *otelHistogram) Observe(value float64, labels ...string) {
	h.h.Record(context.Background(), value)
}

type otelTimer struct {
	h     Histogram
	start time.Time
}

func (t *otelTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}
