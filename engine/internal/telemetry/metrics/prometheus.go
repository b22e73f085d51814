package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var metricNameRE = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// PrometheusProvider implements Provider backed by a Prometheus registry.
type PrometheusProvider struct {
	reg        *prom.Registry
	mu         sync.RWMutex
	counters   map[string]*prom.CounterVec
	gauges     map[string]*prom.GaugeVec
	histograms map[string]*prom.HistogramVec
	problems   []error

	handler http.Handler
}

// PrometheusProviderOptions config
type PrometheusProviderOptions struct {
	Registry *prom.Registry // optional custom registry
}

// NewPrometheusProvider creates a new provider.
func NewPrometheusProvider(opts PrometheusProviderOptions) *PrometheusProvider {
	reg := opts.Registry
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return &PrometheusProvider{
		reg:        reg,
		counters:   make(map[string]*prom.CounterVec),
		gauges:     make(map[string]*prom.GaugeVec),
		histograms: make(map[string]*prom.HistogramVec),
		handler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
}

// MetricsHandler returns an HTTP handler exposing /metrics
func (p *PrometheusProvider) MetricsHandler() http.Handler { return p.handler }

func (p *PrometheusProvider) buildFQName(c CommonOpts) (string, error) {
	if c.Name == "" {
		return "", errors.New("metric name required")
	}
	fq := c.Name
	if c.Subsystem != "" {
		fq = c.Subsystem + "_" + fq
	}
	if c.Namespace != "" {
		fq = c.Namespace + "_" + fq
	}
	if !metricNameRE.MatchString(fq) {
		return "", fmt.Errorf("invalid metric name: %s", fq)
	}
	return fq, nil
}

func (p *PrometheusProvider) NewCounter(opts CounterOpts) Counter {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopCounter{}
	}
	p.mu.RLock()
	cv := p.counters[fq]
	p.mu.RUnlock()
	if cv != nil {
		return &promCounter{cv: cv}
	}

	vec := prom.NewCounterVec(prom.CounterOpts{Name: fq, Help: opts.Help}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prom.CounterVec)
		} else {
			p.recordProblem(err)
			return noopCounter{}
		}
	}
	p.mu.Lock()
	p.counters[fq] = vec
	p.mu.Unlock()
	return &promCounter{cv: vec}
}

func (p *PrometheusProvider) NewGauge(opts GaugeOpts) Gauge {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopGauge{}
	}
	p.mu.RLock()
	gv := p.gauges[fq]
	p.mu.RUnlock()
	if gv != nil {
		return &promGauge{gv: gv}
	}

	vec := prom.NewGaugeVec(prom.GaugeOpts{Name: fq, Help: opts.Help}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prom.GaugeVec)
		} else {
			p.recordProblem(err)
			return noopGauge{}
		}
	}
	p.mu.Lock()
	p.gauges[fq] = vec
	p.mu.Unlock()
	return &promGauge{gv: vec}
}

func (p *PrometheusProvider) NewHistogram(opts HistogramOpts) Histogram {
	fq, err := p.buildFQName(opts.CommonOpts)
	if err != nil {
		return noopHistogram{}
	}
	p.mu.RLock()
	hv := p.histograms[fq]
	p.mu.RUnlock()
	if hv != nil {
		return &promHistogram{hv: hv}
	}

	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	vec := prom.NewHistogramVec(prom.HistogramOpts{Name: fq, Help: opts.Help, Buckets: buckets}, opts.Labels)
	if err := p.reg.Register(vec); err != nil {
		if are, ok := err.(prom.AlreadyRegisteredError); ok {
			vec = are.ExistingCollector.(*prom.HistogramVec)
		} else {
			p.recordProblem(err)
			return noopHistogram{}
		}
	}
	p.mu.Lock()
	p.histograms[fq] = vec
	p.mu.Unlock()
	return &promHistogram{hv: vec}
}

func (p *PrometheusProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &promTimer{hist: hist, start: time.Now()} }
}

func (p *PrometheusProvider) Health(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.problems) == 0 {
		return nil
	}
	return fmt.Errorf("prometheus provider encountered %d problems (first: %v)", len(p.problems), p.problems[0])
}

func (p *PrometheusProvider) recordProblem(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.problems = append(p.problems, err)
}

// Instrument wrappers --------------------------------------------------------

type promCounter struct{ cv *prom.CounterVec }

func (c *promCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.cv.WithLabelValues(labels...).Add(delta)
}

type promGauge struct{ gv *prom.GaugeVec }

func (g *promGauge) Set(value float64, labels ...string) {
	g.gv.WithLabelValues(labels...).Set(value)
}
func (g *promGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.gv.WithLabelValues(labels...).Add(delta)
}

type promHistogram struct{ hv *prom.HistogramVec }

func (h *promHistogram) Observe(value float64, labels ...string) {
	h.hv.WithLabelValues(labels...).Observe(value)
}

type promTimer struct {
	hist  Histogram
	start time.Time
}

func (t *promTimer) ObserveDuration(labels ...string) {
	t.hist.Observe(time.Since(t.start).Seconds(), labels...)
}
