// Package sampler defines the next-firing-time contract the simulation
// driver depends on, a default first-reaction implementation, and thin
// constructors over gonum's distuv distributions.
package sampler

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution is an opaque time-to-fire distribution. The engine never
// inspects it beyond drawing; gonum distuv types satisfy it directly.
type Distribution interface {
	Rand() float64
}

// logProber is satisfied by distributions that can score a firing delay;
// required only on the trace-likelihood path.
type logProber interface {
	LogProb(x float64) float64
}

// cdfer is satisfied by distributions that expose a CDF; required only on
// the trace-likelihood path.
type cdfer interface {
	CDF(x float64) float64
}

// Exponential returns an exponential time-to-fire distribution with the
// given rate, drawing from src.
func Exponential(rate float64, src rand.Source) Distribution {
	return distuv.Exponential{Rate: rate, Src: src}
}

// Weibull returns a Weibull distribution with shape k and scale lambda.
func Weibull(k, lambda float64, src rand.Source) Distribution {
	return distuv.Weibull{K: k, Lambda: lambda, Src: src}
}

// Uniform returns a uniform distribution over [min, max).
func Uniform(min, max float64, src rand.Source) Distribution {
	return distuv.Uniform{Min: min, Max: max, Src: src}
}

// Dirac is a degenerate distribution firing after a fixed delay. Useful for
// deterministic timers and in tests.
type Dirac struct {
	Delay float64
}

func (d Dirac) Rand() float64 { return d.Delay }

func (d Dirac) LogProb(x float64) float64 {
	if math.Abs(x-d.Delay) < 1e-12 {
		return 0
	}
	return math.Inf(-1)
}

func (d Dirac) CDF(x float64) float64 {
	if x < d.Delay {
		return 0
	}
	return 1
}
