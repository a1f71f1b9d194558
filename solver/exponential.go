package solver

import (
	"math"

	"github.com/notargets/MOCKernel/quadrature"
)

// expTolerance bounds the linear interpolation error of the exponential
// table.
const expTolerance = 1e-5

// ExpEvaluator computes the attenuation factor 1 - exp(-tau/sin(theta_p))
// for a segment optical length tau and polar angle p. With interpolation
// enabled it uses a precomputed secant table; secants of a concave
// increasing function preserve the monotonicity and positivity of the
// result. Arguments beyond the tabulated range fall back to the exact
// expression, which saturates at 1 for large tau and uses expm1 to avoid
// cancellation for small tau.
type ExpEvaluator struct {
	interpolate bool
	numPolar    int
	sinThetas   []float64

	// Secant table, laid out [index][polar][slope, intercept].
	table      []float64
	spacing    float64
	invSpacing float64
	maxTau     float64
}

// NewExpEvaluator builds an evaluator covering optical lengths up to
// maxTau. The table spacing is chosen so the interpolation error stays
// below expTolerance for the smallest polar sine.
func NewExpEvaluator(q *quadrature.Polar, maxTau float64, interpolate bool) *ExpEvaluator {
	ev := &ExpEvaluator{
		interpolate: interpolate,
		numPolar:    q.NumPolar,
		sinThetas:   q.SinThetas,
	}
	if !interpolate {
		return ev
	}

	// Interpolation error of a secant on f(x) = 1-exp(-x/s) is bounded by
	// h^2 * max|f''| / 8 = h^2 / (8 s^2).
	sinMin := q.SinThetas[0]
	for _, s := range q.SinThetas {
		if s < sinMin {
			sinMin = s
		}
	}
	ev.spacing = sinMin * math.Sqrt(8*expTolerance)
	ev.invSpacing = 1 / ev.spacing

	if maxTau < ev.spacing {
		maxTau = ev.spacing
	}
	entries := int(maxTau*ev.invSpacing) + 2
	ev.maxTau = float64(entries-1) * ev.spacing
	ev.table = make([]float64, entries*q.NumPolar*2)

	for i := 0; i < entries; i++ {
		x0 := float64(i) * ev.spacing
		x1 := x0 + ev.spacing
		for p := 0; p < q.NumPolar; p++ {
			f0 := -math.Expm1(-x0 / q.SinThetas[p])
			f1 := -math.Expm1(-x1 / q.SinThetas[p])
			slope := (f1 - f0) * ev.invSpacing
			idx := (i*q.NumPolar + p) * 2
			ev.table[idx] = slope
			ev.table[idx+1] = f0 - slope*x0
		}
	}
	return ev
}

// Attenuation returns 1 - exp(-tau/sin(theta_p)).
func (ev *ExpEvaluator) Attenuation(tau float64, p int) float64 {
	if !ev.interpolate || tau >= ev.maxTau {
		return -math.Expm1(-tau / ev.sinThetas[p])
	}
	i := int(tau * ev.invSpacing)
	idx := (i*ev.numPolar + p) * 2
	return ev.table[idx]*tau + ev.table[idx+1]
}
