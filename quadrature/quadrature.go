// Package quadrature provides the polar angle quadrature sets used by the
// characteristics sweep. The azimuthal quadrature is owned by the track
// generator; this package covers the polar half of the product quadrature.
package quadrature

import "fmt"

// Type selects the polar quadrature family.
type Type uint8

const (
	// TabuchiYamamoto is the standard MOC polar set, optimized for the
	// exponential attenuation kernel.
	TabuchiYamamoto Type = iota
	// Leonard is an alternative optimized polar set for 2 or 3 angles.
	Leonard
)

func (t Type) String() string {
	switch t {
	case Leonard:
		return "leonard"
	default:
		return "tabuchi-yamamoto"
	}
}

// Polar is a tabulated polar quadrature: sines, weights, and the
// precomputed sine-weight products entering the sweep tallies.
type Polar struct {
	Kind      Type
	NumPolar  int
	SinThetas []float64
	Weights   []float64
	Multiples []float64 // Weights[p] * SinThetas[p]
}

var tabuchiYamamoto = map[int][2][]float64{
	1: {{0.798184}, {1.0}},
	2: {{0.363900, 0.899900}, {0.212854, 0.787146}},
	3: {{0.166648, 0.537707, 0.932954}, {0.046233, 0.283619, 0.670148}},
}

var leonard = map[int][2][]float64{
	2: {{0.273658, 0.865714}, {0.139473, 0.860527}},
	3: {{0.099812, 0.395534, 0.891439}, {0.017620, 0.188561, 0.793819}},
}

// NewPolar builds a polar quadrature of the given family and order.
// Tabuchi-Yamamoto supports 1-3 polar angles, Leonard 2-3.
func NewPolar(kind Type, numPolar int) (*Polar, error) {
	var table map[int][2][]float64
	switch kind {
	case TabuchiYamamoto:
		table = tabuchiYamamoto
	case Leonard:
		table = leonard
	default:
		return nil, fmt.Errorf("quadrature: unknown polar quadrature type %d", kind)
	}

	entry, ok := table[numPolar]
	if !ok {
		return nil, fmt.Errorf("quadrature: %s quadrature does not support %d polar angles",
			kind, numPolar)
	}

	q := &Polar{
		Kind:      kind,
		NumPolar:  numPolar,
		SinThetas: append([]float64(nil), entry[0]...),
		Weights:   append([]float64(nil), entry[1]...),
	}
	q.Multiples = make([]float64, numPolar)
	for p := 0; p < numPolar; p++ {
		q.Multiples[p] = q.Weights[p] * q.SinThetas[p]
	}
	return q, nil
}
