package main

import (
	"fmt"

	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/material"
)

// buildCase constructs the geometry of a named benchmark problem.
func buildCase(name string) (*geometry.Geometry, error) {
	switch name {
	case "homogeneous-one-group":
		return homogeneousOneGroup()
	case "pin-cell":
		return pinCell()
	}
	return nil, fmt.Errorf("unknown benchmark case %q", name)
}

// homogeneousOneGroup is a one-group infinite medium: a ringed and
// sectored circle inside a 200 cm reflective box, all one material. The
// reference k-infinity is nuSigmaF/sigmaA = 1.4326.
func homogeneousOneGroup() (*geometry.Geometry, error) {
	m, err := material.New(1, "infinite medium", 1)
	if err != nil {
		return nil, err
	}
	for _, set := range []error{
		m.SetSigmaT([]float64{0.452648699}),
		m.SetSigmaA([]float64{0.069389522}),
		m.SetSigmaF([]float64{0.0414198575}),
		m.SetNuSigmaF([]float64{0.0994076580}),
		m.SetSigmaS([]float64{0.383259177}),
		m.SetChi([]float64{1.0}),
	} {
		if set != nil {
			return nil, set
		}
	}

	g := geometry.New()
	if err := g.AddMaterial(m); err != nil {
		return nil, err
	}

	circle := geometry.NewCircle(0, 0, 10)
	left := geometry.NewXPlane(-100)
	right := geometry.NewXPlane(100)
	bottom := geometry.NewYPlane(-100)
	top := geometry.NewYPlane(100)
	for _, s := range []geometry.Surface{left, right, bottom, top} {
		s.SetBoundary(geometry.BoundaryReflective)
	}

	inner, err := geometry.NewMaterialCell(1, 1, 2, 4)
	if err != nil {
		return nil, err
	}
	if err := inner.AddSurface(-1, circle); err != nil {
		return nil, err
	}
	outer, err := geometry.NewMaterialCell(1, 1, 0, 0)
	if err != nil {
		return nil, err
	}
	if err := outer.AddSurface(+1, circle); err != nil {
		return nil, err
	}

	root := geometry.NewFillCell(0, 2)
	for _, hs := range []struct {
		sign int
		s    geometry.Surface
	}{
		{+1, left}, {-1, right}, {+1, bottom}, {-1, top},
	} {
		if err := root.AddSurface(hs.sign, hs.s); err != nil {
			return nil, err
		}
	}

	for _, c := range []*geometry.Cell{inner, outer, root} {
		if err := g.AddCell(c); err != nil {
			return nil, err
		}
	}

	lat, err := geometry.NewLattice(2, 1, 1, 200, 200)
	if err != nil {
		return nil, err
	}
	if err := lat.SetUniverses([][]int{{1}}); err != nil {
		return nil, err
	}
	if err := g.AddLattice(lat); err != nil {
		return nil, err
	}
	return g, nil
}

// pinCell is a two-group UO2 pin in water on a 1.26 cm reflective pitch,
// with ringed and sectored fuel.
func pinCell() (*geometry.Geometry, error) {
	fuel, err := material.New(1, "UO2 fuel", 2)
	if err != nil {
		return nil, err
	}
	for _, set := range []error{
		fuel.SetSigmaT([]float64{0.40, 0.90}),
		fuel.SetSigmaA([]float64{0.010, 0.100}),
		fuel.SetSigmaS([]float64{
			0.378, 0.012,
			0.000, 0.800,
		}),
		fuel.SetSigmaF([]float64{0.003, 0.080}),
		fuel.SetNuSigmaF([]float64{0.0075, 0.200}),
		fuel.SetChi([]float64{1, 0}),
	} {
		if set != nil {
			return nil, set
		}
	}

	water, err := material.New(2, "borated water", 2)
	if err != nil {
		return nil, err
	}
	for _, set := range []error{
		water.SetSigmaT([]float64{0.530, 1.400}),
		water.SetSigmaA([]float64{0.004, 0.025}),
		water.SetSigmaS([]float64{
			0.492, 0.034,
			0.000, 1.375,
		}),
		water.SetSigmaF([]float64{0, 0}),
		water.SetNuSigmaF([]float64{0, 0}),
		water.SetChi([]float64{0, 0}),
	} {
		if set != nil {
			return nil, set
		}
	}

	g := geometry.New()
	for _, m := range []*material.Material{fuel, water} {
		if err := g.AddMaterial(m); err != nil {
			return nil, err
		}
	}

	const halfPitch = 0.63
	pin := geometry.NewCircle(0, 0, 0.54)
	left := geometry.NewXPlane(-halfPitch)
	right := geometry.NewXPlane(halfPitch)
	bottom := geometry.NewYPlane(-halfPitch)
	top := geometry.NewYPlane(halfPitch)
	for _, s := range []geometry.Surface{left, right, bottom, top} {
		s.SetBoundary(geometry.BoundaryReflective)
	}

	fuelCell, err := geometry.NewMaterialCell(1, 1, 3, 8)
	if err != nil {
		return nil, err
	}
	if err := fuelCell.AddSurface(-1, pin); err != nil {
		return nil, err
	}
	modCell, err := geometry.NewMaterialCell(1, 2, 0, 8)
	if err != nil {
		return nil, err
	}
	if err := modCell.AddSurface(+1, pin); err != nil {
		return nil, err
	}

	root := geometry.NewFillCell(0, 2)
	for _, hs := range []struct {
		sign int
		s    geometry.Surface
	}{
		{+1, left}, {-1, right}, {+1, bottom}, {-1, top},
	} {
		if err := root.AddSurface(hs.sign, hs.s); err != nil {
			return nil, err
		}
	}
	for _, c := range []*geometry.Cell{fuelCell, modCell, root} {
		if err := g.AddCell(c); err != nil {
			return nil, err
		}
	}

	lat, err := geometry.NewLattice(2, 1, 1, 2*halfPitch, 2*halfPitch)
	if err != nil {
		return nil, err
	}
	if err := lat.SetUniverses([][]int{{1}}); err != nil {
		return nil, err
	}
	return g, g.AddLattice(lat)
}
