package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/MOCKernel/cmfd"
	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/material"
	"github.com/notargets/MOCKernel/tracker"
)

// One-group homogeneous medium with k-infinity = nuSigmaF / sigmaA.
const (
	testSigmaT   = 0.452648699
	testSigmaS   = 0.383259177
	testSigmaF   = 0.0414198575
	testNuSigmaF = 0.0994076580
)

func kInfinity() float64 {
	return testNuSigmaF / (testSigmaT - testSigmaS)
}

func homogeneousMaterial(t *testing.T) *material.Material {
	t.Helper()
	m, err := material.FromGroupData(1, "medium", material.GroupData{
		NumGroups: 1,
		SigmaT:    []float64{testSigmaT},
		SigmaS:    []float64{testSigmaS},
		SigmaF:    []float64{testSigmaF},
		NuSigmaF:  []float64{testNuSigmaF},
		Chi:       []float64{1},
	})
	require.NoError(t, err)
	return m
}

// boxGeometry is a homogeneous square of the given half-width.
func boxGeometry(t *testing.T, m *material.Material, half float64, bc geometry.BoundaryType) *geometry.Geometry {
	t.Helper()
	g := geometry.New()
	require.NoError(t, g.AddMaterial(m))

	left := geometry.NewXPlane(-half)
	right := geometry.NewXPlane(half)
	bottom := geometry.NewYPlane(-half)
	top := geometry.NewYPlane(half)
	for _, s := range []geometry.Surface{left, right, bottom, top} {
		s.SetBoundary(bc)
	}

	c, err := geometry.NewMaterialCell(geometry.RootUniverse, m.ID, 0, 0)
	require.NoError(t, err)
	require.NoError(t, c.AddSurface(+1, left))
	require.NoError(t, c.AddSurface(-1, right))
	require.NoError(t, c.AddSurface(+1, bottom))
	require.NoError(t, c.AddSurface(-1, top))
	require.NoError(t, g.AddCell(c))

	_, err = g.Finalize()
	require.NoError(t, err)
	return g
}

// latticeBoxGeometry splits the same homogeneous square into an n x n
// lattice so the problem has n*n flat source regions.
func latticeBoxGeometry(t *testing.T, m *material.Material, half float64, n int, bc geometry.BoundaryType) *geometry.Geometry {
	t.Helper()
	g := geometry.New()
	require.NoError(t, g.AddMaterial(m))

	pin, err := geometry.NewMaterialCell(1, m.ID, 0, 0)
	require.NoError(t, err)
	require.NoError(t, g.AddCell(pin))

	layout := make([][]int, n)
	for j := range layout {
		layout[j] = make([]int, n)
		for i := range layout[j] {
			layout[j][i] = 1
		}
	}
	lat, err := geometry.NewLattice(2, n, n, 2*half/float64(n), 2*half/float64(n))
	require.NoError(t, err)
	require.NoError(t, lat.SetUniverses(layout))
	require.NoError(t, g.AddLattice(lat))

	left := geometry.NewXPlane(-half)
	right := geometry.NewXPlane(half)
	bottom := geometry.NewYPlane(-half)
	top := geometry.NewYPlane(half)
	for _, s := range []geometry.Surface{left, right, bottom, top} {
		s.SetBoundary(bc)
	}
	root := geometry.NewFillCell(geometry.RootUniverse, 2)
	require.NoError(t, root.AddSurface(+1, left))
	require.NoError(t, root.AddSurface(-1, right))
	require.NoError(t, root.AddSurface(+1, bottom))
	require.NoError(t, root.AddSurface(-1, top))
	require.NoError(t, g.AddCell(root))

	_, err = g.Finalize()
	require.NoError(t, err)
	return g
}

func generate(t *testing.T, g *geometry.Geometry, numAzim int, spacing float64) *tracker.Generator {
	t.Helper()
	gen, err := tracker.NewGenerator(g, numAzim, spacing)
	require.NoError(t, err)
	require.NoError(t, gen.Generate())
	return gen
}

func TestInfiniteMediumKeff(t *testing.T) {
	g := boxGeometry(t, homogeneousMaterial(t), 5, geometry.BoundaryReflective)
	gen := generate(t, g, 8, 0.5)

	s, err := New(gen, Config{Tolerance: 1e-6})
	require.NoError(t, err)

	res, err := s.Converge(300)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)
	assert.InDelta(t, kInfinity(), res.Keff, 1e-4)
	assert.Equal(t, res.Keff, s.Keff())
	assert.Less(t, res.Residual, 1e-6)
	assert.Greater(t, res.Iterations, 1)
}

func TestVacuumLeakageLowersKeff(t *testing.T) {
	g := boxGeometry(t, homogeneousMaterial(t), 5, geometry.BoundaryVacuum)
	gen := generate(t, g, 8, 0.5)

	s, err := New(gen, Config{Tolerance: 1e-6})
	require.NoError(t, err)
	res, err := s.Converge(300)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)

	assert.Less(t, res.Keff, kInfinity(), "leakage must lower the eigenvalue")
	assert.Greater(t, res.Keff, 0.3*kInfinity())
}

func TestFluxPeaksAtCenterUnderVacuum(t *testing.T) {
	g := latticeBoxGeometry(t, homogeneousMaterial(t), 6, 3, geometry.BoundaryVacuum)
	gen := generate(t, g, 8, 0.4)

	s, err := New(gen, Config{Tolerance: 1e-6})
	require.NoError(t, err)
	_, err = s.Converge(300)
	require.NoError(t, err)

	center, _, err := g.Locate(geometry.Point{X: 0, Y: 0})
	require.NoError(t, err)
	corner, _, err := g.Locate(geometry.Point{X: -5, Y: -5})
	require.NoError(t, err)

	assert.Greater(t, s.ScalarFlux(center, 0), s.ScalarFlux(corner, 0))
}

func TestDeterministicResults(t *testing.T) {
	m := homogeneousMaterial(t)
	g := latticeBoxGeometry(t, m, 4, 2, geometry.BoundaryReflective)
	gen := generate(t, g, 8, 0.4)

	run := func(workers int) *Solver {
		s, err := New(gen, Config{Workers: workers, Tolerance: 1e-6})
		require.NoError(t, err)
		_, err = s.Converge(100)
		require.NoError(t, err)
		return s
	}

	a := run(3)
	b := run(3)
	for r := 0; r < a.NumFSRs(); r++ {
		assert.Equal(t, a.ScalarFlux(r, 0), b.ScalarFlux(r, 0),
			"identical worker counts must reproduce bitwise")
	}
	assert.Equal(t, a.Keff(), b.Keff())

	c := run(1)
	assert.InDelta(t, a.Keff(), c.Keff(), 1e-5,
		"worker count only reorders float sums")
}

func TestWarmStartConvergesImmediately(t *testing.T) {
	g := boxGeometry(t, homogeneousMaterial(t), 5, geometry.BoundaryReflective)
	gen := generate(t, g, 8, 0.5)

	s, err := New(gen, Config{Tolerance: 1e-6})
	require.NoError(t, err)
	first, err := s.Converge(300)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, first.Status)

	second, err := s.Converge(300)
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, second.Status)
	assert.LessOrEqual(t, second.Iterations, 3, "warm start resumes at the fixed point")
	assert.InDelta(t, first.Keff, second.Keff, 1e-8)
}

func TestIterationCapIsAWarning(t *testing.T) {
	g := boxGeometry(t, homogeneousMaterial(t), 5, geometry.BoundaryReflective)
	gen := generate(t, g, 8, 0.5)

	s, err := New(gen, Config{Tolerance: 1e-12})
	require.NoError(t, err)
	res, err := s.Converge(1)
	require.NoError(t, err, "hitting the cap is not a fatal error")
	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Greater(t, res.Keff, 0.0)
}

func TestNoFissionIsFatal(t *testing.T) {
	water, err := material.FromGroupData(1, "water", material.GroupData{
		NumGroups: 1,
		SigmaT:    []float64{0.5},
		SigmaS:    []float64{0.45},
		SigmaF:    []float64{0},
		NuSigmaF:  []float64{0},
		Chi:       []float64{0},
	})
	require.NoError(t, err)
	g := boxGeometry(t, water, 5, geometry.BoundaryReflective)
	gen := generate(t, g, 8, 0.5)

	s, err := New(gen, Config{})
	require.NoError(t, err)
	_, err = s.Converge(10)
	require.Error(t, err)
	var numErr *NumericalError
	assert.ErrorAs(t, err, &numErr)
}

func TestSegmentStreamingLimit(t *testing.T) {
	thin, err := material.FromGroupData(1, "near-void", material.GroupData{
		NumGroups: 1,
		SigmaT:    []float64{1e-7},
		SigmaS:    []float64{0},
		SigmaF:    []float64{0.01},
		NuSigmaF:  []float64{0.025},
		Chi:       []float64{1},
	})
	require.NoError(t, err)
	g := boxGeometry(t, thin, 1, geometry.BoundaryVacuum)
	gen := generate(t, g, 4, 0.5)

	s, err := New(gen, Config{ExactExponentials: true})
	require.NoError(t, err)

	// In an optically thin segment the angular flux grows linearly with
	// the path length: psi_out = psi_in + Q*l/sin(theta).
	const (
		q      = 0.1
		length = 0.7
		psiIn  = 2.0
	)
	s.ratios[0] = q / 1e-7
	w := s.workers[0]
	for i := range w.psi {
		w.psi[i] = psiIn
	}
	seg := &geometry.Segment{FSR: 0, Material: thin, Length: length, MeshCell: -1}
	s.attenuate(w, s.polarWeights[:s.numPolar], seg)

	for p := 0; p < s.numPolar; p++ {
		want := psiIn + q*length/s.quad.SinThetas[p]
		assert.InEpsilonf(t, want, w.psi[p], 1e-5, "polar %d", p)
	}
}

func TestVoidSegmentStreaming(t *testing.T) {
	void, err := material.FromGroupData(1, "void", material.GroupData{
		NumGroups: 1,
		SigmaT:    []float64{0},
		SigmaS:    []float64{0},
		SigmaF:    []float64{0},
		NuSigmaF:  []float64{0},
		Chi:       []float64{0},
	})
	require.NoError(t, err)
	g := boxGeometry(t, void, 1, geometry.BoundaryVacuum)
	gen := generate(t, g, 4, 0.5)

	s, err := New(gen, Config{})
	require.NoError(t, err)

	// At exactly zero cross section the attenuation formula degenerates,
	// so the segment must stream: psi_out = psi_in + Q*l/sin(theta).
	const (
		q      = 0.1
		length = 0.7
		psiIn  = 2.0
	)
	s.source[0] = q
	w := s.workers[0]
	for i := range w.psi {
		w.psi[i] = psiIn
	}
	seg := &geometry.Segment{FSR: 0, Material: void, Length: length, MeshCell: -1}
	s.attenuate(w, s.polarWeights[:s.numPolar], seg)

	for p := 0; p < s.numPolar; p++ {
		want := psiIn + q*length/s.quad.SinThetas[p]
		assert.InDeltaf(t, want, w.psi[p], 1e-12, "polar %d", p)
	}
}

func TestCMFDAcceleratedInfiniteMedium(t *testing.T) {
	m := homogeneousMaterial(t)
	g := latticeBoxGeometry(t, m, 4, 2, geometry.BoundaryReflective)
	mesh, err := geometry.NewUniformMesh(g, 2, 2)
	require.NoError(t, err)

	gen, err := tracker.NewGenerator(g, 8, 0.4)
	require.NoError(t, err)
	gen.SetMesh(mesh)
	require.NoError(t, gen.Generate())

	accel, err := cmfd.New(gen, 1.0)
	require.NoError(t, err)

	s, err := New(gen, Config{Tolerance: 1e-6, Accelerator: accel})
	require.NoError(t, err)
	res, err := s.Converge(300)
	require.NoError(t, err)
	require.Equal(t, StatusConverged, res.Status)
	assert.InDelta(t, kInfinity(), res.Keff, 1e-4)
}

func TestConfigValidation(t *testing.T) {
	g := boxGeometry(t, homogeneousMaterial(t), 5, geometry.BoundaryReflective)
	gen, err := tracker.NewGenerator(g, 8, 0.5)
	require.NoError(t, err)

	_, err = New(gen, Config{})
	assert.Error(t, err, "tracks must be generated first")

	require.NoError(t, gen.Generate())
	_, err = New(gen, Config{NumPolar: 5})
	assert.Error(t, err, "unsupported polar order")
	_, err = New(gen, Config{Tolerance: -1})
	assert.Error(t, err)

	s, err := New(gen, Config{})
	require.NoError(t, err)
	_, err = s.Converge(0)
	assert.Error(t, err)
}
