package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/MOCKernel/material"
)

func testMaterial(t *testing.T, id int, name string) *material.Material {
	t.Helper()
	m, err := material.FromGroupData(id, name, material.GroupData{
		NumGroups: 1,
		SigmaT:    []float64{0.5},
		SigmaS:    []float64{0.3},
		SigmaF:    []float64{0.05},
		NuSigmaF:  []float64{0.12},
		Chi:       []float64{1},
	})
	require.NoError(t, err)
	return m
}

// pinCellGeometry is a single fuel pin (radius 0.54) in water on a
// reflective 1.26 cm pitch, fuel FSR first.
func pinCellGeometry(t *testing.T) *Geometry {
	t.Helper()
	g := New()
	require.NoError(t, g.AddMaterial(testMaterial(t, 1, "fuel")))
	require.NoError(t, g.AddMaterial(testMaterial(t, 2, "water")))

	circle := NewCircle(0, 0, 0.54)
	left := NewXPlane(-0.63)
	right := NewXPlane(0.63)
	bottom := NewYPlane(-0.63)
	top := NewYPlane(0.63)
	for _, s := range []Surface{left, right, bottom, top} {
		s.SetBoundary(BoundaryReflective)
	}

	fuel, err := NewMaterialCell(RootUniverse, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, fuel.AddSurface(-1, circle))

	water, err := NewMaterialCell(RootUniverse, 2, 0, 0)
	require.NoError(t, err)
	require.NoError(t, water.AddSurface(+1, circle))
	require.NoError(t, water.AddSurface(+1, left))
	require.NoError(t, water.AddSurface(-1, right))
	require.NoError(t, water.AddSurface(+1, bottom))
	require.NoError(t, water.AddSurface(-1, top))

	require.NoError(t, g.AddCell(fuel))
	require.NoError(t, g.AddCell(water))
	return g
}

func TestFinalizePinCell(t *testing.T) {
	g := pinCellGeometry(t)
	n, err := g.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	xMin, xMax, yMin, yMax := g.Bounds()
	assert.Equal(t, -0.63, xMin)
	assert.Equal(t, 0.63, xMax)
	assert.Equal(t, -0.63, yMin)
	assert.Equal(t, 0.63, yMax)
	for _, side := range []Side{SideLeft, SideRight, SideBottom, SideTop} {
		assert.Equal(t, BoundaryReflective, g.Boundary(side))
	}
}

func TestLocate(t *testing.T) {
	g := pinCellGeometry(t)
	_, err := g.Finalize()
	require.NoError(t, err)

	fsr, m, err := g.Locate(Point{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, fsr)
	assert.Equal(t, "fuel", m.Name)

	fsr, m, err = g.Locate(Point{0.6, 0.6})
	require.NoError(t, err)
	assert.Equal(t, 1, fsr)
	assert.Equal(t, "water", m.Name)
}

func TestLocateMatchesAnalyticRegion(t *testing.T) {
	g := pinCellGeometry(t)
	_, err := g.Finalize()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		p := Point{
			X: -0.63 + 1.26*rng.Float64(),
			Y: -0.63 + 1.26*rng.Float64(),
		}
		r := math.Hypot(p.X, p.Y)
		if math.Abs(r-0.54) < 1e-6 {
			continue
		}
		_, m, err := g.Locate(p)
		require.NoError(t, err)
		if r < 0.54 {
			assert.Equalf(t, "fuel", m.Name, "point (%g, %g) r=%g", p.X, p.Y, r)
		} else {
			assert.Equalf(t, "water", m.Name, "point (%g, %g) r=%g", p.X, p.Y, r)
		}
	}
}

func TestSegmentizeTrackChord(t *testing.T) {
	g := pinCellGeometry(t)
	_, err := g.Finalize()
	require.NoError(t, err)

	// Diagonal through the pin center.
	start := Point{-0.63, -0.63}
	end := Point{0.63, 0.63}
	phi := math.Pi / 4
	segments, err := g.SegmentizeTrack(start, end, phi)
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	var total, fuelLen float64
	for _, s := range segments {
		assert.Greater(t, s.Length, 0.0)
		assert.Equal(t, -1, s.MeshCell, "no coarse mesh attached")
		total += s.Length
		if s.Material.Name == "fuel" {
			fuelLen += s.Length
		}
	}
	assert.InDelta(t, start.Distance(end), total, 1e-6, "segments must sum to the chord")
	assert.InDelta(t, 2*0.54, fuelLen, 1e-6, "fuel chord through the center is a diameter")
}

func TestSegmentizeOffCenterFuelChord(t *testing.T) {
	g := pinCellGeometry(t)
	_, err := g.Finalize()
	require.NoError(t, err)

	// Shallow-angle track crossing the pin at height y ~ 0.3: the fuel
	// chord is 2*sqrt(r^2 - d^2) with d the closest approach.
	phi := math.Atan2(0.002, 1.26)
	start := Point{-0.63, 0.299}
	end := Point{0.63, 0.301}
	segments, err := g.SegmentizeTrack(start, end, phi)
	require.NoError(t, err)

	var fuelLen float64
	for _, s := range segments {
		if s.Material.Name == "fuel" {
			fuelLen += s.Length
		}
	}
	want := 2 * math.Sqrt(0.54*0.54-0.3*0.3)
	assert.InDelta(t, want, fuelLen, 2e-3)
}

func TestLatticeFSROrdering(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMaterial(testMaterial(t, 1, "fuel")))

	// A cell with no bounding surfaces fills its whole universe.
	pin, err := NewMaterialCell(1, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, g.AddCell(pin))

	lat, err := NewLattice(2, 2, 2, 1.0, 1.0)
	require.NoError(t, err)
	require.NoError(t, lat.SetUniverses([][]int{{1, 1}, {1, 1}}))
	require.NoError(t, g.AddLattice(lat))

	left := NewXPlane(-1)
	right := NewXPlane(1)
	bottom := NewYPlane(-1)
	top := NewYPlane(1)
	for _, s := range []Surface{left, right, bottom, top} {
		s.SetBoundary(BoundaryVacuum)
	}
	root := NewFillCell(RootUniverse, 2)
	require.NoError(t, root.AddSurface(+1, left))
	require.NoError(t, root.AddSurface(-1, right))
	require.NoError(t, root.AddSurface(+1, bottom))
	require.NoError(t, root.AddSurface(-1, top))
	require.NoError(t, g.AddCell(root))

	n, err := g.Finalize()
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// Row-major from the bottom-left lattice cell.
	cases := []struct {
		p    Point
		want int
	}{
		{Point{-0.5, -0.5}, 0},
		{Point{0.5, -0.5}, 1},
		{Point{-0.5, 0.5}, 2},
		{Point{0.5, 0.5}, 3},
	}
	for _, tc := range cases {
		fsr, _, err := g.Locate(tc.p)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, fsr, "point (%g, %g)", tc.p.X, tc.p.Y)
	}
}

func TestFinalizeRequiresClosedBoundary(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMaterial(testMaterial(t, 1, "fuel")))

	c, err := NewMaterialCell(RootUniverse, 1, 0, 0)
	require.NoError(t, err)
	left := NewXPlane(-1)
	left.SetBoundary(BoundaryReflective)
	require.NoError(t, c.AddSurface(+1, left))
	require.NoError(t, c.AddSurface(-1, NewXPlane(1))) // untagged
	require.NoError(t, g.AddCell(c))

	_, err = g.Finalize()
	assert.Error(t, err)
}

func TestFinalizeRejectsOverlappingCells(t *testing.T) {
	g := New()
	require.NoError(t, g.AddMaterial(testMaterial(t, 1, "fuel")))

	left := NewXPlane(-1)
	right := NewXPlane(1)
	bottom := NewYPlane(-1)
	top := NewYPlane(1)
	for _, s := range []Surface{left, right, bottom, top} {
		s.SetBoundary(BoundaryReflective)
	}

	box, err := NewMaterialCell(RootUniverse, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, box.AddSurface(+1, left))
	require.NoError(t, box.AddSurface(-1, right))
	require.NoError(t, box.AddSurface(+1, bottom))
	require.NoError(t, box.AddSurface(-1, top))

	// The right half of the box again, overlapping the full-box cell.
	half, err := NewMaterialCell(RootUniverse, 1, 0, 0)
	require.NoError(t, err)
	require.NoError(t, half.AddSurface(+1, NewXPlane(0)))
	require.NoError(t, half.AddSurface(-1, right))
	require.NoError(t, half.AddSurface(+1, bottom))
	require.NoError(t, half.AddSurface(-1, top))

	require.NoError(t, g.AddCell(box))
	require.NoError(t, g.AddCell(half))

	_, err = g.Finalize()
	require.Error(t, err)
	var gerr *Error
	assert.ErrorAs(t, err, &gerr)
	assert.Contains(t, err.Error(), "overlap")
}

func TestCellAreaBoxWithHole(t *testing.T) {
	g := pinCellGeometry(t)
	var water *Cell
	for _, u := range g.universes {
		for _, c := range u.Cells {
			if c.Material == 2 {
				water = c
			}
		}
	}
	require.NotNil(t, water)

	area, err := g.CellArea(water)
	require.NoError(t, err)
	assert.InDelta(t, 1.26*1.26-math.Pi*0.54*0.54, area, 1e-12)
}

func TestUniformMesh(t *testing.T) {
	g := pinCellGeometry(t)
	_, err := g.Finalize()
	require.NoError(t, err)

	m, err := NewUniformMesh(g, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, m.NumCells())
	assert.InDelta(t, 0.63, m.DeltaX(), 1e-12)
	assert.InDelta(t, 0.42, m.DeltaY(), 1e-12)

	assert.Equal(t, 0, m.CellIndex(Point{-0.5, -0.5}))
	assert.Equal(t, 5, m.CellIndex(Point{0.5, 0.5}))
	assert.Equal(t, 0, m.CellIndex(Point{-10, -10}), "out-of-domain points clamp")

	ix, iy := m.CellXY(5)
	assert.Equal(t, 1, ix)
	assert.Equal(t, 2, iy)
}
