package cmfd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/MOCKernel/geometry"
)

func testMesh(t *testing.T, nx, ny int) *geometry.UniformMesh {
	t.Helper()
	g := boxLatticeGeometry(t, 1, 1, geometry.BoundaryReflective)
	m, err := geometry.NewUniformMesh(g, nx, ny)
	require.NoError(t, err)
	return m
}

func TestTallyCrossingUpdatesBothCells(t *testing.T) {
	c := NewCurrents(testMesh(t, 3, 3), 2)

	c.TallyCrossing(0, 1, 1, 2.5)
	assert.Equal(t, 2.5, c.net(0, geometry.SideRight, 1))
	assert.Equal(t, -2.5, c.net(1, geometry.SideLeft, 1))
	assert.Zero(t, c.net(0, geometry.SideRight, 0), "other groups untouched")

	c.TallyCrossing(0, 3, 0, 1.0)
	assert.Equal(t, 1.0, c.net(0, geometry.SideTop, 0))
	assert.Equal(t, -1.0, c.net(3, geometry.SideBottom, 0))

	c.TallyCrossing(4, 4, 0, 9.0)
	assert.Zero(t, c.net(4, geometry.SideRight, 0), "same-cell crossing is a no-op")
}

func TestTallyCrossingRoutesCorners(t *testing.T) {
	c := NewCurrents(testMesh(t, 3, 3), 1)

	// 0 -> 4 crosses a corner; the tally walks 0 -> 1 -> 4.
	c.TallyCrossing(0, 4, 0, 1.5)
	assert.Equal(t, 1.5, c.net(0, geometry.SideRight, 0))
	assert.Equal(t, -1.5, c.net(1, geometry.SideLeft, 0))
	assert.Equal(t, 1.5, c.net(1, geometry.SideTop, 0))
	assert.Equal(t, -1.5, c.net(4, geometry.SideBottom, 0))
}

func TestTallyPeriodicWrap(t *testing.T) {
	c := NewCurrents(testMesh(t, 3, 1), 1)

	// Exit through the right wall of the last column, re-enter at the
	// first: indices alone would look like a leftward crossing.
	c.TallyPeriodic(2, geometry.SideRight, 0, 0, 0.75)
	assert.Equal(t, 0.75, c.net(2, geometry.SideRight, 0))
	assert.Equal(t, -0.75, c.net(0, geometry.SideLeft, 0))
	assert.Zero(t, c.net(2, geometry.SideLeft, 0))
}

func TestTallyBoundaryIsOneSided(t *testing.T) {
	c := NewCurrents(testMesh(t, 2, 2), 1)

	c.TallyBoundary(3, geometry.SideTop, 0, 0.25)
	c.TallyBoundary(3, geometry.SideTop, 0, 0.25)
	assert.Equal(t, 0.5, c.net(3, geometry.SideTop, 0))
}

func TestMergeAndReset(t *testing.T) {
	mesh := testMesh(t, 2, 2)
	a := NewCurrents(mesh, 1)
	b := NewCurrents(mesh, 1)

	a.TallyCrossing(0, 1, 0, 1.0)
	b.TallyCrossing(0, 1, 0, 0.5)
	b.TallyBoundary(0, geometry.SideLeft, 0, 2.0)

	require.NoError(t, a.Merge(b))
	assert.Equal(t, 1.5, a.net(0, geometry.SideRight, 0))
	assert.Equal(t, -1.5, a.net(1, geometry.SideLeft, 0))
	assert.Equal(t, 2.0, a.net(0, geometry.SideLeft, 0))

	err := a.Merge(NewCurrents(mesh, 2))
	assert.Error(t, err, "group counts must match")

	a.Reset()
	for cell := 0; cell < 4; cell++ {
		for _, side := range []geometry.Side{geometry.SideLeft, geometry.SideRight, geometry.SideBottom, geometry.SideTop} {
			assert.Zero(t, a.net(cell, side, 0))
		}
	}
}
