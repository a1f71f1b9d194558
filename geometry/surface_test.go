package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaneEvaluateSign(t *testing.T) {
	x := NewXPlane(1.0)
	assert.Greater(t, x.Evaluate(Point{2, 0}), 0.0)
	assert.Less(t, x.Evaluate(Point{0, 0}), 0.0)
	assert.Zero(t, x.Evaluate(Point{1, 5}))

	y := NewYPlane(-2.0)
	assert.Greater(t, y.Evaluate(Point{0, 0}), 0.0)
	assert.Less(t, y.Evaluate(Point{0, -3}), 0.0)
}

func TestPlaneIntersectionsForwardOnly(t *testing.T) {
	x := NewXPlane(1.0)

	// Heading toward the plane.
	hits := x.Intersections(Point{0, 0}, 0)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].X, 1e-12)

	// Heading away: the crossing is behind the ray.
	assert.Empty(t, x.Intersections(Point{2, 0}, 0))

	// Parallel.
	assert.Empty(t, x.Intersections(Point{0, 0}, math.Pi/2))
}

func TestCircleIntersections(t *testing.T) {
	c := NewCircle(0, 0, 2)

	// From outside through the center: entry and exit.
	hits := c.Intersections(Point{-5, 0}, 0)
	require.Len(t, hits, 2)
	assert.InDelta(t, -2.0, hits[0].X, 1e-12)
	assert.InDelta(t, 2.0, hits[1].X, 1e-12)

	// From the center: only the forward exit.
	hits = c.Intersections(Point{0, 0}, 0)
	require.Len(t, hits, 1)
	assert.InDelta(t, 2.0, hits[0].X, 1e-12)

	// Missing the circle entirely.
	assert.Empty(t, c.Intersections(Point{-5, 3}, 0))
}

func TestMinDistance(t *testing.T) {
	c := NewCircle(0, 0, 2)
	d, hit, ok := MinDistance(c, Point{-5, 0}, 0)
	require.True(t, ok)
	assert.InDelta(t, 3.0, d, 1e-12)
	assert.InDelta(t, -2.0, hit.X, 1e-12)

	_, _, ok = MinDistance(c, Point{5, 0}, 0)
	assert.False(t, ok)
}

func TestBoundaryAssignment(t *testing.T) {
	s := NewXPlane(0)
	assert.Equal(t, BoundaryNone, s.Boundary())
	s.SetBoundary(BoundaryReflective)
	assert.Equal(t, BoundaryReflective, s.Boundary())
}

func TestAutoIDsAboveUserRange(t *testing.T) {
	a := NewPlane(1, 0, 0)
	b := NewCircle(0, 0, 1)
	assert.GreaterOrEqual(t, a.ID(), autoIDStart)
	assert.GreaterOrEqual(t, b.ID(), autoIDStart)
	assert.NotEqual(t, a.ID(), b.ID())

	_, err := NewPlaneWithID(autoIDStart, 1, 0, 0)
	assert.Error(t, err, "user IDs must stay below the auto-generated range")

	p, err := NewPlaneWithID(42, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 42, p.ID())
}
