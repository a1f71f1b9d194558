// Package geometry implements the constructive solid geometry model for the
// transport solver: quadratic surfaces, cells bounded by signed half-spaces,
// universes, lattices, and the flattening of the hierarchy into flat source
// regions (FSRs).
//
// Points are resolved to cells by descending the universe/cell/lattice tree.
// Lattice levels resolve in O(1) by integer division on the pitch; plain
// universes test the point against each cell's half-space intersection in
// insertion order.
package geometry

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Points closer than this to a surface are treated as on the surface.
const onSurfaceThreshold = 1e-12

// autoIDStart is the first auto-generated surface/cell ID. User-defined IDs
// at or above this value are rejected so the two ranges never collide.
const autoIDStart = 10000

var surfaceAutoID atomic.Int64

func init() {
	surfaceAutoID.Store(autoIDStart)
}

// nextSurfaceID returns a monotonically increasing auto-generated surface ID.
func nextSurfaceID() int {
	return int(surfaceAutoID.Add(1) - 1)
}

// Point is a position in the 2D problem plane.
type Point struct {
	X, Y float64
}

// Distance returns the Euclidean distance to q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// BoundaryType tags a surface with the condition applied where it bounds the
// outermost region. Interior surfaces carry BoundaryNone.
type BoundaryType uint8

const (
	BoundaryNone BoundaryType = iota
	BoundaryVacuum
	BoundaryReflective
	BoundaryPeriodic
)

func (b BoundaryType) String() string {
	switch b {
	case BoundaryVacuum:
		return "vacuum"
	case BoundaryReflective:
		return "reflective"
	case BoundaryPeriodic:
		return "periodic"
	default:
		return "none"
	}
}

// SurfaceType identifies the concrete surface shape.
type SurfaceType uint8

const (
	PlaneSurface SurfaceType = iota
	XPlaneSurface
	YPlaneSurface
	CircleSurface
)

// Surface is an implicit function f(x,y) splitting the plane into a positive
// (f > 0) and a negative (f < 0) half-space.
type Surface interface {
	ID() int
	Type() SurfaceType
	Boundary() BoundaryType
	SetBoundary(bc BoundaryType)

	// Evaluate returns the signed surface function at p.
	Evaluate(p Point) float64

	// Intersections returns the crossings of the ray leaving p at azimuthal
	// angle phi, restricted to the forward direction of travel.
	Intersections(p Point, phi float64) []Point

	// Finite extents of the surface, infinite where unbounded.
	XMin() float64
	XMax() float64
	YMin() float64
	YMax() float64
}

// MinDistance returns the distance from p to the nearest forward
// intersection with s along angle phi, the intersection point, and whether
// any forward intersection exists.
func MinDistance(s Surface, p Point, phi float64) (float64, Point, bool) {
	best := math.Inf(1)
	var bestPt Point
	var found bool
	for _, hit := range s.Intersections(p, phi) {
		if d := p.Distance(hit); d < best {
			best = d
			bestPt = hit
			found = true
		}
	}
	return best, bestPt, found
}

// forward reports whether hit lies in the direction of travel from p.
func forward(p, hit Point, phi float64) bool {
	return (hit.X-p.X)*math.Cos(phi)+(hit.Y-p.Y)*math.Sin(phi) > onSurfaceThreshold
}

// Plane is the surface A*x + B*y + C = 0.
type Plane struct {
	id       int
	boundary BoundaryType
	A, B, C  float64
}

// NewPlane creates a general plane with an auto-generated ID.
func NewPlane(a, b, c float64) *Plane {
	return &Plane{id: nextSurfaceID(), A: a, B: b, C: c}
}

// NewPlaneWithID creates a plane with a user-defined ID below the
// auto-generated range.
func NewPlaneWithID(id int, a, b, c float64) (*Plane, error) {
	if id >= autoIDStart {
		return nil, errorf("surface ID %d is in the auto-generated range (>= %d)", id, autoIDStart)
	}
	return &Plane{id: id, A: a, B: b, C: c}, nil
}

func (s *Plane) ID() int                    { return s.id }
func (s *Plane) Type() SurfaceType          { return PlaneSurface }
func (s *Plane) Boundary() BoundaryType     { return s.boundary }
func (s *Plane) SetBoundary(bc BoundaryType) { s.boundary = bc }

func (s *Plane) Evaluate(p Point) float64 {
	return s.A*p.X + s.B*p.Y + s.C
}

func (s *Plane) Intersections(p Point, phi float64) []Point {
	dx := math.Cos(phi)
	dy := math.Sin(phi)

	// Ray p + t*(dx,dy) meets A*x + B*y + C = 0 at
	// t = -(A*x0 + B*y0 + C) / (A*dx + B*dy).
	denom := s.A*dx + s.B*dy
	if math.Abs(denom) < 1e-14 {
		return nil // parallel
	}
	t := -s.Evaluate(p) / denom
	hit := Point{X: p.X + t*dx, Y: p.Y + t*dy}
	if !forward(p, hit, phi) {
		return nil
	}
	return []Point{hit}
}

func (s *Plane) XMin() float64 { return math.Inf(-1) }
func (s *Plane) XMax() float64 { return math.Inf(1) }
func (s *Plane) YMin() float64 { return math.Inf(-1) }
func (s *Plane) YMax() float64 { return math.Inf(1) }

func (s *Plane) String() string {
	return fmt.Sprintf("Plane id=%d A=%g B=%g C=%g bc=%s", s.id, s.A, s.B, s.C, s.boundary)
}

// XPlane is a plane perpendicular to the x-axis: x = x0.
type XPlane struct {
	Plane
	x0 float64
}

// NewXPlane creates the plane x = x0 with an auto-generated ID.
func NewXPlane(x0 float64) *XPlane {
	return &XPlane{Plane: Plane{id: nextSurfaceID(), A: 1, B: 0, C: -x0}, x0: x0}
}

func (s *XPlane) Type() SurfaceType { return XPlaneSurface }
func (s *XPlane) X() float64        { return s.x0 }
func (s *XPlane) XMin() float64     { return s.x0 }
func (s *XPlane) XMax() float64     { return s.x0 }

func (s *XPlane) String() string {
	return fmt.Sprintf("XPlane id=%d x=%g bc=%s", s.id, s.x0, s.boundary)
}

// YPlane is a plane perpendicular to the y-axis: y = y0.
type YPlane struct {
	Plane
	y0 float64
}

// NewYPlane creates the plane y = y0 with an auto-generated ID.
func NewYPlane(y0 float64) *YPlane {
	return &YPlane{Plane: Plane{id: nextSurfaceID(), A: 0, B: 1, C: -y0}, y0: y0}
}

func (s *YPlane) Type() SurfaceType { return YPlaneSurface }
func (s *YPlane) Y() float64        { return s.y0 }
func (s *YPlane) YMin() float64     { return s.y0 }
func (s *YPlane) YMax() float64     { return s.y0 }

func (s *YPlane) String() string {
	return fmt.Sprintf("YPlane id=%d y=%g bc=%s", s.id, s.y0, s.boundary)
}

// Circle is the surface (x-x0)^2 + (y-y0)^2 - r^2 = 0. The negative
// half-space is the interior.
type Circle struct {
	id       int
	boundary BoundaryType
	center   Point
	radius   float64
}

// NewCircle creates a circle with an auto-generated ID.
func NewCircle(x0, y0, radius float64) *Circle {
	return &Circle{id: nextSurfaceID(), center: Point{x0, y0}, radius: radius}
}

func (s *Circle) ID() int                     { return s.id }
func (s *Circle) Type() SurfaceType           { return CircleSurface }
func (s *Circle) Boundary() BoundaryType      { return s.boundary }
func (s *Circle) SetBoundary(bc BoundaryType) { s.boundary = bc }
func (s *Circle) Center() Point               { return s.center }
func (s *Circle) Radius() float64             { return s.radius }

func (s *Circle) Evaluate(p Point) float64 {
	dx := p.X - s.center.X
	dy := p.Y - s.center.Y
	return dx*dx + dy*dy - s.radius*s.radius
}

func (s *Circle) Intersections(p Point, phi float64) []Point {
	dx := math.Cos(phi)
	dy := math.Sin(phi)

	// Substitute the ray into the circle equation: the quadratic in t is
	// t^2 + 2*b*t + c = 0 with the direction normalized.
	fx := p.X - s.center.X
	fy := p.Y - s.center.Y
	b := fx*dx + fy*dy
	c := fx*fx + fy*fy - s.radius*s.radius

	discr := b*b - c
	if discr < 0 {
		return nil
	}

	var hits []Point
	sq := math.Sqrt(discr)
	for _, t := range []float64{-b - sq, -b + sq} {
		hit := Point{X: p.X + t*dx, Y: p.Y + t*dy}
		if forward(p, hit, phi) {
			hits = append(hits, hit)
		}
	}
	return hits
}

func (s *Circle) XMin() float64 { return s.center.X - s.radius }
func (s *Circle) XMax() float64 { return s.center.X + s.radius }
func (s *Circle) YMin() float64 { return s.center.Y - s.radius }
func (s *Circle) YMax() float64 { return s.center.Y + s.radius }

func (s *Circle) String() string {
	return fmt.Sprintf("Circle id=%d x0=%g y0=%g r=%g bc=%s",
		s.id, s.center.X, s.center.Y, s.radius, s.boundary)
}
