package geometry

import (
	"fmt"
	"math"
	"sync/atomic"
)

var cellAutoID atomic.Int64

func init() {
	cellAutoID.Store(autoIDStart)
}

func nextCellID() int {
	return int(cellAutoID.Add(1) - 1)
}

// CellKind distinguishes terminal material cells from fill cells.
type CellKind uint8

const (
	// MaterialCell is a terminal cell bound to one material.
	MaterialCell CellKind = iota
	// FillCell is bound to a nested universe or lattice.
	FillCell
)

// HalfspaceSurface is a signed surface reference: Halfspace +1 selects the
// positive side of the surface function, -1 the negative side.
type HalfspaceSurface struct {
	Surface   Surface
	Halfspace int
}

// Cell is a region defined by the intersection of surface half-spaces,
// either terminal (material) or filled with a nested universe.
type Cell struct {
	id       int
	Kind     CellKind
	Universe int // ID of the universe this cell belongs to

	Material int // material ID, MaterialCell only
	Fill     int // nested universe or lattice ID, FillCell only

	Rings   int // concentric equal-area ring subdivision, MaterialCell only
	Sectors int // azimuthal sector subdivision, MaterialCell only

	Surfaces []HalfspaceSurface
}

// NewMaterialCell creates a terminal cell bound to a material, optionally
// subdivided into rings and sectors at geometry finalization.
func NewMaterialCell(universe, materialID, rings, sectors int) (*Cell, error) {
	if rings < 0 {
		return nil, errorf("cell cannot have %d rings", rings)
	}
	if sectors < 0 {
		return nil, errorf("cell cannot have %d sectors", sectors)
	}
	// A single sector spans the whole cell.
	if sectors == 1 {
		sectors = 0
	}
	return &Cell{
		id:       nextCellID(),
		Kind:     MaterialCell,
		Universe: universe,
		Material: materialID,
		Rings:    rings,
		Sectors:  sectors,
	}, nil
}

// NewFillCell creates a cell filled by a nested universe or lattice.
func NewFillCell(universe, fill int) *Cell {
	return &Cell{
		id:       nextCellID(),
		Kind:     FillCell,
		Universe: universe,
		Fill:     fill,
	}
}

// ID returns the cell's unique ID.
func (c *Cell) ID() int { return c.id }

// AddSurface bounds the cell by the given half-space of a surface.
func (c *Cell) AddSurface(halfspace int, s Surface) error {
	if halfspace != -1 && halfspace != 1 {
		return errorf("cell %d: halfspace %d is not -1 or +1", c.id, halfspace)
	}
	c.Surfaces = append(c.Surfaces, HalfspaceSurface{Surface: s, Halfspace: halfspace})
	return nil
}

// ContainsPoint reports whether p lies inside every bounding half-space.
// Points within the on-surface threshold count as inside so segmentation
// steps landing on a surface resolve to a cell.
func (c *Cell) ContainsPoint(p Point) bool {
	for _, hs := range c.Surfaces {
		if hs.Surface.Evaluate(p)*float64(hs.Halfspace) < -onSurfaceThreshold {
			return false
		}
	}
	return true
}

// containsStrict reports whether p lies strictly inside every bounding
// half-space, beyond the on-surface threshold. Two cells of one universe
// strictly containing the same point overlap.
func (c *Cell) containsStrict(p Point) bool {
	for _, hs := range c.Surfaces {
		if hs.Surface.Evaluate(p)*float64(hs.Halfspace) <= onSurfaceThreshold {
			return false
		}
	}
	return true
}

// MinSurfaceDistance returns the distance from p along angle phi to the
// nearest bounding surface, with the intersection point. Returns ok=false if
// the ray escapes every bounding surface.
func (c *Cell) MinSurfaceDistance(p Point, phi float64) (float64, Point, bool) {
	var (
		best   = math.Inf(1)
		bestPt Point
		found  bool
	)
	for _, hs := range c.Surfaces {
		if d, hit, ok := MinDistance(hs.Surface, p, phi); ok && d < best {
			best = d
			bestPt = hit
			found = true
		}
	}
	return best, bestPt, found
}

// clone duplicates the cell (with a fresh ID) for ring/sector subdivision.
func (c *Cell) clone() *Cell {
	dup := &Cell{
		id:       nextCellID(),
		Kind:     c.Kind,
		Universe: c.Universe,
		Material: c.Material,
		Fill:     c.Fill,
	}
	dup.Surfaces = append(dup.Surfaces, c.Surfaces...)
	return dup
}

// boundingCircles returns the outermost (-halfspace) and innermost
// (+halfspace) circle surfaces of the cell, either possibly nil.
func (c *Cell) boundingCircles() (outer, inner *Circle, count int) {
	for _, hs := range c.Surfaces {
		circ, ok := hs.Surface.(*Circle)
		if !ok {
			continue
		}
		count++
		if hs.Halfspace == -1 {
			outer = circ
		} else {
			inner = circ
		}
	}
	return outer, inner, count
}

// sectorize splits the cell into Sectors clones bounded by pairs of angular
// planes through the cell's circle center (or the origin for cells without
// a bounding circle).
func (c *Cell) sectorize() ([]*Cell, error) {
	if c.Sectors == 0 {
		return []*Cell{c}, nil
	}

	center := Point{}
	if outer, inner, _ := c.boundingCircles(); outer != nil {
		center = outer.Center()
	} else if inner != nil {
		center = inner.Center()
	}

	delta := 2 * math.Pi / float64(c.Sectors)
	planes := make([]*Plane, c.Sectors)
	for i := range planes {
		a := math.Cos(float64(i) * delta)
		b := math.Sin(float64(i) * delta)
		planes[i] = NewPlane(a, b, -(a*center.X + b*center.Y))
	}

	sectors := make([]*Cell, 0, c.Sectors)
	for i := 0; i < c.Sectors; i++ {
		sector := c.clone()
		sector.Rings = 0
		sector.Sectors = 0

		if err := sector.AddSurface(+1, planes[i]); err != nil {
			return nil, err
		}
		// Two sectors are fully described by the disjoint halfspaces of the
		// paired planes; more need the next plane as the far bound.
		if c.Sectors != 2 {
			if err := sector.AddSurface(-1, planes[(i+1)%c.Sectors]); err != nil {
				return nil, err
			}
		}
		sectors = append(sectors, sector)
	}
	return sectors, nil
}

// ringify splits each of the given cells into Rings equal-area concentric
// rings bounded by auxiliary circles.
func (c *Cell) ringify(cells []*Cell) ([]*Cell, error) {
	if c.Rings == 0 {
		return cells, nil
	}

	outer, inner, count := c.boundingCircles()
	if outer == nil {
		return nil, errorf("cell %d: rings require the negative halfspace of a circle", c.id)
	}
	if count > 2 {
		return nil, errorf("cell %d: rings require at most 2 circle surfaces, have %d", c.id, count)
	}

	rOuter := outer.Radius()
	rInner := 0.0
	if inner != nil {
		if inner.Center() != outer.Center() {
			return nil, errorf("cell %d: ring circles must share a center", c.id)
		}
		rInner = inner.Radius()
		if rInner >= rOuter {
			return nil, errorf("cell %d: inner circle radius %g >= outer radius %g",
				c.id, rInner, rOuter)
		}
	}
	center := outer.Center()

	// Equal-area radii, outermost first.
	area := math.Pi * (rOuter*rOuter - rInner*rInner) / float64(c.Rings)
	circles := make([]*Circle, c.Rings)
	r1 := rOuter
	for i := 0; i < c.Rings; i++ {
		circles[i] = NewCircle(center.X, center.Y, r1)
		r1 = math.Sqrt(r1*r1 - area/math.Pi)
	}

	var rings []*Cell
	for i, circ := range circles {
		for _, base := range cells {
			ring := base.clone()
			ring.Rings = 0
			ring.Sectors = 0

			// Strip the parent circle bounds; the ring circles replace them.
			kept := ring.Surfaces[:0]
			for _, hs := range ring.Surfaces {
				if _, isCircle := hs.Surface.(*Circle); !isCircle {
					kept = append(kept, hs)
				}
			}
			ring.Surfaces = kept

			if err := ring.AddSurface(-1, circ); err != nil {
				return nil, err
			}
			if i+1 < len(circles) {
				if err := ring.AddSurface(+1, circles[i+1]); err != nil {
					return nil, err
				}
			} else if inner != nil {
				if err := ring.AddSurface(+1, inner); err != nil {
					return nil, err
				}
			}
			rings = append(rings, ring)
		}
	}
	return rings, nil
}

// Subdivide applies the cell's ring and sector subdivision, returning the
// terminal subcells (or the cell itself when no subdivision is requested).
// Each subcell inherits the parent's material.
func (c *Cell) Subdivide() ([]*Cell, error) {
	if c.Kind != MaterialCell || (c.Rings == 0 && c.Sectors == 0) {
		return []*Cell{c}, nil
	}
	sectors, err := c.sectorize()
	if err != nil {
		return nil, err
	}
	return c.ringify(sectors)
}

func (c *Cell) String() string {
	switch c.Kind {
	case FillCell:
		return fmt.Sprintf("Cell id=%d fill universe=%d surfaces=%d",
			c.id, c.Fill, len(c.Surfaces))
	default:
		return fmt.Sprintf("Cell id=%d material=%d rings=%d sectors=%d surfaces=%d",
			c.id, c.Material, c.Rings, c.Sectors, len(c.Surfaces))
	}
}
