package geometry

import (
	"math"
	"math/rand"

	"github.com/notargets/MOCKernel/material"
)

// tinyMove nudges a point off a surface after each segmentation step so the
// next cell lookup resolves on the far side of the crossing.
const tinyMove = 1e-10

// RootUniverse is the universe ID of the outermost level of the hierarchy.
const RootUniverse = 0

// Side identifies one edge of the rectangular problem domain.
type Side uint8

const (
	SideLeft Side = iota
	SideRight
	SideBottom
	SideTop
)

// Segment is one chord of a track through a single flat source region.
type Segment struct {
	FSR      int
	Material *material.Material
	Length   float64

	// MeshCell is the coarse-mesh cell containing the segment, set by the
	// track generator when an acceleration mesh is attached, -1 otherwise.
	MeshCell int
}

// Geometry owns the materials, surfaces, cells, universes and lattices of a
// problem and flattens them into flat source regions at finalization.
type Geometry struct {
	materials map[int]*material.Material
	cells     map[int]*Cell
	universes map[int]*Universe
	lattices  map[int]*Lattice

	xMin, xMax, yMin, yMax float64
	boundaries             [4]BoundaryType

	numFSRs   int
	finalized bool
}

// New creates an empty geometry.
func New() *Geometry {
	return &Geometry{
		materials: make(map[int]*material.Material),
		cells:     make(map[int]*Cell),
		universes: make(map[int]*Universe),
		lattices:  make(map[int]*Lattice),
	}
}

// AddMaterial registers a material. The material must validate.
func (g *Geometry) AddMaterial(m *material.Material) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, dup := g.materials[m.ID]; dup {
		return errorf("duplicate material ID %d", m.ID)
	}
	g.materials[m.ID] = m
	return nil
}

// AddCell registers a cell and creates its universe on first use.
func (g *Geometry) AddCell(c *Cell) error {
	if g.finalized {
		return errorf("cannot add cell %d to a finalized geometry", c.ID())
	}
	if _, dup := g.cells[c.ID()]; dup {
		return errorf("duplicate cell ID %d", c.ID())
	}
	if c.Kind == MaterialCell {
		if _, ok := g.materials[c.Material]; !ok {
			return errorf("cell %d references unknown material %d", c.ID(), c.Material)
		}
	}
	g.cells[c.ID()] = c

	u, ok := g.universes[c.Universe]
	if !ok {
		u = NewUniverse(c.Universe)
		g.universes[c.Universe] = u
	}
	u.AddCell(c)
	return nil
}

// AddLattice registers a lattice. Lattices share the fill-ID namespace with
// universes; a fill cell referencing the lattice's ID resolves to it.
func (g *Geometry) AddLattice(l *Lattice) error {
	if g.finalized {
		return errorf("cannot add lattice %d to a finalized geometry", l.ID)
	}
	if l.Universes == nil {
		return errorf("lattice %d has no universe layout", l.ID)
	}
	if _, dup := g.lattices[l.ID]; dup {
		return errorf("duplicate lattice ID %d", l.ID)
	}
	g.lattices[l.ID] = l
	return nil
}

// Material returns a registered material by ID.
func (g *Geometry) Material(id int) *material.Material {
	return g.materials[id]
}

// Materials returns the registered material count.
func (g *Geometry) Materials() int { return len(g.materials) }

// NumFSRs returns the flat source region count. Valid after Finalize.
func (g *Geometry) NumFSRs() int { return g.numFSRs }

// Bounds returns the rectangular domain extent derived from the boundary
// surfaces. Valid after Finalize.
func (g *Geometry) Bounds() (xMin, xMax, yMin, yMax float64) {
	return g.xMin, g.xMax, g.yMin, g.yMax
}

// Width returns the x extent of the domain.
func (g *Geometry) Width() float64 { return g.xMax - g.xMin }

// Height returns the y extent of the domain.
func (g *Geometry) Height() float64 { return g.yMax - g.yMin }

// Boundary returns the boundary condition applied on one side of the domain.
func (g *Geometry) Boundary(s Side) BoundaryType { return g.boundaries[s] }

// Finalize subdivides ringed and sectored cells, flattens the hierarchy into
// FSR index space, derives the domain bounds and boundary conditions, and
// property-checks spatial coverage by random sampling. It must be called
// exactly once, before track generation.
func (g *Geometry) Finalize() (int, error) {
	if g.finalized {
		return 0, errorf("geometry already finalized")
	}
	if _, ok := g.universes[RootUniverse]; !ok {
		return 0, errorf("no cells in the root universe %d", RootUniverse)
	}

	if err := g.subdivideCells(); err != nil {
		return 0, err
	}
	if err := g.deriveBounds(); err != nil {
		return 0, err
	}

	n, err := g.countFSRs(RootUniverse, make(map[int]bool))
	if err != nil {
		return 0, err
	}
	g.numFSRs = n
	g.finalized = true

	if err := g.checkCoverage(); err != nil {
		g.finalized = false
		return 0, err
	}

	for _, m := range g.materials {
		m.Freeze()
	}
	return g.numFSRs, nil
}

// subdivideCells replaces every ringed/sectored cell with its subcells in
// its universe and in the cell registry.
func (g *Geometry) subdivideCells() error {
	for _, u := range g.universes {
		var flat []*Cell
		for _, c := range u.Cells {
			subs, err := c.Subdivide()
			if err != nil {
				return err
			}
			for _, sub := range subs {
				if sub != c {
					g.cells[sub.ID()] = sub
				}
				flat = append(flat, sub)
			}
			if len(subs) > 1 || subs[0] != c {
				delete(g.cells, c.ID())
			}
		}
		u.Cells = flat
	}
	return nil
}

// deriveBounds computes the domain box and per-side boundary conditions from
// the surfaces tagged with a boundary type.
func (g *Geometry) deriveBounds() error {
	g.xMin, g.yMin = math.Inf(1), math.Inf(1)
	g.xMax, g.yMax = math.Inf(-1), math.Inf(-1)

	type sideSurface struct {
		bc  BoundaryType
		set bool
	}
	var sides [4]sideSurface

	for _, c := range g.cells {
		for _, hs := range c.Surfaces {
			s := hs.Surface
			if s.Boundary() == BoundaryNone {
				continue
			}
			switch t := s.(type) {
			case *XPlane:
				if t.X() < g.xMin {
					g.xMin = t.X()
					sides[SideLeft] = sideSurface{t.Boundary(), true}
				}
				if t.X() > g.xMax {
					g.xMax = t.X()
					sides[SideRight] = sideSurface{t.Boundary(), true}
				}
			case *YPlane:
				if t.Y() < g.yMin {
					g.yMin = t.Y()
					sides[SideBottom] = sideSurface{t.Boundary(), true}
				}
				if t.Y() > g.yMax {
					g.yMax = t.Y()
					sides[SideTop] = sideSurface{t.Boundary(), true}
				}
			default:
				return errorf("surface %d: only X and Y planes may carry a boundary condition", s.ID())
			}
		}
	}

	if math.IsInf(g.xMin, 1) || math.IsInf(g.xMax, -1) ||
		math.IsInf(g.yMin, 1) || math.IsInf(g.yMax, -1) {
		return errorf("domain is not closed by boundary surfaces on all four sides")
	}
	for s, side := range sides {
		if !side.set {
			return errorf("no boundary surface on side %d", s)
		}
		g.boundaries[s] = side.bc
	}
	return nil
}

// countFSRs recursively assigns FSR offsets below the given universe and
// returns its flat source region count.
func (g *Geometry) countFSRs(universeID int, visiting map[int]bool) (int, error) {
	if visiting[universeID] {
		return 0, errorf("universe %d is contained within itself", universeID)
	}
	visiting[universeID] = true
	defer delete(visiting, universeID)

	u, ok := g.universes[universeID]
	if !ok {
		return 0, errorf("unknown universe %d", universeID)
	}

	count := 0
	for _, c := range u.Cells {
		u.fsrOffsets[c.ID()] = count
		switch c.Kind {
		case MaterialCell:
			count++
		case FillCell:
			n, err := g.countFillFSRs(c.Fill, visiting)
			if err != nil {
				return 0, err
			}
			count += n
		}
	}
	u.numFSRs = count
	return count, nil
}

// countFillFSRs resolves a fill reference to a lattice or universe and
// counts the FSRs below it.
func (g *Geometry) countFillFSRs(fill int, visiting map[int]bool) (int, error) {
	if l, ok := g.lattices[fill]; ok {
		l.fsrOffsets = make([][]int, l.NumY)
		count := 0
		for j := 0; j < l.NumY; j++ {
			l.fsrOffsets[j] = make([]int, l.NumX)
			for i := 0; i < l.NumX; i++ {
				l.fsrOffsets[j][i] = count
				n, err := g.countFSRs(l.Universes[j][i], visiting)
				if err != nil {
					return 0, err
				}
				count += n
			}
		}
		l.numFSRs = count
		return count, nil
	}
	if _, ok := g.universes[fill]; ok {
		return g.countFSRs(fill, visiting)
	}
	return 0, errorf("fill reference %d matches no universe or lattice", fill)
}

// checkCoverage samples random interior points and requires each to resolve
// to exactly one cell at every level of the hierarchy: no point may lie in
// no cell, nor strictly inside two cells of the same universe. Sampling
// uses a fixed seed so failures reproduce.
func (g *Geometry) checkCoverage() error {
	const samples = 2000
	rng := rand.New(rand.NewSource(0x5eed))
	for i := 0; i < samples; i++ {
		p := Point{
			X: g.xMin + rng.Float64()*g.Width(),
			Y: g.yMin + rng.Float64()*g.Height(),
		}
		fsr, _, err := g.Locate(p)
		if err != nil {
			return errorf("incomplete coverage: point (%g, %g) resolves to no cell: %v", p.X, p.Y, err)
		}
		if fsr < 0 || fsr >= g.numFSRs {
			return errorf("point (%g, %g) resolved to out-of-range FSR %d", p.X, p.Y, fsr)
		}
		if err := g.checkOverlap(p); err != nil {
			return err
		}
	}
	return nil
}

// checkOverlap descends the hierarchy at p and fails if any universe along
// the chain holds two cells strictly containing the point. Points on a
// shared surface belong to both neighbors within the on-surface threshold,
// so only strict containment counts as an overlap.
func (g *Geometry) checkOverlap(p Point) error {
	pt := p
	uid := RootUniverse
	for depth := 0; depth <= 64; depth++ {
		u, ok := g.universes[uid]
		if !ok {
			return nil
		}
		var first *Cell
		for _, c := range u.Cells {
			if !c.containsStrict(pt) {
				continue
			}
			if first != nil {
				return errorf("cells %d and %d of universe %d overlap at (%g, %g)",
					first.ID(), c.ID(), uid, p.X, p.Y)
			}
			first = c
		}
		if first == nil || first.Kind == MaterialCell {
			return nil
		}
		if l, isLattice := g.lattices[first.Fill]; isLattice {
			ix, iy := l.CellIndex(pt)
			center := l.CellCenter(ix, iy)
			pt = Point{X: pt.X - center.X, Y: pt.Y - center.Y}
			uid = l.Universes[iy][ix]
			continue
		}
		uid = first.Fill
	}
	return nil
}

// buildChain descends the hierarchy for a point in the global frame,
// returning the coordinate chain and the FSR index of the terminal cell.
func (g *Geometry) buildChain(p Point) (*LocalCoords, int, error) {
	head := &LocalCoords{UniverseID: RootUniverse, Point: p}
	cur := head
	fsr := 0

	for depth := 0; ; depth++ {
		if depth > 64 {
			return nil, 0, errorf("universe nesting deeper than 64 at (%g, %g)", p.X, p.Y)
		}
		u, ok := g.universes[cur.UniverseID]
		if !ok {
			return nil, 0, errorf("unknown universe %d", cur.UniverseID)
		}
		cell := u.FindCell(cur.Point)
		if cell == nil {
			return nil, 0, errorf("point (%g, %g) lies in no cell of universe %d",
				cur.Point.X, cur.Point.Y, cur.UniverseID)
		}
		cur.Cell = cell
		fsr += u.fsrOffsets[cell.ID()]

		if cell.Kind == MaterialCell {
			return head, fsr, nil
		}

		if l, isLattice := g.lattices[cell.Fill]; isLattice {
			ix, iy := l.CellIndex(cur.Point)
			fsr += l.fsrOffsets[iy][ix]
			center := l.CellCenter(ix, iy)
			next := &LocalCoords{
				UniverseID: l.Universes[iy][ix],
				Lattice:    l,
				LatticeX:   ix,
				LatticeY:   iy,
				Point:      Point{X: cur.Point.X - center.X, Y: cur.Point.Y - center.Y},
			}
			cur.Next = next
			cur = next
			continue
		}
		next := &LocalCoords{UniverseID: cell.Fill, Point: cur.Point}
		cur.Next = next
		cur = next
	}
}

// Locate resolves a point in the global frame to its flat source region and
// material. Failure to resolve is a fatal coverage error.
func (g *Geometry) Locate(p Point) (int, *material.Material, error) {
	if !g.finalized {
		return 0, nil, errorf("Locate called before Finalize")
	}
	chain, fsr, err := g.buildChain(p)
	if err != nil {
		return 0, nil, err
	}
	cell := chain.Deepest().Cell
	m := g.materials[cell.Material]
	if m == nil {
		return 0, nil, errorf("cell %d references unknown material %d", cell.ID(), cell.Material)
	}
	return fsr, m, nil
}

// chainMinDistance returns the nearest forward surface crossing over every
// level of a coordinate chain, including lattice cell walls.
func (g *Geometry) chainMinDistance(chain *LocalCoords, phi float64) float64 {
	best := math.Inf(1)
	for lc := chain; lc != nil; lc = lc.Next {
		if lc.Cell != nil {
			if d, _, ok := lc.Cell.MinSurfaceDistance(lc.Point, phi); ok && d < best {
				best = d
			}
		}
		if lc.Lattice != nil {
			if d := latticeWallDistance(lc, phi); d < best {
				best = d
			}
		}
	}
	return best
}

// latticeWallDistance returns the forward distance from a lattice-level
// point (in the lattice cell's centered frame) to the cell's walls.
func latticeWallDistance(lc *LocalCoords, phi float64) float64 {
	dx := math.Cos(phi)
	dy := math.Sin(phi)
	best := math.Inf(1)

	halfX := lc.Lattice.PitchX / 2
	halfY := lc.Lattice.PitchY / 2

	if dx > 1e-14 {
		if t := (halfX - lc.Point.X) / dx; t > onSurfaceThreshold && t < best {
			best = t
		}
	} else if dx < -1e-14 {
		if t := (-halfX - lc.Point.X) / dx; t > onSurfaceThreshold && t < best {
			best = t
		}
	}
	if dy > 1e-14 {
		if t := (halfY - lc.Point.Y) / dy; t > onSurfaceThreshold && t < best {
			best = t
		}
	} else if dy < -1e-14 {
		if t := (-halfY - lc.Point.Y) / dy; t > onSurfaceThreshold && t < best {
			best = t
		}
	}
	return best
}

// SegmentizeTrack walks a ray from start to end at azimuthal angle phi,
// recording one segment per flat source region crossed. Zero-length
// (tangential) crossings are filtered out. The segment lengths sum to the
// chord length within the accumulated nudge tolerance.
func (g *Geometry) SegmentizeTrack(start, end Point, phi float64) ([]Segment, error) {
	if !g.finalized {
		return nil, errorf("SegmentizeTrack called before Finalize")
	}

	dx := math.Cos(phi)
	dy := math.Sin(phi)
	total := start.Distance(end)
	if total <= tinyMove {
		return nil, errorf("degenerate track of length %g", total)
	}

	var segments []Segment
	pos := Point{X: start.X + tinyMove*dx, Y: start.Y + tinyMove*dy}

	// Hard cap so a stuck walk surfaces as an error, not a hang.
	maxSteps := 64 * (g.numFSRs + 16)

	for step := 0; ; step++ {
		remaining := (end.X-pos.X)*dx + (end.Y-pos.Y)*dy
		if remaining <= tinyMove {
			return segments, nil
		}
		if step >= maxSteps {
			return nil, errorf("segmentation exceeded %d steps on track (%g,%g)->(%g,%g)",
				maxSteps, start.X, start.Y, end.X, end.Y)
		}

		chain, fsr, err := g.buildChain(pos)
		if err != nil {
			return nil, err
		}
		d := g.chainMinDistance(chain, phi)
		if math.IsInf(d, 1) {
			return nil, errorf("no forward surface from (%g, %g) at angle %g", pos.X, pos.Y, phi)
		}
		if d > remaining {
			d = remaining
		}

		if d > onSurfaceThreshold {
			cell := chain.Deepest().Cell
			segments = append(segments, Segment{
				FSR:      fsr,
				Material: g.materials[cell.Material],
				Length:   d,
				MeshCell: -1,
			})
		}
		pos = Point{X: pos.X + (d+tinyMove)*dx, Y: pos.Y + (d+tinyMove)*dy}
	}
}
