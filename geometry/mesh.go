package geometry

import "math"

// UniformMesh is a structured nx×ny overlay of the rectangular domain used
// by the coarse-mesh acceleration. Cell walls should coincide with flat
// source region boundaries (for lattice geometries, a mesh matching the
// lattice pitch) so that segment junctions land exactly on mesh walls.
type UniformMesh struct {
	NumX, NumY             int
	XMin, XMax, YMin, YMax float64
}

// NewUniformMesh creates a coarse mesh over the finalized geometry's domain.
func NewUniformMesh(g *Geometry, numX, numY int) (*UniformMesh, error) {
	if !g.finalized {
		return nil, errorf("coarse mesh requires a finalized geometry")
	}
	if numX <= 0 || numY <= 0 {
		return nil, errorf("coarse mesh dimensions %dx%d must be positive", numX, numY)
	}
	return &UniformMesh{
		NumX: numX, NumY: numY,
		XMin: g.xMin, XMax: g.xMax,
		YMin: g.yMin, YMax: g.yMax,
	}, nil
}

// NumCells returns the coarse cell count.
func (m *UniformMesh) NumCells() int { return m.NumX * m.NumY }

// DeltaX returns the coarse cell width.
func (m *UniformMesh) DeltaX() float64 { return (m.XMax - m.XMin) / float64(m.NumX) }

// DeltaY returns the coarse cell height.
func (m *UniformMesh) DeltaY() float64 { return (m.YMax - m.YMin) / float64(m.NumY) }

// CellIndex resolves a point to its coarse cell, clamped to the mesh.
func (m *UniformMesh) CellIndex(p Point) int {
	ix := int(math.Floor((p.X - m.XMin) / m.DeltaX()))
	iy := int(math.Floor((p.Y - m.YMin) / m.DeltaY()))
	if ix < 0 {
		ix = 0
	}
	if ix >= m.NumX {
		ix = m.NumX - 1
	}
	if iy < 0 {
		iy = 0
	}
	if iy >= m.NumY {
		iy = m.NumY - 1
	}
	return iy*m.NumX + ix
}

// CellXY splits a flat coarse cell index into its column and row.
func (m *UniformMesh) CellXY(cell int) (ix, iy int) {
	return cell % m.NumX, cell / m.NumX
}
