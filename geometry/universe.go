package geometry

import (
	"fmt"
	"math"
)

// Universe is an ordered collection of cells that must tile its domain with
// no gaps or overlaps. Cells are tested for point containment in insertion
// order, so callers should add common-case cells first.
type Universe struct {
	ID    int
	Cells []*Cell

	// FSR offset of each cell within this universe's flat index space,
	// keyed by cell ID. Built at geometry finalization.
	fsrOffsets map[int]int
	numFSRs    int
}

// NewUniverse creates an empty universe.
func NewUniverse(id int) *Universe {
	return &Universe{ID: id, fsrOffsets: make(map[int]int)}
}

// AddCell appends a cell to the universe.
func (u *Universe) AddCell(c *Cell) {
	u.Cells = append(u.Cells, c)
}

// FindCell returns the first cell containing p, or nil if no cell does.
func (u *Universe) FindCell(p Point) *Cell {
	for _, c := range u.Cells {
		if c.ContainsPoint(p) {
			return c
		}
	}
	return nil
}

// NumFSRs returns the flat source region count below this universe. Valid
// only after geometry finalization.
func (u *Universe) NumFSRs() int { return u.numFSRs }

// Lattice is a structured 2D array of universes on a uniform pitch, centered
// on the origin of its local frame. Row 0 is the bottom row.
type Lattice struct {
	ID             int
	NumX, NumY     int
	PitchX, PitchY float64
	Universes      [][]int // [row][column] universe IDs, row 0 at the bottom

	fsrOffsets [][]int
	numFSRs    int
}

// NewLattice creates a lattice of numX×numY universes with the given cell
// pitch. The universe layout is assigned with SetUniverses.
func NewLattice(id int, numX, numY int, pitchX, pitchY float64) (*Lattice, error) {
	if numX <= 0 || numY <= 0 {
		return nil, errorf("lattice %d: dimensions %dx%d must be positive", id, numX, numY)
	}
	if pitchX <= 0 || pitchY <= 0 {
		return nil, errorf("lattice %d: pitch %gx%g must be positive", id, pitchX, pitchY)
	}
	return &Lattice{ID: id, NumX: numX, NumY: numY, PitchX: pitchX, PitchY: pitchY}, nil
}

// SetUniverses assigns the universe ID filling each lattice cell. The outer
// slice must have NumY rows of NumX entries, row 0 at the bottom.
func (l *Lattice) SetUniverses(ids [][]int) error {
	if len(ids) != l.NumY {
		return errorf("lattice %d: %d rows of universes, want %d", l.ID, len(ids), l.NumY)
	}
	for j, row := range ids {
		if len(row) != l.NumX {
			return errorf("lattice %d: row %d has %d universes, want %d", l.ID, j, len(row), l.NumX)
		}
	}
	l.Universes = make([][]int, l.NumY)
	for j := range ids {
		l.Universes[j] = append([]int(nil), ids[j]...)
	}
	return nil
}

// WidthX returns the full x extent of the lattice.
func (l *Lattice) WidthX() float64 { return float64(l.NumX) * l.PitchX }

// WidthY returns the full y extent of the lattice.
func (l *Lattice) WidthY() float64 { return float64(l.NumY) * l.PitchY }

// CellIndex resolves a point in the lattice's local frame to integer cell
// indices by division on the pitch, clamped to the lattice extent.
func (l *Lattice) CellIndex(p Point) (ix, iy int) {
	ix = int(math.Floor((p.X + l.WidthX()/2) / l.PitchX))
	iy = int(math.Floor((p.Y + l.WidthY()/2) / l.PitchY))
	if ix < 0 {
		ix = 0
	}
	if ix >= l.NumX {
		ix = l.NumX - 1
	}
	if iy < 0 {
		iy = 0
	}
	if iy >= l.NumY {
		iy = l.NumY - 1
	}
	return ix, iy
}

// CellCenter returns the center of lattice cell (ix, iy) in the lattice's
// local frame.
func (l *Lattice) CellCenter(ix, iy int) Point {
	return Point{
		X: -l.WidthX()/2 + (float64(ix)+0.5)*l.PitchX,
		Y: -l.WidthY()/2 + (float64(iy)+0.5)*l.PitchY,
	}
}

// NumFSRs returns the flat source region count below this lattice. Valid
// only after geometry finalization.
func (l *Lattice) NumFSRs() int { return l.numFSRs }

func (l *Lattice) String() string {
	return fmt.Sprintf("Lattice id=%d %dx%d pitch=%gx%g", l.ID, l.NumX, l.NumY, l.PitchX, l.PitchY)
}

// LocalCoords is one level of the coordinate chain built while descending
// the universe/cell/lattice hierarchy for a point. The chain keeps every
// level's local frame so segmentation can intersect surfaces at each depth.
type LocalCoords struct {
	UniverseID int
	Cell       *Cell // resolved cell at this level, nil while descending

	// Lattice placement, set when this level entered through a lattice.
	Lattice            *Lattice
	LatticeX, LatticeY int

	Point Point // the point in this level's local frame
	Next  *LocalCoords
}

// Deepest returns the last level of the chain.
func (lc *LocalCoords) Deepest() *LocalCoords {
	for lc.Next != nil {
		lc = lc.Next
	}
	return lc
}
