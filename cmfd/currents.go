// Package cmfd accelerates the source iteration with a coarse-mesh
// finite-difference (CMFD) solve. Surface currents tallied during the
// transport sweep define nonlinear coupling corrections that make the
// coarse diffusion operator reproduce the transport net currents exactly,
// so the accelerated fixed point is the transport fixed point.
package cmfd

import (
	"fmt"

	"github.com/notargets/MOCKernel/geometry"
)

// Currents accumulates signed outward current tallies on the walls of the
// coarse mesh, per cell, side, and energy group. Each sweep worker owns a
// private Currents; they are merged at the sweep barrier.
type Currents struct {
	mesh   *geometry.UniformMesh
	groups int

	// data[(cell*4+side)*groups+g] is the net outward current tally of
	// the cell through that side. Internal crossings update both adjacent
	// cells so the two views of a shared wall stay equal and opposite.
	data []float64
}

// NewCurrents creates an empty tally set over the given mesh.
func NewCurrents(mesh *geometry.UniformMesh, groups int) *Currents {
	return &Currents{
		mesh:   mesh,
		groups: groups,
		data:   make([]float64, mesh.NumCells()*4*groups),
	}
}

// Reset zeroes all tallies for the next sweep.
func (c *Currents) Reset() {
	for i := range c.data {
		c.data[i] = 0
	}
}

// Merge adds another worker's tallies into this one.
func (c *Currents) Merge(other *Currents) error {
	if len(other.data) != len(c.data) {
		return fmt.Errorf("cmfd: cannot merge current tallies of size %d into size %d",
			len(other.data), len(c.data))
	}
	for i, v := range other.data {
		c.data[i] += v
	}
	return nil
}

// TallyCrossing records a weighted angular flux crossing between two
// spatially adjacent coarse cells (a segment junction on a shared wall).
// A corner crossing that changes both the column and the row is routed
// through the intermediate cell, one wall at a time.
func (c *Currents) TallyCrossing(from, to, g int, w float64) {
	if from == to {
		return
	}
	fx, fy := c.mesh.CellXY(from)
	tx, ty := c.mesh.CellXY(to)

	if tx != fx && ty != fy {
		mid := fy*c.mesh.NumX + tx
		c.TallyCrossing(from, mid, g, w)
		c.TallyCrossing(mid, to, g, w)
		return
	}

	var side geometry.Side
	switch {
	case tx > fx:
		side = geometry.SideRight
	case tx < fx:
		side = geometry.SideLeft
	case ty > fy:
		side = geometry.SideTop
	default:
		side = geometry.SideBottom
	}
	c.data[(from*4+int(side))*c.groups+g] += w
	c.data[(to*4+int(opposite(side)))*c.groups+g] -= w
}

// TallyPeriodic records a weighted angular flux leaving through a periodic
// wall and re-entering at the opposite wall of the wrapped cell. The exit
// side is named explicitly because cell indices alone cannot distinguish a
// wrap from a direct crossing on very small meshes.
func (c *Currents) TallyPeriodic(exitCell int, side geometry.Side, enterCell, g int, w float64) {
	c.data[(exitCell*4+int(side))*c.groups+g] += w
	c.data[(enterCell*4+int(opposite(side)))*c.groups+g] -= w
}

// TallyBoundary records a weighted angular flux leaving the domain through
// the wall of a boundary cell (vacuum leakage current).
func (c *Currents) TallyBoundary(cell int, side geometry.Side, g int, w float64) {
	c.data[(cell*4+int(side))*c.groups+g] += w
}

// net returns the accumulated net outward current of a cell through a side.
func (c *Currents) net(cell int, side geometry.Side, g int) float64 {
	return c.data[(cell*4+int(side))*c.groups+g]
}

func opposite(s geometry.Side) geometry.Side {
	switch s {
	case geometry.SideLeft:
		return geometry.SideRight
	case geometry.SideRight:
		return geometry.SideLeft
	case geometry.SideBottom:
		return geometry.SideTop
	default:
		return geometry.SideBottom
	}
}
