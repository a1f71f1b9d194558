package geometry

import "math"

// CellArea returns the analytic area of a terminal cell for volume
// validation against track-reconstructed FSR volumes. Supported shapes are
// the ones the builder and the ring/sector subdivision produce: axis-aligned
// boxes, circles and annuli (optionally cut to an angular sector by planes
// through the circle center), and boxes with a circular hole.
func (g *Geometry) CellArea(c *Cell) (float64, error) {
	outer, inner, _ := c.boundingCircles()

	if outer != nil {
		rOut := outer.Radius()
		rIn := 0.0
		if inner != nil {
			rIn = inner.Radius()
		}
		frac, err := sectorFraction(c, outer.Center())
		if err != nil {
			return 0, err
		}
		return math.Pi * (rOut*rOut - rIn*rIn) * frac, nil
	}

	xMin, xMax, yMin, yMax, err := boxBounds(c)
	if err != nil {
		return 0, err
	}
	area := (xMax - xMin) * (yMax - yMin)
	if inner != nil {
		area -= math.Pi * inner.Radius() * inner.Radius()
	}
	if area <= 0 {
		return 0, errorf("cell %d has non-positive analytic area %g", c.id, area)
	}
	return area, nil
}

// sectorFraction returns the angular fraction of a circle-bounded cell cut
// by sector planes through the circle center: 1 with no sector planes, 1/2
// with a single plane, and the normalized angle between the bounding plane
// normals with a plus/minus pair.
func sectorFraction(c *Cell, center Point) (float64, error) {
	var (
		posAngle, negAngle float64
		posSet, negSet     bool
	)
	for _, hs := range c.Surfaces {
		pl, ok := hs.Surface.(*Plane)
		if !ok {
			continue
		}
		if math.Abs(pl.Evaluate(center)) > 1e-9 {
			continue // not a sector plane for this circle
		}
		a := math.Atan2(pl.B, pl.A)
		if hs.Halfspace == 1 {
			posAngle, posSet = a, true
		} else {
			negAngle, negSet = a, true
		}
	}

	switch {
	case !posSet && !negSet:
		return 1, nil
	case posSet && !negSet:
		return 0.5, nil
	case posSet && negSet:
		width := math.Mod(negAngle-posAngle+4*math.Pi, 2*math.Pi)
		if width == 0 {
			width = 2 * math.Pi
		}
		return width / (2 * math.Pi), nil
	default:
		return 0, errorf("cell %d: sector plane pair is incomplete", c.id)
	}
}

// boxBounds extracts the axis-aligned extent of a cell bounded by X and Y
// planes.
func boxBounds(c *Cell) (xMin, xMax, yMin, yMax float64, err error) {
	xMin, yMin = math.Inf(-1), math.Inf(-1)
	xMax, yMax = math.Inf(1), math.Inf(1)

	for _, hs := range c.Surfaces {
		switch s := hs.Surface.(type) {
		case *XPlane:
			if hs.Halfspace == 1 && s.X() > xMin {
				xMin = s.X()
			}
			if hs.Halfspace == -1 && s.X() < xMax {
				xMax = s.X()
			}
		case *YPlane:
			if hs.Halfspace == 1 && s.Y() > yMin {
				yMin = s.Y()
			}
			if hs.Halfspace == -1 && s.Y() < yMax {
				yMax = s.Y()
			}
		}
	}
	if math.IsInf(xMin, -1) || math.IsInf(xMax, 1) || math.IsInf(yMin, -1) || math.IsInf(yMax, 1) {
		return 0, 0, 0, 0, errorf("cell %d has no closed analytic area", c.id)
	}
	return xMin, xMax, yMin, yMax, nil
}
