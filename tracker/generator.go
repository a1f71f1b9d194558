package tracker

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/material"
)

// Generator produces the cyclic track layout for a finalized geometry. The
// requested azimuthal angle count and track spacing are adjusted per angle
// so tracks hit each domain edge at an integer number of points, which
// guarantees that reflective and periodic boundary links form closed cycles.
type Generator struct {
	geom     *geometry.Geometry
	numAzim  int // requested angles over [0, 2pi), multiple of 4
	numAzim2 int // stored angles over [0, pi)
	spacing  float64

	mesh *geometry.UniformMesh // optional acceleration overlay

	// Per-azimuthal-angle layout.
	phiEff      []float64
	numX, numY  []int
	spacingEff  []float64
	azimWeights []float64
	offsets     []int // first track index per angle

	tracks []Track

	// FSR bookkeeping from segmentation.
	volumes      []float64
	fsrMaterials []*material.Material
	fsrPoints    []geometry.Point
	maxTau       float64

	generated bool
}

// NewGenerator creates a track generator. numAzim counts angles over the
// full [0, 2pi) range and must be a positive multiple of 4 so every angle
// has a distinct complement; spacing is the requested perpendicular track
// separation.
func NewGenerator(g *geometry.Geometry, numAzim int, spacing float64) (*Generator, error) {
	if numAzim <= 0 || numAzim%4 != 0 {
		return nil, errorf("azimuthal angle count %d must be a positive multiple of 4", numAzim)
	}
	if spacing <= 0 {
		return nil, errorf("track spacing %g must be positive", spacing)
	}
	if g.NumFSRs() == 0 {
		return nil, errorf("geometry has no flat source regions; finalize it first")
	}
	return &Generator{
		geom:     g,
		numAzim:  numAzim,
		numAzim2: numAzim / 2,
		spacing:  spacing,
	}, nil
}

// SetMesh attaches a coarse acceleration mesh. Segments are labeled with
// their coarse cell during generation so the sweep can tally surface
// currents at segment junctions.
func (tg *Generator) SetMesh(m *geometry.UniformMesh) {
	tg.mesh = m
}

// Generate lays out the tracks, links their ends per the domain boundary
// conditions, segmentizes them against the geometry in parallel across
// azimuthal angles, and audits FSR coverage.
func (tg *Generator) Generate() error {
	if tg.generated {
		return errorf("tracks already generated")
	}
	tg.layout()
	if err := tg.link(); err != nil {
		return err
	}
	if err := tg.segmentize(); err != nil {
		return err
	}
	if err := tg.audit(); err != nil {
		return err
	}
	tg.generated = true
	return nil
}

// layout computes the cyclic per-angle track counts, effective angles and
// spacings, azimuthal weights, and the start/end point of every track.
func (tg *Generator) layout() {
	w := tg.geom.Width()
	h := tg.geom.Height()
	xMin, _, yMin, _ := tg.geom.Bounds()

	n := tg.numAzim2
	tg.phiEff = make([]float64, n)
	tg.numX = make([]int, n)
	tg.numY = make([]int, n)
	tg.spacingEff = make([]float64, n)
	tg.azimWeights = make([]float64, n)
	tg.offsets = make([]int, n+1)

	for i := 0; i < n; i++ {
		phi := 2 * math.Pi / float64(tg.numAzim) * (0.5 + float64(i))

		// Force integer intersection counts on each edge; this trades the
		// requested spacing for an exactly cyclic layout.
		nx := int(math.Abs(w/tg.spacing*math.Sin(phi))) + 1
		ny := int(math.Abs(h/tg.spacing*math.Cos(phi))) + 1

		phiEff := math.Atan2(h*float64(nx), w*float64(ny))
		if phi > math.Pi/2 {
			phiEff = math.Pi - phiEff
		}

		tg.numX[i] = nx
		tg.numY[i] = ny
		tg.phiEff[i] = phiEff
		tg.spacingEff[i] = (w / float64(nx)) * math.Sin(phiEff)
	}

	// Azimuthal weights: half-distance to the neighboring effective angles,
	// normalized over [0, 2pi) with the complement angle folded in, times
	// the effective spacing.
	for i := 0; i < n; i++ {
		var x1, x2 float64
		if i < n-1 {
			x1 = 0.5 * (tg.phiEff[i+1] - tg.phiEff[i])
		} else {
			x1 = math.Pi - tg.phiEff[i]
		}
		if i >= 1 {
			x2 = 0.5 * (tg.phiEff[i] - tg.phiEff[i-1])
		} else {
			x2 = tg.phiEff[i]
		}
		tg.azimWeights[i] = (x1 + x2) / (2 * math.Pi) * tg.spacingEff[i] * 2
	}

	total := 0
	for i := 0; i < n; i++ {
		tg.offsets[i] = total
		total += tg.numX[i] + tg.numY[i]
	}
	tg.offsets[n] = total

	tg.tracks = make([]Track, total)
	for i := 0; i < n; i++ {
		phi := tg.phiEff[i]
		dxEff := w / float64(tg.numX[i])
		dyEff := h / float64(tg.numY[i])
		idx := tg.offsets[i]

		// Tracks starting on the bottom edge.
		for j := 0; j < tg.numX[i]; j++ {
			start := geometry.Point{X: xMin + (0.5+float64(j))*dxEff, Y: yMin}
			tg.tracks[idx] = Track{
				Index: idx,
				Azim:  i,
				Phi:   phi,
				Start: start,
				End:   tg.boxExit(start, phi),
			}
			idx++
		}
		// Tracks starting on the left (quadrant I) or right (quadrant II)
		// edge.
		for j := 0; j < tg.numY[i]; j++ {
			x := xMin
			if phi > math.Pi/2 {
				x = xMin + w
			}
			start := geometry.Point{X: x, Y: yMin + (0.5+float64(j))*dyEff}
			tg.tracks[idx] = Track{
				Index: idx,
				Azim:  i,
				Phi:   phi,
				Start: start,
				End:   tg.boxExit(start, phi),
			}
			idx++
		}
	}
}

// boxExit returns where the ray from start at angle phi leaves the domain.
func (tg *Generator) boxExit(start geometry.Point, phi float64) geometry.Point {
	xMin, xMax, _, yMax := tg.geom.Bounds()
	dx := math.Cos(phi)
	dy := math.Sin(phi)

	t := (yMax - start.Y) / dy // dy > 0 for phi in (0, pi)
	if dx > 0 {
		if tx := (xMax - start.X) / dx; tx < t {
			t = tx
		}
	} else if dx < 0 {
		if tx := (xMin - start.X) / dx; tx < t {
			t = tx
		}
	}
	return geometry.Point{X: start.X + t*dx, Y: start.Y + t*dy}
}

// endpointRef locates one end of a track for boundary matching.
type endpointRef struct {
	track   int
	isStart bool
}

// link resolves the next-track references at both ends of every track by
// matching boundary points: the cyclic layout guarantees a reflected or
// translated partner endpoint coincides exactly (to floating point) with
// the expected point.
func (tg *Generator) link() error {
	w := tg.geom.Width()
	h := tg.geom.Height()
	quantum := 1e-6 * math.Max(w, h)

	key := func(p geometry.Point) [2]int {
		return [2]int{int(math.Round(p.X / quantum)), int(math.Round(p.Y / quantum))}
	}

	index := make(map[[2]int][]endpointRef, 2*len(tg.tracks))
	for i := range tg.tracks {
		t := &tg.tracks[i]
		index[key(t.Start)] = append(index[key(t.Start)], endpointRef{i, true})
		index[key(t.End)] = append(index[key(t.End)], endpointRef{i, false})
	}

	// find returns the unique endpoint of a track at the given azimuthal
	// index coincident with p, excluding track self.
	find := func(p geometry.Point, azim, self int) (endpointRef, bool) {
		k := key(p)
		for di := -1; di <= 1; di++ {
			for dj := -1; dj <= 1; dj++ {
				for _, ref := range index[[2]int{k[0] + di, k[1] + dj}] {
					if ref.track == self || tg.tracks[ref.track].Azim != azim {
						continue
					}
					q := tg.tracks[ref.track].Start
					if !ref.isStart {
						q = tg.tracks[ref.track].End
					}
					if p.Distance(q) < quantum {
						return ref, true
					}
				}
			}
		}
		return endpointRef{}, false
	}

	for i := range tg.tracks {
		t := &tg.tracks[i]

		fwd, err := tg.resolveLink(t, t.End, find)
		if err != nil {
			return err
		}
		t.LinkForward = fwd

		bwd, err := tg.resolveLink(t, t.Start, find)
		if err != nil {
			return err
		}
		t.LinkBackward = bwd
	}
	return nil
}

// resolveLink builds the continuation link for the flux exiting a track at
// the given boundary point.
func (tg *Generator) resolveLink(t *Track, exit geometry.Point,
	find func(geometry.Point, int, int) (endpointRef, bool)) (Link, error) {

	side, err := tg.sideOf(exit)
	if err != nil {
		return Link{}, err
	}
	bc := tg.geom.Boundary(side)

	switch bc {
	case geometry.BoundaryVacuum:
		return Link{Track: -1, Direction: Forward, BC: 0}, nil

	case geometry.BoundaryReflective:
		comp := tg.numAzim2 - 1 - t.Azim
		ref, ok := find(exit, comp, t.Index)
		if !ok {
			return Link{}, errorf("track %d: no reflective partner at (%g, %g)", t.Index, exit.X, exit.Y)
		}
		return Link{Track: ref.track, Direction: entryDirection(ref), BC: 1}, nil

	case geometry.BoundaryPeriodic:
		if tg.geom.Boundary(opposite(side)) != geometry.BoundaryPeriodic {
			return Link{}, errorf("periodic boundary on side %d has a non-periodic opposite side", side)
		}
		translated := tg.translate(exit, side)
		ref, ok := find(translated, t.Azim, t.Index)
		if !ok {
			return Link{}, errorf("track %d: no periodic partner at (%g, %g)", t.Index, translated.X, translated.Y)
		}
		return Link{Track: ref.track, Direction: entryDirection(ref), BC: 1}, nil

	default:
		return Link{}, errorf("domain boundary side %d has no boundary condition", side)
	}
}

// entryDirection maps a matched endpoint to the direction the entering flux
// travels: entering at a track's start can only continue forward, entering
// at its end only backward.
func entryDirection(ref endpointRef) Direction {
	if ref.isStart {
		return Forward
	}
	return Backward
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

// translate moves a boundary point across the domain for periodic linkage.
func (tg *Generator) translate(p geometry.Point, side geometry.Side) geometry.Point {
	w := tg.geom.Width()
	h := tg.geom.Height()
	switch side {
	case geometry.SideLeft:
		return geometry.Point{X: p.X + w, Y: p.Y}
	case geometry.SideRight:
		return geometry.Point{X: p.X - w, Y: p.Y}
	case geometry.SideBottom:
		return geometry.Point{X: p.X, Y: p.Y + h}
	default:
		return geometry.Point{X: p.X, Y: p.Y - h}
	}
}

// sideOf identifies the domain edge a boundary point lies on.
func (tg *Generator) sideOf(p geometry.Point) (geometry.Side, error) {
	xMin, xMax, yMin, yMax := tg.geom.Bounds()
	tol := 1e-6 * math.Max(tg.geom.Width(), tg.geom.Height())

	switch {
	case math.Abs(p.X-xMin) < tol:
		return geometry.SideLeft, nil
	case math.Abs(p.X-xMax) < tol:
		return geometry.SideRight, nil
	case math.Abs(p.Y-yMin) < tol:
		return geometry.SideBottom, nil
	case math.Abs(p.Y-yMax) < tol:
		return geometry.SideTop, nil
	default:
		return 0, errorf("point (%g, %g) is not on the domain boundary", p.X, p.Y)
	}
}

// segmentize walks every track through the geometry, in parallel across
// azimuthal angles (tracks of different angles share no mutable state).
func (tg *Generator) segmentize() error {
	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())

	for a := 0; a < tg.numAzim2; a++ {
		lo, hi := tg.offsets[a], tg.offsets[a+1]
		eg.Go(func() error {
			for i := lo; i < hi; i++ {
				t := &tg.tracks[i]
				segments, err := tg.geom.SegmentizeTrack(t.Start, t.End, t.Phi)
				if err != nil {
					return err
				}
				if len(segments) == 0 {
					return errorf("track %d produced no segments", t.Index)
				}
				if tg.mesh != nil {
					labelMeshCells(t, segments, tg.mesh)
				}
				t.Segments = segments
			}
			return nil
		})
	}
	return eg.Wait()
}

// labelMeshCells assigns each segment the coarse cell of its midpoint.
func labelMeshCells(t *Track, segments []geometry.Segment, mesh *geometry.UniformMesh) {
	dx := math.Cos(t.Phi)
	dy := math.Sin(t.Phi)
	cum := 0.0
	for k := range segments {
		mid := cum + segments[k].Length/2
		p := geometry.Point{X: t.Start.X + mid*dx, Y: t.Start.Y + mid*dy}
		segments[k].MeshCell = mesh.CellIndex(p)
		cum += segments[k].Length
	}
}

// audit reconstructs FSR volumes from the segment lengths, records each
// FSR's material and a representative interior point, and fails on any FSR
// no track crossed.
func (tg *Generator) audit() error {
	numFSRs := tg.geom.NumFSRs()
	tg.volumes = make([]float64, numFSRs)
	tg.fsrMaterials = make([]*material.Material, numFSRs)
	tg.fsrPoints = make([]geometry.Point, numFSRs)
	tg.maxTau = 0

	for i := range tg.tracks {
		t := &tg.tracks[i]
		weight := tg.azimWeights[t.Azim]
		dx := math.Cos(t.Phi)
		dy := math.Sin(t.Phi)
		cum := 0.0

		for _, s := range t.Segments {
			tg.volumes[s.FSR] += s.Length * weight
			if tg.fsrMaterials[s.FSR] == nil {
				tg.fsrMaterials[s.FSR] = s.Material
				mid := cum + s.Length/2
				tg.fsrPoints[s.FSR] = geometry.Point{
					X: t.Start.X + mid*dx,
					Y: t.Start.Y + mid*dy,
				}
			}
			for _, st := range s.Material.SigmaT {
				if tau := s.Length * st; tau > tg.maxTau {
					tg.maxTau = tau
				}
			}
			cum += s.Length
		}
	}

	for r, v := range tg.volumes {
		if v <= 0 {
			return errorf("FSR %d is crossed by no track at spacing %g with %d azimuthal angles; "+
				"refine the spacing or angle count", r, tg.spacing, tg.numAzim)
		}
	}
	return nil
}

// NumTracks returns the total generated track count.
func (tg *Generator) NumTracks() int { return len(tg.tracks) }

// NumAzim2 returns the stored azimuthal angle count over [0, pi).
func (tg *Generator) NumAzim2() int { return tg.numAzim2 }

// Track returns the track at flat index i.
func (tg *Generator) Track(i int) *Track { return &tg.tracks[i] }

// AzimWeight returns the azimuthal quadrature weight (including the
// effective spacing) for angle index a.
func (tg *Generator) AzimWeight(a int) float64 { return tg.azimWeights[a] }

// EffectiveSpacing reports the actual track spacing used for angle a, which
// differs slightly from the requested spacing because of the cyclic layout
// adjustment.
func (tg *Generator) EffectiveSpacing(a int) float64 { return tg.spacingEff[a] }

// EffectiveAngle returns the adjusted azimuthal angle for angle index a.
func (tg *Generator) EffectiveAngle(a int) float64 { return tg.phiEff[a] }

// Volumes returns the FSR volumes reconstructed from segment lengths and
// azimuthal weights. Valid after Generate.
func (tg *Generator) Volumes() []float64 { return tg.volumes }

// FSRMaterials returns the material of each FSR. Valid after Generate.
func (tg *Generator) FSRMaterials() []*material.Material { return tg.fsrMaterials }

// FSRPoint returns a representative interior point of an FSR.
func (tg *Generator) FSRPoint(r int) geometry.Point { return tg.fsrPoints[r] }

// MaxOpticalLength returns the largest sigma_t times segment length over
// all segments and groups, used to size the exponential table.
func (tg *Generator) MaxOpticalLength() float64 { return tg.maxTau }

// Partition splits the generated track index space into balanced sweep
// work partitions, one per worker.
func (tg *Generator) Partition(workers int) (*PartitionLayout, error) {
	return NewPartitionLayout(len(tg.tracks), workers)
}

// Mesh returns the attached acceleration mesh, nil if none.
func (tg *Generator) Mesh() *geometry.UniformMesh { return tg.mesh }

// Geometry returns the geometry the tracks were generated against.
func (tg *Generator) Geometry() *geometry.Geometry { return tg.geom }
