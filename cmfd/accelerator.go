package cmfd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/material"
	"github.com/notargets/MOCKernel/tracker"
)

const (
	// sigmaTFloor keeps the diffusion coefficient finite in near-void cells.
	sigmaTFloor = 1e-8

	// Inner eigenvalue iteration controls.
	eigenTolerance = 1e-8
	eigenMaxIters  = 1000
)

// Accelerator owns the coarse-mesh finite-difference solve: cross-section
// condensation, coupling coefficients from the tallied currents, the
// coarse eigenvalue problem, and prolongation of the coarse flux update
// back onto the fine flat source regions.
//
// The correction coefficients D-hat are under-relaxed between calls, so an
// Accelerator carries state across outer iterations and belongs to a
// single solve.
type Accelerator struct {
	mesh   *geometry.UniformMesh
	geom   *geometry.Geometry
	groups int
	omega  float64

	fsrCells  []int
	volumes   []float64
	materials []*material.Material

	cellVolumes []float64

	// dhat[(cell*4+side)*groups+g], kept across calls for under-relaxation.
	dhat    []float64
	hasDhat bool
}

// New builds an accelerator over the generator's coarse mesh. The mesh
// must be attached to the generator before track generation so segments
// carry coarse-cell labels. omega in (0, 1] under-relaxes the nonlinear
// correction coefficients; 1 means no relaxation.
func New(gen *tracker.Generator, omega float64) (*Accelerator, error) {
	mesh := gen.Mesh()
	if mesh == nil {
		return nil, fmt.Errorf("cmfd: generator has no coarse mesh attached")
	}
	if omega <= 0 || omega > 1 {
		return nil, fmt.Errorf("cmfd: under-relaxation factor %g outside (0, 1]", omega)
	}
	mats := gen.FSRMaterials()
	if len(mats) == 0 {
		return nil, fmt.Errorf("cmfd: generator has no flat source regions; generate tracks first")
	}
	groups := mats[0].NumGroups

	a := &Accelerator{
		mesh:        mesh,
		geom:        gen.Geometry(),
		groups:      groups,
		omega:       omega,
		fsrCells:    make([]int, len(mats)),
		volumes:     gen.Volumes(),
		materials:   mats,
		cellVolumes: make([]float64, mesh.NumCells()),
		dhat:        make([]float64, mesh.NumCells()*4*groups),
	}
	for r := range mats {
		c := mesh.CellIndex(gen.FSRPoint(r))
		a.fsrCells[r] = c
		a.cellVolumes[c] += a.volumes[r]
	}
	for c, v := range a.cellVolumes {
		if v <= 0 {
			return nil, fmt.Errorf("cmfd: coarse cell %d contains no flat source region", c)
		}
	}
	return a, nil
}

// NewCurrents creates a tally set matching this accelerator's mesh.
func (a *Accelerator) NewCurrents() *Currents {
	return NewCurrents(a.mesh, a.groups)
}

// Groups returns the energy group count.
func (a *Accelerator) Groups() int { return a.groups }

// condensed holds the flux-volume-weighted coarse-cell cross sections.
type condensed struct {
	flux   []float64 // [cell*G+g], volume-averaged
	sigT   []float64
	sigA   []float64
	nuF    []float64
	chi    []float64
	sigS   []float64 // [cell][g*G+g'], g -> g'
	diffus []float64
}

// condense collapses the fine flux and cross sections onto the coarse
// cells by flux-volume weighting. Chi is weighted by each region's fission
// production.
func (a *Accelerator) condense(flux []float64) *condensed {
	G := a.groups
	cells := a.mesh.NumCells()
	cd := &condensed{
		flux:   make([]float64, cells*G),
		sigT:   make([]float64, cells*G),
		sigA:   make([]float64, cells*G),
		nuF:    make([]float64, cells*G),
		chi:    make([]float64, cells*G),
		sigS:   make([]float64, cells*G*G),
		diffus: make([]float64, cells*G),
	}

	fluxVol := make([]float64, cells*G)
	chiWeight := make([]float64, cells)

	for r, m := range a.materials {
		c := a.fsrCells[r]
		v := a.volumes[r]

		var production float64
		for g := 0; g < G; g++ {
			production += m.NuSigmaF[g] * flux[r*G+g] * v
		}
		chiWeight[c] += production
		for g := 0; g < G; g++ {
			cd.chi[c*G+g] += m.Chi[g] * production
		}

		for g := 0; g < G; g++ {
			fv := flux[r*G+g] * v
			fluxVol[c*G+g] += fv
			cd.sigT[c*G+g] += m.SigmaT[g] * fv
			cd.sigA[c*G+g] += m.SigmaA[g] * fv
			cd.nuF[c*G+g] += m.NuSigmaF[g] * fv
			for gp := 0; gp < G; gp++ {
				cd.sigS[(c*G+g)*G+gp] += m.ScatterXS(g, gp) * fv
			}
		}
	}

	for c := 0; c < cells; c++ {
		for g := 0; g < G; g++ {
			fv := fluxVol[c*G+g]
			if fv > 0 {
				cd.sigT[c*G+g] /= fv
				cd.sigA[c*G+g] /= fv
				cd.nuF[c*G+g] /= fv
				for gp := 0; gp < G; gp++ {
					cd.sigS[(c*G+g)*G+gp] /= fv
				}
			}
			if chiWeight[c] > 0 {
				cd.chi[c*G+g] /= chiWeight[c]
			} else {
				cd.chi[c*G+g] = 0
			}
			cd.flux[c*G+g] = fv / a.cellVolumes[c]
			cd.diffus[c*G+g] = 1 / (3 * math.Max(cd.sigT[c*G+g], sigmaTFloor))
		}
	}
	return cd
}

// relaxDhat blends a freshly computed correction coefficient with the one
// stored from the previous outer iteration.
func (a *Accelerator) relaxDhat(cell int, side geometry.Side, g int, dhat float64) float64 {
	idx := (cell*4 + int(side)) * a.groups
	if a.hasDhat {
		dhat = a.omega*dhat + (1-a.omega)*a.dhat[idx+g]
	}
	a.dhat[idx+g] = dhat
	return dhat
}

// Update runs one coarse solve against the given fine scalar flux and the
// sweep's current tallies, prolongates the coarse flux update onto the
// fine flux in place, and returns the coarse eigenvalue. keff seeds the
// inner power iteration.
func (a *Accelerator) Update(flux []float64, cur *Currents, keff float64) (float64, error) {
	G := a.groups
	nx, ny := a.mesh.NumX, a.mesh.NumY
	cells := nx * ny
	n := cells * G
	dx, dy := a.mesh.DeltaX(), a.mesh.DeltaY()
	bc := a.geom.Boundary

	cd := a.condense(flux)

	A := mat.NewDense(n, n, nil)
	F := mat.NewDense(n, n, nil)

	// Cell-interior terms: removal, in-scatter, fission.
	for c := 0; c < cells; c++ {
		v := a.cellVolumes[c]
		for g := 0; g < G; g++ {
			row := c*G + g
			removal := cd.sigA[c*G+g]
			for gp := 0; gp < G; gp++ {
				if gp != g {
					removal += cd.sigS[(c*G+g)*G+gp]
				}
			}
			A.Set(row, row, A.At(row, row)+removal*v)
			for gp := 0; gp < G; gp++ {
				if gp != g {
					col := c*G + gp
					A.Set(row, col, A.At(row, col)-cd.sigS[(c*G+gp)*G+g]*v)
				}
			}
			for gp := 0; gp < G; gp++ {
				F.Set(row, c*G+gp, cd.chi[c*G+g]*cd.nuF[c*G+gp]*v)
			}
		}
	}

	// Wall coupling. Each internal (or periodic-wrapped) wall is visited
	// once, from the right/top side of the lower-index cell; vacuum walls
	// are visited from their boundary cell; reflective walls carry no
	// leakage and are skipped.
	couple := func(i, j int, side geometry.Side, wallLen, delta float64) {
		for g := 0; g < G; g++ {
			di := cd.diffus[i*G+g]
			dj := cd.diffus[j*G+g]
			dtil := 2 * di * dj / (delta * (di + dj))
			fi := cd.flux[i*G+g]
			fj := cd.flux[j*G+g]
			jnet := cur.net(i, side, g) / wallLen
			var dhat float64
			if fi+fj > 0 {
				dhat = (jnet + dtil*(fj-fi)) / (fi + fj)
			}
			dhat = a.relaxDhat(i, side, g, dhat)

			ri, rj := i*G+g, j*G+g
			A.Set(ri, ri, A.At(ri, ri)+(dtil+dhat)*wallLen)
			A.Set(ri, rj, A.At(ri, rj)+(dhat-dtil)*wallLen)
			A.Set(rj, rj, A.At(rj, rj)+(dtil-dhat)*wallLen)
			A.Set(rj, ri, A.At(rj, ri)-(dtil+dhat)*wallLen)
		}
	}
	leak := func(i int, side geometry.Side, wallLen, delta float64) {
		for g := 0; g < G; g++ {
			di := cd.diffus[i*G+g]
			dtil := 2 * di / (4*di + delta)
			fi := cd.flux[i*G+g]
			jnet := cur.net(i, side, g) / wallLen
			var dhat float64
			if fi > 0 {
				dhat = jnet/fi - dtil
			}
			dhat = a.relaxDhat(i, side, g, dhat)

			ri := i*G + g
			A.Set(ri, ri, A.At(ri, ri)+(dtil+dhat)*wallLen)
		}
	}

	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			i := iy*nx + ix

			switch {
			case ix < nx-1:
				couple(i, i+1, geometry.SideRight, dy, dx)
			case bc(geometry.SideRight) == geometry.BoundaryPeriodic:
				couple(i, iy*nx, geometry.SideRight, dy, dx)
			case bc(geometry.SideRight) == geometry.BoundaryVacuum:
				leak(i, geometry.SideRight, dy, dx)
			}
			if ix == 0 && bc(geometry.SideLeft) == geometry.BoundaryVacuum {
				leak(i, geometry.SideLeft, dy, dx)
			}

			switch {
			case iy < ny-1:
				couple(i, i+nx, geometry.SideTop, dx, dy)
			case bc(geometry.SideTop) == geometry.BoundaryPeriodic:
				couple(i, ix, geometry.SideTop, dx, dy)
			case bc(geometry.SideTop) == geometry.BoundaryVacuum:
				leak(i, geometry.SideTop, dx, dy)
			}
			if iy == 0 && bc(geometry.SideBottom) == geometry.BoundaryVacuum {
				leak(i, geometry.SideBottom, dx, dy)
			}
		}
	}
	a.hasDhat = true

	k, coarse, err := a.solveEigenvalue(A, F, cd.flux, keff)
	if err != nil {
		return 0, err
	}
	if err := a.prolongate(flux, cd, F, coarse); err != nil {
		return 0, err
	}
	return k, nil
}

// solveEigenvalue runs a power iteration on the generalized problem
// A phi = (1/k) F phi, with A factorized once.
func (a *Accelerator) solveEigenvalue(A, F *mat.Dense, guess []float64, keff float64) (float64, *mat.VecDense, error) {
	n := len(guess)
	var lu mat.LU
	lu.Factorize(A)

	x := mat.NewVecDense(n, append([]float64(nil), guess...))
	src := mat.NewVecDense(n, nil)
	src.MulVec(F, x)
	total := floats.Sum(src.RawVector().Data)
	if total <= 0 {
		return 0, nil, fmt.Errorf("cmfd: coarse problem has no fission source")
	}

	k := keff
	if k <= 0 || math.IsNaN(k) {
		k = 1
	}
	b := mat.NewVecDense(n, nil)
	newSrc := mat.NewVecDense(n, nil)

	for it := 0; it < eigenMaxIters; it++ {
		b.ScaleVec(1/k, src)
		if err := lu.SolveVecTo(x, false, b); err != nil {
			return 0, nil, fmt.Errorf("cmfd: coarse loss matrix solve failed: %w", err)
		}
		newSrc.MulVec(F, x)
		newTotal := floats.Sum(newSrc.RawVector().Data)
		if newTotal <= 0 || math.IsNaN(newTotal) {
			return 0, nil, fmt.Errorf("cmfd: coarse fission source lost positivity")
		}
		kNew := k * newTotal / total
		converged := math.Abs(kNew-k) < eigenTolerance*kNew
		k = kNew
		src, newSrc = newSrc, src
		total = floats.Sum(src.RawVector().Data)
		if converged {
			return k, x, nil
		}
	}
	return 0, nil, fmt.Errorf("cmfd: coarse eigenvalue failed to converge in %d iterations", eigenMaxIters)
}

// prolongate scales the fine flux by the per-cell per-group ratio of the
// coarse solution to the condensed flux. The coarse solution is first
// rescaled so the total fission production is unchanged, which preserves
// the fine problem's normalization.
func (a *Accelerator) prolongate(flux []float64, cd *condensed, F *mat.Dense, coarse *mat.VecDense) error {
	G := a.groups
	n := coarse.Len()

	oldProd := mat.NewVecDense(n, nil)
	newProd := mat.NewVecDense(n, nil)
	oldProd.MulVec(F, mat.NewVecDense(n, cd.flux))
	newProd.MulVec(F, coarse)
	oldTotal := floats.Sum(oldProd.RawVector().Data)
	newTotal := floats.Sum(newProd.RawVector().Data)
	if newTotal <= 0 {
		return fmt.Errorf("cmfd: prolongation scale undefined, coarse fission production %g", newTotal)
	}
	scale := oldTotal / newTotal

	factor := make([]float64, n)
	for i := 0; i < n; i++ {
		if cd.flux[i] > 0 {
			factor[i] = scale * coarse.AtVec(i) / cd.flux[i]
		} else {
			factor[i] = 1
		}
		if factor[i] <= 0 || math.IsNaN(factor[i]) {
			return fmt.Errorf("cmfd: prolongation factor %g at coarse unknown %d", factor[i], i)
		}
	}

	for r := range a.fsrCells {
		c := a.fsrCells[r]
		for g := 0; g < G; g++ {
			flux[r*G+g] *= factor[c*G+g]
		}
	}
	return nil
}
