// Package solver implements the characteristics transport sweep and the
// power-iteration eigenvalue loop: flat source updates, exponential
// attenuation along track segments, boundary flux exchange, and the
// k-effective estimate from reaction rate balance.
package solver

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/notargets/MOCKernel/cmfd"
	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/material"
	"github.com/notargets/MOCKernel/quadrature"
	"github.com/notargets/MOCKernel/tracker"
)

const fourPi = 4 * math.Pi

// NumericalError is a fatal numerical failure of the iteration: a NaN or
// negative scalar flux after a sweep. The solve aborts rather than clamp.
type NumericalError struct {
	msg string
}

func (e *NumericalError) Error() string {
	return "solver: " + e.msg
}

func numErrorf(format string, args ...interface{}) *NumericalError {
	return &NumericalError{msg: fmt.Sprintf(format, args...)}
}

// Status reports how a solve ended.
type Status int

const (
	StatusConverged Status = iota
	StatusMaxIterations
)

func (s Status) String() string {
	if s == StatusConverged {
		return "converged"
	}
	return "max iterations reached"
}

// Result carries the outcome of a Converge call. A StatusMaxIterations
// result is a warning, not an error: Keff holds the last estimate.
type Result struct {
	Keff       float64
	Iterations int
	Residual   float64
	Status     Status
}

// Config tunes a Solver. The zero value selects three Tabuchi-Yamamoto
// polar angles, one worker per CPU, a 1e-5 source residual tolerance,
// interpolated exponentials, no acceleration, and no logging.
type Config struct {
	// NumPolar is the polar angle count per azimuthal direction (1-3).
	NumPolar int
	// Quadrature selects the polar quadrature set.
	Quadrature quadrature.Type
	// Workers is the sweep worker count.
	Workers int
	// Tolerance is the RMS source residual at which the iteration stops.
	Tolerance float64
	// ExactExponentials disables the interpolation table and evaluates
	// every attenuation factor exactly.
	ExactExponentials bool
	// Accelerator enables CMFD acceleration between sweeps.
	Accelerator *cmfd.Accelerator
	// Logger receives per-iteration diagnostics at debug level.
	Logger *zap.Logger
}

// Solver drives the source iteration over a generated track set. State is
// retained between Converge calls, so a second call warm-starts from the
// previous flux.
type Solver struct {
	gen    *tracker.Generator
	geom   *geometry.Geometry
	quad   *quadrature.Polar
	exp    *ExpEvaluator
	layout *tracker.PartitionLayout
	accel  *cmfd.Accelerator
	logger *zap.Logger
	tol    float64

	numFSRs  int
	groups   int
	numPolar int
	pg       int // numPolar * groups, the per-track-end flux stride

	volumes   []float64
	materials []*material.Material

	// polarWeights[azim*numPolar+p] = w_a * m_p * 4pi, the tally weight.
	polarWeights []float64

	// Per-(FSR, group) iteration state.
	scalarFlux []float64
	tally      []float64
	source     []float64
	oldSource  []float64
	ratios     []float64

	// Boundary angular flux, double banked: the sweep reads fluxIn and
	// writes fluxOut; the transfer pass moves fluxOut across track links
	// into fluxIn for the next sweep. Layout [ (track*2+dir)*pg + p*G+g ].
	fluxIn  []float64
	fluxOut []float64

	exits    []exitInfo // per (track*2+dir), boundary bookkeeping at the exit end
	workers  []*sweepWorker
	currents *cmfd.Currents

	keff    float64
	leakage float64
	started bool
}

// sweepWorker is one worker's private sweep state: the running angular
// flux and the tally accumulators merged in worker order at the barrier.
type sweepWorker struct {
	part     tracker.Partition
	psi      []float64
	tally    []float64
	currents *cmfd.Currents
}

// exitKind classifies what happens to flux leaving a track end.
type exitKind uint8

const (
	exitVacuum exitKind = iota
	exitReflective
	exitPeriodic
)

// exitInfo pre-resolves the boundary bookkeeping for one track end: the
// link to follow, the domain side, and the coarse cells involved for
// current tallies.
type exitInfo struct {
	kind      exitKind
	link      tracker.Link
	side      geometry.Side
	cell      int // coarse cell adjacent to the exit, -1 without a mesh
	enterCell int // coarse cell the flux re-enters for periodic links
}

// New builds a solver over a generated track set.
func New(gen *tracker.Generator, cfg Config) (*Solver, error) {
	if gen.NumTracks() == 0 || gen.Volumes() == nil {
		return nil, fmt.Errorf("solver: tracks are not generated")
	}
	if cfg.NumPolar == 0 {
		cfg.NumPolar = 3
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = 1e-5
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tolerance < 0 {
		return nil, fmt.Errorf("solver: negative tolerance %g", cfg.Tolerance)
	}

	quad, err := quadrature.NewPolar(cfg.Quadrature, cfg.NumPolar)
	if err != nil {
		return nil, err
	}

	mats := gen.FSRMaterials()
	groups := mats[0].NumGroups
	for r, m := range mats {
		if m.NumGroups != groups {
			return nil, fmt.Errorf("solver: FSR %d material %q has %d groups, want %d",
				r, m.Name, m.NumGroups, groups)
		}
	}

	layout, err := gen.Partition(cfg.Workers)
	if err != nil {
		return nil, err
	}

	s := &Solver{
		gen:       gen,
		geom:      gen.Geometry(),
		quad:      quad,
		exp:       NewExpEvaluator(quad, gen.MaxOpticalLength(), !cfg.ExactExponentials),
		layout:    layout,
		accel:     cfg.Accelerator,
		logger:    cfg.Logger,
		tol:       cfg.Tolerance,
		numFSRs:   len(mats),
		groups:    groups,
		numPolar:  cfg.NumPolar,
		pg:        cfg.NumPolar * groups,
		volumes:   gen.Volumes(),
		materials: mats,
		keff:      1,
	}

	s.polarWeights = make([]float64, gen.NumAzim2()*cfg.NumPolar)
	for a := 0; a < gen.NumAzim2(); a++ {
		for p := 0; p < cfg.NumPolar; p++ {
			s.polarWeights[a*cfg.NumPolar+p] = gen.AzimWeight(a) * quad.Multiples[p] * fourPi
		}
	}

	n := s.numFSRs * groups
	s.scalarFlux = make([]float64, n)
	s.tally = make([]float64, n)
	s.source = make([]float64, n)
	s.oldSource = make([]float64, n)
	s.ratios = make([]float64, n)
	s.fluxIn = make([]float64, gen.NumTracks()*2*s.pg)
	s.fluxOut = make([]float64, gen.NumTracks()*2*s.pg)

	if err := s.resolveExits(); err != nil {
		return nil, err
	}

	s.workers = make([]*sweepWorker, layout.NumPartitions)
	for i, part := range layout.Partitions {
		w := &sweepWorker{
			part:  part,
			psi:   make([]float64, s.pg),
			tally: make([]float64, n),
		}
		if s.accel != nil {
			w.currents = s.accel.NewCurrents()
		}
		s.workers[i] = w
	}
	if s.accel != nil {
		if s.accel.Groups() != groups {
			return nil, fmt.Errorf("solver: accelerator condensed %d groups, solver has %d",
				s.accel.Groups(), groups)
		}
		s.currents = s.accel.NewCurrents()
	}
	return s, nil
}

// resolveExits classifies both ends of every track for the transfer pass.
func (s *Solver) resolveExits() error {
	s.exits = make([]exitInfo, s.gen.NumTracks()*2)
	mesh := s.gen.Mesh()

	for i := 0; i < s.gen.NumTracks(); i++ {
		t := s.gen.Track(i)
		fwd, err := s.classifyExit(t, tracker.Forward, mesh)
		if err != nil {
			return err
		}
		bwd, err := s.classifyExit(t, tracker.Backward, mesh)
		if err != nil {
			return err
		}
		s.exits[i*2] = fwd
		s.exits[i*2+1] = bwd
	}
	return nil
}

func (s *Solver) classifyExit(t *tracker.Track, dir tracker.Direction, mesh *geometry.UniformMesh) (exitInfo, error) {
	link := t.LinkForward
	exit := t.End
	lastSeg := t.Segments[len(t.Segments)-1]
	if dir == tracker.Backward {
		link = t.LinkBackward
		exit = t.Start
		lastSeg = t.Segments[0]
	}

	info := exitInfo{link: link, cell: -1, enterCell: -1}
	side, err := sideOf(s.geom, exit)
	if err != nil {
		return exitInfo{}, err
	}
	info.side = side
	if mesh != nil {
		info.cell = lastSeg.MeshCell
	}

	if link.Track < 0 {
		info.kind = exitVacuum
		return info, nil
	}

	next := s.gen.Track(link.Track)
	entry := next.Start
	entrySeg := next.Segments[0]
	if link.Direction == tracker.Backward {
		entry = next.End
		entrySeg = next.Segments[len(next.Segments)-1]
	}

	tol := 1e-6 * math.Max(s.geom.Width(), s.geom.Height())
	if exit.Distance(entry) < tol {
		info.kind = exitReflective
	} else {
		info.kind = exitPeriodic
		if mesh != nil {
			info.enterCell = entrySeg.MeshCell
		}
	}
	return info, nil
}

// sideOf identifies the domain edge a boundary point lies on.
func sideOf(g *geometry.Geometry, p geometry.Point) (geometry.Side, error) {
	xMin, xMax, yMin, yMax := g.Bounds()
	tol := 1e-6 * math.Max(g.Width(), g.Height())
	switch {
	case math.Abs(p.X-xMin) < tol:
		return geometry.SideLeft, nil
	case math.Abs(p.X-xMax) < tol:
		return geometry.SideRight, nil
	case math.Abs(p.Y-yMin) < tol:
		return geometry.SideBottom, nil
	case math.Abs(p.Y-yMax) < tol:
		return geometry.SideTop, nil
	}
	return 0, fmt.Errorf("solver: track end (%g, %g) is not on the domain boundary", p.X, p.Y)
}

// Converge runs source iterations until the RMS source residual drops
// below the tolerance (after at least two iterations) or maxIters is
// reached. Hitting the cap is reported through Result.Status, not as an
// error; fatal numerical failures abort with a NumericalError.
func (s *Solver) Converge(maxIters int) (*Result, error) {
	if maxIters <= 0 {
		return nil, fmt.Errorf("solver: iteration cap %d must be positive", maxIters)
	}
	if !s.started {
		for i := range s.scalarFlux {
			s.scalarFlux[i] = 1
		}
		s.started = true
	}

	var residual float64
	for iter := 1; iter <= maxIters; iter++ {
		start := time.Now()

		if err := s.normalizeFluxes(); err != nil {
			return nil, err
		}
		residual = s.computeFSRSources()
		if err := s.transportSweep(); err != nil {
			return nil, err
		}
		s.transferBoundaryFlux()
		s.addSourceToScalarFlux()
		s.computeKeff()

		if s.accel != nil {
			kCoarse, err := s.accel.Update(s.scalarFlux, s.currents, s.keff)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("cmfd update", zap.Int("iteration", iter), zap.Float64("keff_cmfd", kCoarse))
		}

		if err := s.checkFlux(iter); err != nil {
			return nil, err
		}

		s.logger.Debug("source iteration",
			zap.Int("iteration", iter),
			zap.Float64("keff", s.keff),
			zap.Float64("residual", residual),
			zap.Duration("elapsed", time.Since(start)),
		)

		if iter > 1 && residual < s.tol {
			return &Result{Keff: s.keff, Iterations: iter, Residual: residual, Status: StatusConverged}, nil
		}
	}
	return &Result{Keff: s.keff, Iterations: maxIters, Residual: residual, Status: StatusMaxIterations}, nil
}

// normalizeFluxes rescales the scalar and boundary fluxes so the total
// fission source is one neutron.
func (s *Solver) normalizeFluxes() error {
	var total float64
	G := s.groups
	for r, m := range s.materials {
		total += s.volumes[r] * floats.Dot(m.NuSigmaF, s.scalarFlux[r*G:(r+1)*G])
	}
	if total <= 0 || math.IsNaN(total) {
		return numErrorf("total fission source %g; the problem needs fissionable material", total)
	}
	floats.Scale(1/total, s.scalarFlux)
	floats.Scale(1/total, s.fluxIn)
	return nil
}

// computeFSRSources updates the flat source and source-to-sigma ratios
// from the current flux and eigenvalue, and returns the RMS relative
// change against the previous source.
func (s *Solver) computeFSRSources() float64 {
	G := s.groups
	copy(s.oldSource, s.source)

	var norm float64
	for r, m := range s.materials {
		fission := floats.Dot(m.NuSigmaF, s.scalarFlux[r*G:(r+1)*G]) / s.keff

		for g := 0; g < G; g++ {
			var scatter float64
			for gp := 0; gp < G; gp++ {
				scatter += m.ScatterXS(gp, g) * s.scalarFlux[r*G+gp]
			}
			q := (m.Chi[g]*fission + scatter) / fourPi
			idx := r*G + g
			s.source[idx] = q
			if m.SigmaT[g] > 0 {
				s.ratios[idx] = q / m.SigmaT[g]
			} else {
				s.ratios[idx] = 0
			}
			if q != 0 {
				d := (q - s.oldSource[idx]) / q
				norm += d * d
			}
		}
	}
	return math.Sqrt(norm / float64(s.numFSRs))
}

// addSourceToScalarFlux folds the sweep tallies and the flat source into
// the new scalar flux estimate.
func (s *Solver) addSourceToScalarFlux() {
	G := s.groups
	for r, m := range s.materials {
		v := s.volumes[r]
		for g := 0; g < G; g++ {
			idx := r*G + g
			st := m.SigmaT[g]
			if st > 0 {
				s.scalarFlux[idx] = fourPi*s.ratios[idx] + 0.5*s.tally[idx]/(st*v)
			} else {
				s.scalarFlux[idx] = fourPi * s.source[idx]
			}
		}
	}
}

// computeKeff updates the eigenvalue from the reaction rate balance
// production / (absorption + leakage).
func (s *Solver) computeKeff() {
	G := s.groups
	var fission, absorption float64
	for r, m := range s.materials {
		v := s.volumes[r]
		phi := s.scalarFlux[r*G : (r+1)*G]
		fission += v * floats.Dot(m.NuSigmaF, phi)
		absorption += v * floats.Dot(m.SigmaA, phi)
	}
	s.keff = fission / (absorption + 0.5*s.leakage)
}

// checkFlux aborts the solve on NaN or negative scalar flux.
func (s *Solver) checkFlux(iter int) error {
	for i, phi := range s.scalarFlux {
		if math.IsNaN(phi) || phi < 0 {
			return numErrorf("scalar flux %g in FSR %d group %d at iteration %d",
				phi, i/s.groups, i%s.groups, iter)
		}
	}
	if math.IsNaN(s.keff) || s.keff <= 0 {
		return numErrorf("k-effective %g at iteration %d", s.keff, iter)
	}
	return nil
}

// Keff returns the current eigenvalue estimate.
func (s *Solver) Keff() float64 { return s.keff }

// ScalarFlux returns the scalar flux of an FSR and group.
func (s *Solver) ScalarFlux(fsr, group int) float64 {
	return s.scalarFlux[fsr*s.groups+group]
}

// FSRVolume returns the tracked volume of an FSR.
func (s *Solver) FSRVolume(fsr int) float64 { return s.volumes[fsr] }

// NumGroups returns the energy group count.
func (s *Solver) NumGroups() int { return s.groups }

// NumFSRs returns the flat source region count.
func (s *Solver) NumFSRs() int { return s.numFSRs }
