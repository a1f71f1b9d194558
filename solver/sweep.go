package solver

import (
	"golang.org/x/sync/errgroup"

	"github.com/notargets/MOCKernel/geometry"
	"github.com/notargets/MOCKernel/tracker"
)

// transportSweep traverses every track in both directions, attenuating the
// incoming boundary flux through each segment and tallying the angular
// flux differences into per-worker FSR accumulators. The accumulators are
// merged in worker-index order at the barrier, so the result does not
// depend on goroutine scheduling or the worker count partitioning beyond
// floating point association within fixed partitions.
func (s *Solver) transportSweep() error {
	for i := range s.tally {
		s.tally[i] = 0
	}
	if s.currents != nil {
		s.currents.Reset()
	}
	for _, w := range s.workers {
		for i := range w.tally {
			w.tally[i] = 0
		}
		if w.currents != nil {
			w.currents.Reset()
		}
	}

	var eg errgroup.Group
	for _, w := range s.workers {
		w := w
		eg.Go(func() error {
			s.sweepPartition(w)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, w := range s.workers {
		for i, v := range w.tally {
			s.tally[i] += v
		}
		if s.currents != nil {
			if err := s.currents.Merge(w.currents); err != nil {
				return err
			}
		}
	}
	return nil
}

// sweepPartition sweeps one worker's contiguous track range, both
// directions per track, reading fluxIn and writing fluxOut.
func (s *Solver) sweepPartition(w *sweepWorker) {
	for ti := w.part.Start; ti < w.part.Start+w.part.Count; ti++ {
		t := s.gen.Track(ti)
		s.sweepTrack(w, t, tracker.Forward)
		s.sweepTrack(w, t, tracker.Backward)
	}
}

func (s *Solver) sweepTrack(w *sweepWorker, t *tracker.Track, dir tracker.Direction) {
	off := (t.Index*2 + int(dir)) * s.pg
	copy(w.psi, s.fluxIn[off:off+s.pg])
	pw := s.polarWeights[t.Azim*s.numPolar : (t.Azim+1)*s.numPolar]

	n := len(t.Segments)
	for k := 0; k < n; k++ {
		seg := &t.Segments[k]
		if dir == tracker.Backward {
			seg = &t.Segments[n-1-k]
		}
		s.attenuate(w, pw, seg)

		if w.currents != nil && k < n-1 {
			next := &t.Segments[k+1]
			if dir == tracker.Backward {
				next = &t.Segments[n-2-k]
			}
			if next.MeshCell != seg.MeshCell {
				s.tallyJunction(w, pw, seg.MeshCell, next.MeshCell)
			}
		}
	}
	copy(s.fluxOut[off:off+s.pg], w.psi)
}

// attenuate applies one segment to the running angular flux and tallies
// the flux change into the worker's FSR accumulator. A group with zero
// total cross section streams: the source accumulates along the path
// unattenuated.
func (s *Solver) attenuate(w *sweepWorker, pw []float64, seg *geometry.Segment) {
	G := s.groups
	base := seg.FSR * G
	for g := 0; g < G; g++ {
		st := seg.Material.SigmaT[g]
		if st == 0 {
			q := s.source[base+g]
			for p := 0; p < s.numPolar; p++ {
				gain := q * seg.Length / s.quad.SinThetas[p]
				w.tally[base+g] -= gain * pw[p]
				w.psi[p*G+g] += gain
			}
			continue
		}
		tau := st * seg.Length
		ratio := s.ratios[base+g]
		for p := 0; p < s.numPolar; p++ {
			delta := (w.psi[p*G+g] - ratio) * s.exp.Attenuation(tau, p)
			w.tally[base+g] += delta * pw[p]
			w.psi[p*G+g] -= delta
		}
	}
}

// tallyJunction records the angular flux crossing a coarse-mesh wall at a
// segment junction.
func (s *Solver) tallyJunction(w *sweepWorker, pw []float64, from, to int) {
	G := s.groups
	for p := 0; p < s.numPolar; p++ {
		wp := 0.5 * pw[p]
		for g := 0; g < G; g++ {
			w.currents.TallyCrossing(from, to, g, wp*w.psi[p*G+g])
		}
	}
}

// transferBoundaryFlux moves every track's outgoing flux across its link
// into the receiving track's incoming bank, accumulates the vacuum leakage
// for the eigenvalue balance, and tallies boundary currents for the
// coarse-mesh acceleration. Runs serially at the sweep barrier.
func (s *Solver) transferBoundaryFlux() {
	s.leakage = 0
	G := s.groups

	for ti := 0; ti < s.gen.NumTracks(); ti++ {
		t := s.gen.Track(ti)
		pw := s.polarWeights[t.Azim*s.numPolar : (t.Azim+1)*s.numPolar]

		for d := 0; d < 2; d++ {
			off := (ti*2 + d) * s.pg
			out := s.fluxOut[off : off+s.pg]
			info := &s.exits[ti*2+d]

			switch info.kind {
			case exitVacuum:
				for p := 0; p < s.numPolar; p++ {
					for g := 0; g < G; g++ {
						s.leakage += out[p*G+g] * pw[p]
					}
				}
				if s.currents != nil && info.cell >= 0 {
					s.tallyExit(out, pw, info.cell, info.side, -1)
				}

			case exitReflective:
				in := (info.link.Track*2 + int(info.link.Direction)) * s.pg
				copy(s.fluxIn[in:in+s.pg], out)

			case exitPeriodic:
				in := (info.link.Track*2 + int(info.link.Direction)) * s.pg
				copy(s.fluxIn[in:in+s.pg], out)
				if s.currents != nil && info.cell >= 0 {
					s.tallyExit(out, pw, info.cell, info.side, info.enterCell)
				}
			}
		}
	}
}

// tallyExit records a track-end current: pure leakage when enterCell is
// negative, a periodic wrap otherwise.
func (s *Solver) tallyExit(out, pw []float64, cell int, side geometry.Side, enterCell int) {
	G := s.groups
	for p := 0; p < s.numPolar; p++ {
		wp := 0.5 * pw[p]
		for g := 0; g < G; g++ {
			if enterCell < 0 {
				s.currents.TallyBoundary(cell, side, g, wp*out[p*G+g])
			} else {
				s.currents.TallyPeriodic(cell, side, enterCell, g, wp*out[p*G+g])
			}
		}
	}
}
