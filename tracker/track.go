// Package tracker generates the characteristic tracks of the transport
// sweep: the cyclic azimuthal track layout, boundary linkage between tracks,
// per-track FSR segmentation, and the partitioning of the track index space
// across sweep workers.
package tracker

import (
	"fmt"

	"github.com/notargets/MOCKernel/geometry"
)

// Direction identifies one of the two sweep directions along a track:
// Forward runs Start to End at the track's azimuthal angle, Backward runs
// End to Start at the complement.
type Direction int

const (
	Forward  Direction = 0
	Backward Direction = 1
)

// Link says where the angular flux exiting one track end continues. Tracks
// are referenced by flat integer index rather than pointers, so the cyclic
// reflective/periodic reference graph carries no ownership cycles.
type Link struct {
	// Track is the index of the receiving track, -1 at a vacuum boundary.
	Track int
	// Direction the flux enters the receiving track with.
	Direction Direction
	// BC scales the transferred flux: 1 for reflective and periodic
	// boundaries, 0 for vacuum (the flux leaks out).
	BC float64
}

// Track is one characteristic ray clipped to the domain, with its ordered
// FSR segments and the boundary links for both sweep directions.
type Track struct {
	Index int
	Azim  int     // azimuthal angle index in [0, numAzim/2)
	Phi   float64 // effective azimuthal angle in (0, pi)

	Start, End geometry.Point

	Segments []geometry.Segment

	LinkForward  Link // continuation of flux exiting at End
	LinkBackward Link // continuation of flux exiting at Start
}

// Length returns the geometric chord length of the track.
func (t *Track) Length() float64 {
	return t.Start.Distance(t.End)
}

// SegmentLengthSum returns the summed segment lengths, which must match
// Length to within the segmentation nudge tolerance.
func (t *Track) SegmentLengthSum() float64 {
	var sum float64
	for _, s := range t.Segments {
		sum += s.Length
	}
	return sum
}

func (t *Track) String() string {
	return fmt.Sprintf("Track %d azim=%d phi=%.6f (%.4f,%.4f)->(%.4f,%.4f) segments=%d",
		t.Index, t.Azim, t.Phi, t.Start.X, t.Start.Y, t.End.X, t.End.Y, len(t.Segments))
}

// Error is a fatal track generation error: an FSR no track crosses, a
// degenerate angle/spacing combination, or an unmatched boundary link.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return "tracker: " + e.msg
}

func errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}
