package tracker

import "fmt"

// Partition is one sweep worker's contiguous slice of the track index
// space. Tracks are independent within a sweep, so any disjoint covering
// assignment is valid; contiguous ranges keep segment access sequential.
type Partition struct {
	// Unique identifier for this partition, also the worker index
	ID int

	// Track index range [Start, Start+Count)
	Start int
	Count int
}

// PartitionLayout is the complete decomposition of the track index space
// across sweep workers.
type PartitionLayout struct {
	Partitions []Partition

	// Global sizing information
	TotalTracks   int
	NumPartitions int
	MaxCount      int // max(Count) across partitions, the sweep's critical path
}

// NewPartitionLayout splits totalTracks across workers as evenly as
// possible. Workers beyond the track count receive empty partitions.
func NewPartitionLayout(totalTracks, workers int) (*PartitionLayout, error) {
	if totalTracks <= 0 {
		return nil, fmt.Errorf("cannot partition %d tracks", totalTracks)
	}
	if workers <= 0 {
		return nil, fmt.Errorf("cannot partition tracks across %d workers", workers)
	}

	pl := &PartitionLayout{
		Partitions:    make([]Partition, workers),
		TotalTracks:   totalTracks,
		NumPartitions: workers,
	}

	base := totalTracks / workers
	extra := totalTracks % workers
	start := 0
	for p := 0; p < workers; p++ {
		count := base
		if p < extra {
			count++
		}
		pl.Partitions[p] = Partition{ID: p, Start: start, Count: count}
		start += count
		if count > pl.MaxCount {
			pl.MaxCount = count
		}
	}

	if err := pl.Validate(); err != nil {
		return nil, err
	}
	return pl, nil
}

// Validate checks partition consistency: contiguous, disjoint, and covering
// the full track index space.
func (pl *PartitionLayout) Validate() error {
	next := 0
	actualMax := 0
	for _, p := range pl.Partitions {
		if p.Start != next {
			return fmt.Errorf("partition %d: starts at %d, want %d", p.ID, p.Start, next)
		}
		if p.Count < 0 {
			return fmt.Errorf("partition %d: negative count %d", p.ID, p.Count)
		}
		next += p.Count
		if p.Count > actualMax {
			actualMax = p.Count
		}
	}
	if next != pl.TotalTracks {
		return fmt.Errorf("partitions cover %d tracks, want %d", next, pl.TotalTracks)
	}
	if actualMax != pl.MaxCount {
		return fmt.Errorf("computed MaxCount %d != stored MaxCount %d", actualMax, pl.MaxCount)
	}
	return nil
}
