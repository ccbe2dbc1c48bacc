package dataset

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Stats holds per-channel normalization statistics computed over the valid
// residues of a training set, after centering.
type Stats struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// Center translates a structure so the centroid of its valid CA atoms sits at
// the origin. Every backbone atom shares the translation, so geometry is
// preserved. Structures with no valid residues are left untouched.
func Center(st *Structure) {
	var cx, cy, cz float64
	n := 0
	for i, ok := range st.Mask {
		if !ok {
			continue
		}
		// CA occupies channels 3..5.
		cx += st.Coords.At(i, 3)
		cy += st.Coords.At(i, 4)
		cz += st.Coords.At(i, 5)
		n++
	}
	if n == 0 {
		return
	}
	cx /= float64(n)
	cy /= float64(n)
	cz /= float64(n)

	for i, ok := range st.Mask {
		if !ok {
			continue
		}
		for a := 0; a < len(backboneAtoms); a++ {
			st.Coords.Set(i, a*3+0, st.Coords.At(i, a*3+0)-cx)
			st.Coords.Set(i, a*3+1, st.Coords.At(i, a*3+1)-cy)
			st.Coords.Set(i, a*3+2, st.Coords.At(i, a*3+2)-cz)
		}
	}
}

// ComputeStats gathers per-channel mean and standard deviation over the valid
// residues of already-centered structures.
func ComputeStats(structures []*Structure) (*Stats, error) {
	if len(structures) == 0 {
		return nil, fmt.Errorf("no structures to compute statistics over")
	}

	samples := make([][]float64, Channels)
	for _, st := range structures {
		for i, ok := range st.Mask {
			if !ok {
				continue
			}
			for j := 0; j < Channels; j++ {
				samples[j] = append(samples[j], st.Coords.At(i, j))
			}
		}
	}
	if len(samples[0]) == 0 {
		return nil, fmt.Errorf("no valid residues to compute statistics over")
	}

	stats := &Stats{Mean: make([]float64, Channels), Std: make([]float64, Channels)}
	for j := 0; j < Channels; j++ {
		mean, std := stat.MeanStdDev(samples[j], nil)
		if math.IsNaN(std) || std < 1e-8 {
			std = 1
		}
		stats.Mean[j] = mean
		stats.Std[j] = std
	}
	return stats, nil
}

// Normalize maps a centered structure into model space in place:
// (x - mean) / std per channel, with padded rows left at zero.
func (s *Stats) Normalize(st *Structure) {
	for i, ok := range st.Mask {
		if !ok {
			continue
		}
		for j := 0; j < Channels; j++ {
			st.Coords.Set(i, j, (st.Coords.At(i, j)-s.Mean[j])/s.Std[j])
		}
	}
}

// Denormalize maps a model-space coordinate tensor back to angstroms. Rows
// excluded by mask are zeroed. The input is not modified.
func (s *Stats) Denormalize(coords *mat.Dense, mask []bool) *mat.Dense {
	rows, cols := coords.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		if mask != nil && !mask[i] {
			continue
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, coords.At(i, j)*s.Std[j]+s.Mean[j])
		}
	}
	return out
}

// Validate checks that stats loaded from a checkpoint have the expected
// channel width and finite, positive scales.
func (s *Stats) Validate() error {
	if len(s.Mean) != Channels || len(s.Std) != Channels {
		return fmt.Errorf("stats have %d/%d channels, want %d", len(s.Mean), len(s.Std), Channels)
	}
	for j := 0; j < Channels; j++ {
		if math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("channel %d mean is non-finite", j)
		}
		if !(s.Std[j] > 0) || math.IsInf(s.Std[j], 0) {
			return fmt.Errorf("channel %d std %v is not a positive finite scale", j, s.Std[j])
		}
	}
	return nil
}
