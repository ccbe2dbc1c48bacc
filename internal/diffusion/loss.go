package diffusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/schedule"
)

// ErrNonFinite reports NaN or Inf in a loss or sampler result. The core never
// recovers from it; the caller decides whether to skip the batch or abort.
var ErrNonFinite = errors.New("non-finite value")

// LossStats carries the two statistics emitted per training call: the
// p2-weighted mean squared error that drives gradients, and the unweighted
// maximum absolute deviation used to spot degenerate per-element predictions
// that averaging would hide.
type LossStats struct {
	WeightedMSE   float64
	MaxAbsDev     float64
	ValidElements int
}

// Loss computes the weighted noise-matching loss over a batch. Each sample
// carries its own timestep; masks exclude padding residues from both
// statistics.
func Loss(s *schedule.NoiseSchedule, predicted, target []*mat.Dense, ts []int, masks [][]bool) (LossStats, error) {
	stats, _, err := lossWithGrads(s, predicted, target, ts, masks, false)
	return stats, err
}

// LossGrads additionally returns d(loss)/d(predicted) per sample, for the
// training loop to feed into the denoiser's backward pass.
func LossGrads(s *schedule.NoiseSchedule, predicted, target []*mat.Dense, ts []int, masks [][]bool) (LossStats, []*mat.Dense, error) {
	return lossWithGrads(s, predicted, target, ts, masks, true)
}

func lossWithGrads(s *schedule.NoiseSchedule, predicted, target []*mat.Dense, ts []int, masks [][]bool, wantGrads bool) (LossStats, []*mat.Dense, error) {
	if len(predicted) != len(target) || len(predicted) != len(ts) || len(predicted) != len(masks) {
		return LossStats{}, nil, fmt.Errorf("batch size mismatch: predicted=%d target=%d timesteps=%d masks=%d",
			len(predicted), len(target), len(ts), len(masks))
	}
	if len(predicted) == 0 {
		return LossStats{}, nil, fmt.Errorf("empty batch")
	}

	validCount := 0
	for b := range predicted {
		rows, cols := predicted[b].Dims()
		tRows, tCols := target[b].Dims()
		if rows != tRows || cols != tCols {
			return LossStats{}, nil, fmt.Errorf("sample %d: predicted %dx%d does not match target %dx%d",
				b, rows, cols, tRows, tCols)
		}
		if masks[b] != nil && len(masks[b]) != rows {
			return LossStats{}, nil, fmt.Errorf("sample %d: mask length %d does not match %d residues", b, len(masks[b]), rows)
		}
		if ts[b] < 0 || ts[b] >= s.Steps() {
			return LossStats{}, nil, fmt.Errorf("sample %d: timestep %d outside schedule [0, %d)", b, ts[b], s.Steps())
		}
		for i := 0; i < rows; i++ {
			if masks[b] == nil || masks[b][i] {
				validCount += cols
			}
		}
	}
	if validCount == 0 {
		return LossStats{}, nil, fmt.Errorf("no valid residues in batch")
	}

	var grads []*mat.Dense
	if wantGrads {
		grads = make([]*mat.Dense, len(predicted))
	}

	sum := 0.0
	maxDev := 0.0
	for b := range predicted {
		rows, cols := predicted[b].Dims()
		weight := s.P2Weight(ts[b])
		var grad *mat.Dense
		if wantGrads {
			grad = mat.NewDense(rows, cols, nil)
			grads[b] = grad
		}
		for i := 0; i < rows; i++ {
			if masks[b] != nil && !masks[b][i] {
				continue
			}
			for j := 0; j < cols; j++ {
				diff := predicted[b].At(i, j) - target[b].At(i, j)
				sum += weight * diff * diff
				if dev := math.Abs(diff); dev > maxDev {
					maxDev = dev
				}
				if grad != nil {
					grad.Set(i, j, 2*weight*diff/float64(validCount))
				}
			}
		}
	}

	stats := LossStats{
		WeightedMSE:   sum / float64(validCount),
		MaxAbsDev:     maxDev,
		ValidElements: validCount,
	}
	if math.IsNaN(stats.WeightedMSE) || math.IsInf(stats.WeightedMSE, 0) ||
		math.IsNaN(stats.MaxAbsDev) || math.IsInf(stats.MaxAbsDev, 0) {
		return stats, grads, fmt.Errorf("loss: %w", ErrNonFinite)
	}
	return stats, grads, nil
}
