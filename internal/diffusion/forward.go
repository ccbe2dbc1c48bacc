// Package diffusion implements the forward corruption process, the weighted
// training loss and the two reverse-process samplers. Everything here is a
// pure function of its inputs plus the immutable noise schedule; randomness
// is always an explicit argument.
package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/schedule"
)

// NoiseLike draws a rows x cols standard-normal tensor from r.
func NoiseLike(r *rand.Rand, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, r.NormFloat64())
		}
	}
	return out
}

// Corrupt applies the closed-form forward process at timestep t:
//
//	x_t = sqrt(alphaCum_t) * x0 + sqrt(1 - alphaCum_t) * eps
//
// x0 must already be zero-centered and unit-scaled by the caller.
func Corrupt(s *schedule.NoiseSchedule, x0 *mat.Dense, t int, eps *mat.Dense) (*mat.Dense, error) {
	if t < 0 || t >= s.Steps() {
		return nil, fmt.Errorf("timestep %d outside schedule [0, %d)", t, s.Steps())
	}
	rows, cols := x0.Dims()
	eRows, eCols := eps.Dims()
	if rows != eRows || cols != eCols {
		return nil, fmt.Errorf("noise shape %dx%d does not match input %dx%d", eRows, eCols, rows, cols)
	}

	ac := s.AlphaCum(t)
	keep := math.Sqrt(ac)
	corrupt := math.Sqrt(1 - ac)

	xt := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			xt.Set(i, j, keep*x0.At(i, j)+corrupt*eps.At(i, j))
		}
	}
	return xt, nil
}
