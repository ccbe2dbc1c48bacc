// Package schedule holds the immutable lookup tables that drive the diffusion
// process: the per-timestep noise schedule and the sampler step sequences.
// Tables are computed once at construction and shared read-only afterwards.
package schedule

import (
	"fmt"
	"math"
)

const (
	// Per-step corruption is clamped so the retention factor alpha stays
	// strictly inside (0, 1); both ends are numerically unstable downstream.
	betaMin = 1e-4
	betaMax = 0.999
)

// NoiseSchedule precomputes the cosine retention curve over T discrete
// timesteps. t=0 is the least corrupted state, t=T-1 the most corrupted.
type NoiseSchedule struct {
	steps  int
	offset float64

	betas             []float64
	alphas            []float64
	alphaCum          []float64
	alphaCumPrev      []float64
	posteriorVariance []float64
}

// New builds the schedule from the total step count and the cosine curve
// offset. Both are validated here; the resulting tables are immutable.
func New(steps int, offset float64) (*NoiseSchedule, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("schedule steps must be positive, got %d", steps)
	}
	if offset <= 0 {
		return nil, fmt.Errorf("schedule offset must be positive, got %g", offset)
	}

	f0 := cosineRetention(0, steps, offset)
	if f0 <= 0 {
		return nil, fmt.Errorf("schedule offset %g produces a non-positive initial retention", offset)
	}

	s := &NoiseSchedule{
		steps:             steps,
		offset:            offset,
		betas:             make([]float64, steps),
		alphas:            make([]float64, steps),
		alphaCum:          make([]float64, steps),
		alphaCumPrev:      make([]float64, steps),
		posteriorVariance: make([]float64, steps),
	}

	prevRaw := 1.0
	cum := 1.0
	for t := 0; t < steps; t++ {
		raw := cosineRetention(t+1, steps, offset) / f0
		beta := 1 - raw/prevRaw
		if beta < betaMin {
			beta = betaMin
		}
		if beta > betaMax {
			beta = betaMax
		}
		prevRaw = raw

		alpha := 1 - beta
		s.betas[t] = beta
		s.alphas[t] = alpha
		s.alphaCumPrev[t] = cum
		cum *= alpha
		s.alphaCum[t] = cum
		s.posteriorVariance[t] = beta * (1 - s.alphaCumPrev[t]) / (1 - cum)
	}

	return s, nil
}

// cosineRetention is the improved-DDPM retention-squared curve
// cos^2(((t/T + s) / (1 + s)) * pi/2), before normalization by its t=0 value.
func cosineRetention(t, steps int, offset float64) float64 {
	u := (float64(t)/float64(steps) + offset) / (1 + offset)
	c := math.Cos(u * math.Pi / 2)
	if c < 0 {
		c = 0
	}
	return c * c
}

// Steps returns the total timestep count T.
func (s *NoiseSchedule) Steps() int { return s.steps }

// Offset returns the cosine curve offset used at construction.
func (s *NoiseSchedule) Offset() float64 { return s.offset }

// Beta returns the per-step corruption factor at t.
func (s *NoiseSchedule) Beta(t int) float64 { return s.betas[t] }

// Alpha returns the per-step retention factor at t.
func (s *NoiseSchedule) Alpha(t int) float64 { return s.alphas[t] }

// AlphaCum returns the cumulative retention product over all steps <= t.
// It is strictly decreasing in t.
func (s *NoiseSchedule) AlphaCum(t int) float64 { return s.alphaCum[t] }

// AlphaCumPrev returns the cumulative retention at t-1, which is 1 at t=0
// (the clean state).
func (s *NoiseSchedule) AlphaCumPrev(t int) float64 { return s.alphaCumPrev[t] }

// PosteriorVariance returns the closed-form variance of the reverse posterior
// q(x_{t-1} | x_t, x_0) at step t:
//
//	beta_t * (1 - alphaCum_{t-1}) / (1 - alphaCum_t)
func (s *NoiseSchedule) PosteriorVariance(t int) float64 { return s.posteriorVariance[t] }

// PosteriorMeanCoeffs returns (cx, ce) such that the posterior mean of one
// ancestral reverse step is cx*x_t - ce*epsHat:
//
//	mu = (x_t - beta_t / sqrt(1 - alphaCum_t) * epsHat) / sqrt(alpha_t)
func (s *NoiseSchedule) PosteriorMeanCoeffs(t int) (cx, ce float64) {
	sqrtAlpha := math.Sqrt(s.alphas[t])
	cx = 1 / sqrtAlpha
	ce = s.betas[t] / (math.Sqrt(1-s.alphaCum[t]) * sqrtAlpha)
	return cx, ce
}

// P2Weight is the timestep-dependent loss weight
//
//	(k + alphaCum / (1 - alphaCum))^-gamma  with k = gamma = 1,
//
// strictly increasing in t: heavier corruption gets a higher weight. The
// alphaCum clamp keeps it away from the singularity at alphaCum -> 1.
func (s *NoiseSchedule) P2Weight(t int) float64 {
	ac := s.alphaCum[t]
	return 1 / (1 + ac/(1-ac))
}
