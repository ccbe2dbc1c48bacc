package diffusion

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/schedule"
)

// Denoiser is the reverse-process model: corrupted input and timestep in,
// noise estimate out.
type Denoiser interface {
	Predict(xt *mat.Dense, t int, mask []bool) (*mat.Dense, error)
}

// SamplerKind selects the reverse-process driver.
type SamplerKind string

const (
	// SamplerAncestral is the stochastic full-length reverse process.
	SamplerAncestral SamplerKind = "ancestral"
	// SamplerAccelerated is the deterministic subsequence reverse process.
	SamplerAccelerated SamplerKind = "accelerated"
)

// StepPolicy selects how the accelerated sampler subsamples timesteps.
type StepPolicy string

const (
	StepPolicyUniform   StepPolicy = "uniform"
	StepPolicyOptimized StepPolicy = "optimized"
)

// AncestralSample runs the stochastic reverse process over every timestep,
// from most corrupted to clean. Fresh posterior noise is drawn from r at each
// step except the last.
func AncestralSample(d Denoiser, s *schedule.NoiseSchedule, start []*mat.Dense, masks [][]bool, r *rand.Rand) ([]*mat.Dense, error) {
	if err := validateBatch(start, masks); err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, len(start))
	for b := range start {
		x := mat.DenseCopyOf(start[b])
		rows, cols := x.Dims()

		for t := s.Steps() - 1; t >= 0; t-- {
			epsHat, err := d.Predict(x, t, masks[b])
			if err != nil {
				return nil, fmt.Errorf("denoise step t=%d: %w", t, err)
			}

			cx, ce := s.PosteriorMeanCoeffs(t)
			std := math.Sqrt(s.PosteriorVariance(t))
			next := mat.NewDense(rows, cols, nil)
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					mean := cx*x.At(i, j) - ce*epsHat.At(i, j)
					if t > 0 {
						mean += std * r.NormFloat64()
					}
					next.Set(i, j, mean)
				}
			}
			x = next
		}

		if err := checkFinite(x); err != nil {
			return nil, fmt.Errorf("ancestral sampler output: %w", err)
		}
		out[b] = x
	}
	return out, nil
}

// AcceleratedSample runs the deterministic reverse process over the strictly
// decreasing timestep subsequence: at each step the clean signal is
// reconstructed from the current cumulative retention, then re-corrupted to
// the next scheduled level. Identical inputs produce identical outputs.
func AcceleratedSample(d Denoiser, s *schedule.NoiseSchedule, steps []int, start []*mat.Dense, masks [][]bool) ([]*mat.Dense, error) {
	if err := validateBatch(start, masks); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty timestep sequence")
	}

	out := make([]*mat.Dense, len(start))
	for b := range start {
		x := mat.DenseCopyOf(start[b])
		rows, cols := x.Dims()

		for i, t := range steps {
			epsHat, err := d.Predict(x, t, masks[b])
			if err != nil {
				return nil, fmt.Errorf("denoise step t=%d: %w", t, err)
			}

			acCur := s.AlphaCum(t)
			acNext := 1.0 // after the final step the target is the clean state
			if i+1 < len(steps) {
				acNext = s.AlphaCum(steps[i+1])
			}

			sqrtCur := math.Sqrt(acCur)
			sqrtOneCur := math.Sqrt(1 - acCur)
			sqrtNext := math.Sqrt(acNext)
			sqrtOneNext := math.Sqrt(1 - acNext)

			next := mat.NewDense(rows, cols, nil)
			for ri := 0; ri < rows; ri++ {
				for ci := 0; ci < cols; ci++ {
					x0 := (x.At(ri, ci) - sqrtOneCur*epsHat.At(ri, ci)) / sqrtCur
					next.Set(ri, ci, sqrtNext*x0+sqrtOneNext*epsHat.At(ri, ci))
				}
			}
			x = next
		}

		if err := checkFinite(x); err != nil {
			return nil, fmt.Errorf("accelerated sampler output: %w", err)
		}
		out[b] = x
	}
	return out, nil
}

// Request is the sampler entry point configuration: how many structures of
// what length to generate, and with which reverse process.
type Request struct {
	BatchSize  int
	SeqLen     int
	Channels   int
	Kind       SamplerKind
	StepCount  int
	StepPolicy StepPolicy
}

// Generate draws starting noise from r and runs the requested sampler,
// returning the generated coordinates and the masks used (all residues
// valid). Unnormalizing back to coordinate scale is the caller's concern.
func Generate(d Denoiser, s *schedule.NoiseSchedule, req Request, r *rand.Rand) ([]*mat.Dense, [][]bool, error) {
	if req.BatchSize <= 0 {
		return nil, nil, fmt.Errorf("batch size must be positive, got %d", req.BatchSize)
	}
	if req.SeqLen <= 0 {
		return nil, nil, fmt.Errorf("sequence length must be positive, got %d", req.SeqLen)
	}
	if req.Channels <= 0 {
		req.Channels = 12
	}

	start := make([]*mat.Dense, req.BatchSize)
	masks := make([][]bool, req.BatchSize)
	for b := 0; b < req.BatchSize; b++ {
		start[b] = NoiseLike(r, req.SeqLen, req.Channels)
		mask := make([]bool, req.SeqLen)
		for i := range mask {
			mask[i] = true
		}
		masks[b] = mask
	}

	switch req.Kind {
	case SamplerAncestral:
		out, err := AncestralSample(d, s, start, masks, r)
		return out, masks, err
	case SamplerAccelerated, "":
		var steps []int
		var err error
		switch req.StepPolicy {
		case StepPolicyOptimized:
			steps, err = schedule.OptimizedSteps(s.Steps(), req.StepCount)
		case StepPolicyUniform, "":
			steps, err = schedule.UniformSteps(s.Steps(), req.StepCount)
		default:
			return nil, nil, fmt.Errorf("unsupported step policy: %s", req.StepPolicy)
		}
		if err != nil {
			return nil, nil, err
		}
		out, err := AcceleratedSample(d, s, steps, start, masks)
		return out, masks, err
	default:
		return nil, nil, fmt.Errorf("unsupported sampler kind: %s", req.Kind)
	}
}

func validateBatch(start []*mat.Dense, masks [][]bool) error {
	if len(start) == 0 {
		return fmt.Errorf("empty batch")
	}
	if len(masks) != len(start) {
		return fmt.Errorf("batch size mismatch: %d tensors, %d masks", len(start), len(masks))
	}
	for b := range start {
		rows, _ := start[b].Dims()
		if masks[b] != nil && len(masks[b]) != rows {
			return fmt.Errorf("sample %d: mask length %d does not match %d residues", b, len(masks[b]), rows)
		}
	}
	return nil
}

func checkFinite(m *mat.Dense) error {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return ErrNonFinite
			}
		}
	}
	return nil
}
