package denoiser

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamW is a decoupled-weight-decay Adam optimizer over the denoiser
// parameters. Moment buffers are keyed by parameter position, so the params
// slice must keep its construction order between steps.
type AdamW struct {
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	step int
	m    []*mat.Dense
	v    []*mat.Dense
}

// NewAdamW builds an optimizer with the usual transformer-training moments.
func NewAdamW(weightDecay float64) *AdamW {
	return &AdamW{Beta1: 0.9, Beta2: 0.95, Eps: 1e-8, WeightDecay: weightDecay}
}

// Step applies one update with the given learning rate and advances the
// bias-correction counter.
func (o *AdamW) Step(params []*Param, lr float64) {
	if o.m == nil {
		o.m = make([]*mat.Dense, len(params))
		o.v = make([]*mat.Dense, len(params))
		for i, p := range params {
			rows, cols := p.W.Dims()
			o.m[i] = mat.NewDense(rows, cols, nil)
			o.v[i] = mat.NewDense(rows, cols, nil)
		}
	}

	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for i, p := range params {
		rows, cols := p.W.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := p.Grad.At(r, c)
				m := o.Beta1*o.m[i].At(r, c) + (1-o.Beta1)*g
				v := o.Beta2*o.v[i].At(r, c) + (1-o.Beta2)*g*g
				o.m[i].Set(r, c, m)
				o.v[i].Set(r, c, v)

				mHat := m / c1
				vHat := v / c2
				w := p.W.At(r, c)
				w -= lr * (mHat/(math.Sqrt(vHat)+o.Eps) + o.WeightDecay*w)
				p.W.Set(r, c, w)
			}
		}
	}
}

// ClipGradNorm rescales all gradients so their global L2 norm does not exceed
// maxNorm, and returns the pre-clip norm. maxNorm <= 0 disables clipping.
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		rows, cols := p.Grad.Dims()
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				g := p.Grad.At(r, c)
				total += g * g
			}
		}
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}

	scale := maxNorm / norm
	for _, p := range params {
		p.Grad.Scale(scale, p.Grad)
	}
	return norm
}

// CosineWarmupLR returns the learning rate at step (0-based): linear warmup
// over warmupFrac of totalSteps, then cosine decay to a tenth of the base
// rate.
func CosineWarmupLR(base float64, step, totalSteps int, warmupFrac float64) float64 {
	if totalSteps <= 0 {
		return base
	}
	warmup := int(warmupFrac * float64(totalSteps))
	if warmup > 0 && step < warmup {
		return base * float64(step+1) / float64(warmup)
	}

	progress := float64(step-warmup) / math.Max(1, float64(totalSteps-warmup))
	if progress > 1 {
		progress = 1
	}
	floor := base / 10
	return floor + (base-floor)*0.5*(1+math.Cos(math.Pi*progress))
}
