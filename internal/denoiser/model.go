// Package denoiser implements the conditioned transformer that maps a
// corrupted residue sequence and a timestep to a noise estimate. The forward
// pass is pure; gradients are accumulated explicitly by the backward pass and
// consumed by the AdamW optimizer between calls.
package denoiser

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/model"
)

const (
	// normEps stabilizes the non-affine layer norms.
	normEps = 1e-6
	// gateFloor keeps the noise-gating denominator away from zero when the
	// B head approaches 1.
	gateFloor = 1e-5
	// maskBias is the additive attention penalty for padding keys.
	maskBias = -1e9
)

// Config mirrors model.DenoiserConfig with defaults applied.
type Config = model.DenoiserConfig

func normalizeConfig(cfg Config) Config {
	if cfg.InputDim == 0 {
		cfg.InputDim = 12
	}
	if cfg.FreqEmbedSize == 0 {
		cfg.FreqEmbedSize = 256
	}
	if cfg.MLPRatio == 0 {
		cfg.MLPRatio = 4
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.Blocks <= 0 {
		return fmt.Errorf("denoiser blocks must be positive, got %d", cfg.Blocks)
	}
	if cfg.Width <= 0 {
		return fmt.Errorf("denoiser width must be positive, got %d", cfg.Width)
	}
	if cfg.Heads <= 0 {
		return fmt.Errorf("denoiser heads must be positive, got %d", cfg.Heads)
	}
	if cfg.Width%cfg.Heads != 0 {
		return fmt.Errorf("denoiser width %d is not divisible by %d heads", cfg.Width, cfg.Heads)
	}
	if cfg.Width%2 != 0 {
		return fmt.Errorf("denoiser width must be even for sinusoidal positions, got %d", cfg.Width)
	}
	if cfg.SeqLen <= 0 {
		return fmt.Errorf("denoiser sequence length must be positive, got %d", cfg.SeqLen)
	}
	if cfg.InputDim <= 0 {
		return fmt.Errorf("denoiser input dim must be positive, got %d", cfg.InputDim)
	}
	if cfg.FreqEmbedSize%2 != 0 {
		return fmt.Errorf("frequency embedding size must be even, got %d", cfg.FreqEmbedSize)
	}
	return nil
}

// Denoiser is the conditioned transformer stack. Its learned parameters are
// mutated only by the optimizer between calls; Forward and Predict never
// write to them.
type Denoiser struct {
	cfg    Config
	inProj *linear
	pos    *mat.Dense
	tEmbed *timestepEmbedder
	blocks []*block
	final  *finalLayer
	params []*Param
}

// New constructs a denoiser and applies the initialization contract: every
// adaLN projection and both output heads start at exactly zero, so the whole
// network is the identity on its residual stream and the predicted noise is
// the zero tensor. The random source seeds the remaining projections.
func New(cfg Config, r *rand.Rand) (*Denoiser, error) {
	cfg = normalizeConfig(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	d := &Denoiser{
		cfg:    cfg,
		inProj: newLinear("in_proj", cfg.InputDim, cfg.Width),
		pos:    sinusoidalPositions(cfg.SeqLen, cfg.Width),
		tEmbed: newTimestepEmbedder("t_embed", cfg.FreqEmbedSize, cfg.Width),
		final:  newFinalLayer("final", cfg.Width, cfg.InputDim, normEps),
	}
	for i := 0; i < cfg.Blocks; i++ {
		d.blocks = append(d.blocks, newBlock(fmt.Sprintf("block.%d", i), cfg.Width, cfg.Heads, cfg.MLPRatio, normEps))
	}

	d.inProj.initXavier(r)
	d.tEmbed.fc1.initNormal(r, 0.02)
	d.tEmbed.fc2.initNormal(r, 0.02)
	for _, b := range d.blocks {
		b.attn.qkv.initXavier(r)
		b.attn.proj.initXavier(r)
		b.fc.initXavier(r)
		b.mlpProj.initXavier(r)
		// b.adaLN stays zero: the block starts as the identity.
	}
	// final.adaLN, final.meanHead and final.sigmaHead stay zero.

	d.params = append(d.params, d.inProj.params()...)
	d.params = append(d.params, d.tEmbed.params()...)
	for _, b := range d.blocks {
		d.params = append(d.params, b.params()...)
	}
	d.params = append(d.params, d.final.params()...)

	return d, nil
}

// Config returns the architecture configuration with defaults applied.
func (d *Denoiser) Config() Config { return d.cfg }

// Params returns the learnable parameters in a stable order.
func (d *Denoiser) Params() []*Param { return d.params }

// NumParams returns the total learnable element count.
func (d *Denoiser) NumParams() int {
	total := 0
	for _, p := range d.params {
		rows, cols := p.W.Dims()
		total += rows * cols
	}
	return total
}

// ZeroGrads clears all accumulated gradients.
func (d *Denoiser) ZeroGrads() {
	for _, p := range d.params {
		p.zeroGrad()
	}
}

// ForwardCache carries the intermediate activations of one Forward call for
// the matching Backward call.
type ForwardCache struct {
	xt          *mat.Dense
	maskAdd     []float64
	condCache   *condCache
	blockCaches []*blockCache
	finalCache  *finalCache
	epsHat      *mat.Dense
	bGate       *mat.Dense
	denom       *mat.Dense
}

// Forward predicts the injected noise for one corrupted sequence xt
// (seqLen x inputDim) at timestep t. mask marks valid residues; nil means all
// valid. The returned cache feeds Backward.
func (d *Denoiser) Forward(xt *mat.Dense, t int, mask []bool) (*mat.Dense, *ForwardCache, error) {
	n, cols := xt.Dims()
	if cols != d.cfg.InputDim {
		return nil, nil, fmt.Errorf("input has %d channels, denoiser expects %d", cols, d.cfg.InputDim)
	}
	if n > d.cfg.SeqLen {
		return nil, nil, fmt.Errorf("input length %d exceeds configured sequence length %d", n, d.cfg.SeqLen)
	}
	if mask != nil && len(mask) != n {
		return nil, nil, fmt.Errorf("mask length %d does not match input length %d", len(mask), n)
	}
	if t < 0 {
		return nil, nil, fmt.Errorf("timestep must be non-negative, got %d", t)
	}

	maskAdd := make([]float64, n)
	if mask != nil {
		for j, valid := range mask {
			if !valid {
				maskAdd[j] = maskBias
			}
		}
	}

	h := d.inProj.forward(xt)
	h.Add(h, denseSlice(d.pos, 0, n, 0, d.cfg.Width))

	cond, condCch := d.tEmbed.forward(t)

	blockCaches := make([]*blockCache, len(d.blocks))
	for i, b := range d.blocks {
		h, blockCaches[i] = b.forward(h, cond, maskAdd)
	}

	aDelta, bGate, finalCch := d.final.forward(h, cond)

	// Noise gating: A carries a residual skip from xt, so the zero-init
	// head yields A = xt and a zero noise estimate.
	epsHat := mat.NewDense(n, cols, nil)
	denom := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			a := xt.At(i, j) + aDelta.At(i, j)
			dnm := math.Abs(1-bGate.At(i, j)) + gateFloor
			denom.Set(i, j, dnm)
			epsHat.Set(i, j, (xt.At(i, j)-a)/dnm)
		}
	}

	cache := &ForwardCache{
		xt:          xt,
		maskAdd:     maskAdd,
		condCache:   condCch,
		blockCaches: blockCaches,
		finalCache:  finalCch,
		epsHat:      epsHat,
		bGate:       bGate,
		denom:       denom,
	}
	return epsHat, cache, nil
}

// Predict is the sampling-path forward pass: same computation as Forward
// without keeping the cache.
func (d *Denoiser) Predict(xt *mat.Dense, t int, mask []bool) (*mat.Dense, error) {
	epsHat, _, err := d.Forward(xt, t, mask)
	return epsHat, err
}

// Backward accumulates parameter gradients from the noise-estimate gradient
// dEps for the forward call captured in c.
func (d *Denoiser) Backward(c *ForwardCache, dEps *mat.Dense) {
	n, cols := dEps.Dims()

	// Through the gating transform: epsHat = (xt - A) / denom with
	// A = xt + aDelta and denom = |1-B| + floor.
	dADelta := mat.NewDense(n, cols, nil)
	dB := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < cols; j++ {
			dnm := c.denom.At(i, j)
			dADelta.Set(i, j, -dEps.At(i, j)/dnm)
			sign := 1.0
			if 1-c.bGate.At(i, j) < 0 {
				sign = -1
			}
			dB.Set(i, j, dEps.At(i, j)*c.epsHat.At(i, j)*sign/dnm)
		}
	}

	dh, dCond := d.final.backward(c.finalCache, dADelta, dB)
	for i := len(d.blocks) - 1; i >= 0; i-- {
		var dCondBlock *mat.Dense
		dh, dCondBlock = d.blocks[i].backward(c.blockCaches[i], dh)
		dCond.Add(dCond, dCondBlock)
	}
	d.tEmbed.backward(c.condCache, dCond)
	d.inProj.backward(c.xt, dh)
}
