package denoiser

import "gonum.org/v1/gonum/mat"

// timestepEmbedder maps a scalar timestep to the shared conditioning vector:
// a fixed sinusoidal frequency embedding followed by a small learned MLP with
// a SiLU in between.
type timestepEmbedder struct {
	freqDim int
	fc1     *linear // freqDim -> width
	fc2     *linear // width -> width
}

func newTimestepEmbedder(name string, freqDim, width int) *timestepEmbedder {
	return &timestepEmbedder{
		freqDim: freqDim,
		fc1:     newLinear(name+".fc1", freqDim, width),
		fc2:     newLinear(name+".fc2", width, width),
	}
}

type condCache struct {
	freq  *mat.Dense
	h1    *mat.Dense
	h1Act *mat.Dense
}

// forward returns the 1xWidth conditioning embedding for timestep t. The
// embedding is recomputed per call; every call conditions on a different t.
func (e *timestepEmbedder) forward(t int) (*mat.Dense, *condCache) {
	freq := mat.NewDense(1, e.freqDim, timestepFrequencies(float64(t), e.freqDim))
	h1 := e.fc1.forward(freq)
	h1Act := applyUnary(silu, h1)
	cond := e.fc2.forward(h1Act)
	return cond, &condCache{freq: freq, h1: h1, h1Act: h1Act}
}

// backward accumulates the MLP gradients from dCond. The frequency embedding
// is fixed, so nothing propagates further.
func (e *timestepEmbedder) backward(c *condCache, dCond *mat.Dense) {
	dH1Act := e.fc2.backward(c.h1Act, dCond)
	dH1 := elemMul(dH1Act, applyUnary(siluPrime, c.h1))
	e.fc1.backward(c.freq, dH1)
}

func (e *timestepEmbedder) params() []*Param {
	return append(e.fc1.params(), e.fc2.params()...)
}
