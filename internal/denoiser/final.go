package denoiser

import "gonum.org/v1/gonum/mat"

// finalLayer is the output head: a last adaptive normalization followed by two
// projections producing the A-delta and B tensors consumed by the noise-gating
// transform. All three projections are zero-initialized, so at construction
// the head outputs exactly zero.
type finalLayer struct {
	normEps   float64
	adaLN     *linear // width -> 2*width
	meanHead  *linear // width -> inputDim
	sigmaHead *linear // width -> inputDim
}

func newFinalLayer(name string, width, inputDim int, normEps float64) *finalLayer {
	return &finalLayer{
		normEps:   normEps,
		adaLN:     newLinear(name+".adaln", width, 2*width),
		meanHead:  newLinear(name+".mean", width, inputDim),
		sigmaHead: newLinear(name+".sigma", width, inputDim),
	}
}

type finalCache struct {
	cond    *mat.Dense
	condAct *mat.Dense
	shift   *mat.Dense
	scale   *mat.Dense
	ln      *mat.Dense
	invStd  []float64
	modded  *mat.Dense
}

func (f *finalLayer) forward(h, cond *mat.Dense) (aDelta, bGate *mat.Dense, c *finalCache) {
	_, width := h.Dims()

	condAct := applyUnary(silu, cond)
	modOut := f.adaLN.forward(condAct)
	shift := denseSlice(modOut, 0, 1, 0, width)
	scale := denseSlice(modOut, 0, 1, width, 2*width)

	ln, invStd := layerNormForward(h, f.normEps)
	modded := modulate(ln, scale, shift)

	aDelta = f.meanHead.forward(modded)
	bGate = f.sigmaHead.forward(modded)
	return aDelta, bGate, &finalCache{
		cond: cond, condAct: condAct,
		shift: shift, scale: scale,
		ln: ln, invStd: invStd, modded: modded,
	}
}

func (f *finalLayer) backward(c *finalCache, dADelta, dB *mat.Dense) (dh, dCond *mat.Dense) {
	_, width := c.ln.Dims()

	dModded := f.meanHead.backward(c.modded, dADelta)
	dModded.Add(dModded, f.sigmaHead.backward(c.modded, dB))

	dLn := scaleRowsOnePlus(dModded, c.scale)
	dScale := colSums(elemMul(dModded, c.ln))
	dShift := colSums(dModded)
	dh = layerNormBackward(c.ln, c.invStd, dLn)

	dModOut := mat.NewDense(1, 2*width, nil)
	setBlock(dModOut, 0, 0, dShift)
	setBlock(dModOut, 0, width, dScale)
	dCondAct := f.adaLN.backward(c.condAct, dModOut)
	dCond = elemMul(dCondAct, applyUnary(siluPrime, c.cond))
	return dh, dCond
}

func (f *finalLayer) params() []*Param {
	out := f.adaLN.params()
	out = append(out, f.meanHead.params()...)
	out = append(out, f.sigmaHead.params()...)
	return out
}
