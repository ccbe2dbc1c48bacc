package denoiser

import "gonum.org/v1/gonum/mat"

// block is one conditioned transformer block with adaptive-normalization
// (adaLN-Zero) conditioning: the timestep embedding is projected into shift,
// scale and gate vectors for the attention and MLP sublayers. The gate
// projection starts at zero, so a freshly constructed block is the identity
// function on its input.
type block struct {
	normEps float64
	attn    *attention
	fc      *linear // width -> ratio*width
	mlpProj *linear // ratio*width -> width
	adaLN   *linear // width -> 6*width, zero-initialized
}

func newBlock(name string, width, heads, mlpRatio int, normEps float64) *block {
	return &block{
		normEps: normEps,
		attn:    newAttention(name+".attn", width, heads),
		fc:      newLinear(name+".mlp.fc", width, mlpRatio*width),
		mlpProj: newLinear(name+".mlp.proj", mlpRatio*width, width),
		adaLN:   newLinear(name+".adaln", width, 6*width),
	}
}

type blockCache struct {
	cond    *mat.Dense
	condAct *mat.Dense

	shiftAttn, scaleAttn, gateAttn *mat.Dense
	shiftMLP, scaleMLP, gateMLP    *mat.Dense

	ln1     *mat.Dense
	invStd1 []float64
	attnCch *attnCache
	attnOut *mat.Dense

	xMid    *mat.Dense
	ln2     *mat.Dense
	invStd2 []float64
	mod2    *mat.Dense
	hidden  *mat.Dense
	hidAct  *mat.Dense
	mlpOut  *mat.Dense
}

// forward runs the block on x (seqLen x width) under the 1xWidth conditioning
// embedding.
func (b *block) forward(x, cond *mat.Dense, maskAdd []float64) (*mat.Dense, *blockCache) {
	_, width := x.Dims()

	condAct := applyUnary(silu, cond)
	modOut := b.adaLN.forward(condAct)
	shiftAttn := denseSlice(modOut, 0, 1, 0, width)
	scaleAttn := denseSlice(modOut, 0, 1, width, 2*width)
	gateAttn := denseSlice(modOut, 0, 1, 2*width, 3*width)
	shiftMLP := denseSlice(modOut, 0, 1, 3*width, 4*width)
	scaleMLP := denseSlice(modOut, 0, 1, 4*width, 5*width)
	gateMLP := denseSlice(modOut, 0, 1, 5*width, 6*width)

	ln1, invStd1 := layerNormForward(x, b.normEps)
	attnOut, attnCch := b.attn.forward(modulate(ln1, scaleAttn, shiftAttn), maskAdd)

	xMid := cloneDense(x)
	xMid.Add(xMid, mulRowVec(attnOut, gateAttn))

	ln2, invStd2 := layerNormForward(xMid, b.normEps)
	mod2 := modulate(ln2, scaleMLP, shiftMLP)
	hidden := b.fc.forward(mod2)
	hidAct := applyUnary(gelu, hidden)
	mlpOut := b.mlpProj.forward(hidAct)

	y := cloneDense(xMid)
	y.Add(y, mulRowVec(mlpOut, gateMLP))

	return y, &blockCache{
		cond:      cond,
		condAct:   condAct,
		shiftAttn: shiftAttn, scaleAttn: scaleAttn, gateAttn: gateAttn,
		shiftMLP: shiftMLP, scaleMLP: scaleMLP, gateMLP: gateMLP,
		ln1: ln1, invStd1: invStd1,
		attnCch: attnCch, attnOut: attnOut,
		xMid: xMid,
		ln2:  ln2, invStd2: invStd2,
		mod2: mod2, hidden: hidden, hidAct: hidAct, mlpOut: mlpOut,
	}
}

// backward propagates dy through the block and returns (dx, dCond). Parameter
// gradients accumulate on the block's projections.
func (b *block) backward(c *blockCache, dy *mat.Dense) (*mat.Dense, *mat.Dense) {
	_, width := dy.Dims()

	// MLP sublayer.
	dxMid := cloneDense(dy)
	dMlpOut := mulRowVec(dy, c.gateMLP)
	dGateMLP := colSums(elemMul(dy, c.mlpOut))

	dHidAct := b.mlpProj.backward(c.hidAct, dMlpOut)
	dHidden := elemMul(dHidAct, applyUnary(geluPrime, c.hidden))
	dMod2 := b.fc.backward(c.mod2, dHidden)

	dLn2 := scaleRowsOnePlus(dMod2, c.scaleMLP)
	dScaleMLP := colSums(elemMul(dMod2, c.ln2))
	dShiftMLP := colSums(dMod2)
	dxMid.Add(dxMid, layerNormBackward(c.ln2, c.invStd2, dLn2))

	// Attention sublayer.
	dx := cloneDense(dxMid)
	dAttnOut := mulRowVec(dxMid, c.gateAttn)
	dGateAttn := colSums(elemMul(dxMid, c.attnOut))

	dMod1 := b.attn.backward(c.attnCch, dAttnOut)
	dLn1 := scaleRowsOnePlus(dMod1, c.scaleAttn)
	dScaleAttn := colSums(elemMul(dMod1, c.ln1))
	dShiftAttn := colSums(dMod1)
	dx.Add(dx, layerNormBackward(c.ln1, c.invStd1, dLn1))

	// Conditioning path.
	dModOut := mat.NewDense(1, 6*width, nil)
	setBlock(dModOut, 0, 0, dShiftAttn)
	setBlock(dModOut, 0, width, dScaleAttn)
	setBlock(dModOut, 0, 2*width, dGateAttn)
	setBlock(dModOut, 0, 3*width, dShiftMLP)
	setBlock(dModOut, 0, 4*width, dScaleMLP)
	setBlock(dModOut, 0, 5*width, dGateMLP)

	dCondAct := b.adaLN.backward(c.condAct, dModOut)
	dCond := elemMul(dCondAct, applyUnary(siluPrime, c.cond))

	return dx, dCond
}

func (b *block) params() []*Param {
	out := b.attn.params()
	out = append(out, b.fc.params()...)
	out = append(out, b.mlpProj.params()...)
	out = append(out, b.adaLN.params()...)
	return out
}

func cloneDense(m *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.CloneFrom(m)
	return &out
}

func elemMul(a, b *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(a, b)
	return out
}

// scaleRowsOnePlus returns m with every row scaled elementwise by (1+scale).
func scaleRowsOnePlus(m, scale *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(i, j)*(1+scale.At(0, j)))
		}
	}
	return out
}
