package denoiser

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// attention is multi-head self-attention over the residue sequence. Padding
// positions are excluded through an additive bias on the key axis.
type attention struct {
	heads   int
	headDim int
	qkv     *linear // width -> 3*width
	proj    *linear // width -> width
}

func newAttention(name string, width, heads int) *attention {
	return &attention{
		heads:   heads,
		headDim: width / heads,
		qkv:     newLinear(name+".qkv", width, 3*width),
		proj:    newLinear(name+".proj", width, width),
	}
}

type attnCache struct {
	x      *mat.Dense
	qkvOut *mat.Dense
	probs  []*mat.Dense
	concat *mat.Dense
}

// forward computes attention over x (seqLen x width) with the additive key
// mask (0 for valid residues, large negative for padding).
func (a *attention) forward(x *mat.Dense, maskAdd []float64) (*mat.Dense, *attnCache) {
	n, width := x.Dims()
	qkvOut := a.qkv.forward(x)
	concat := mat.NewDense(n, width, nil)
	probs := make([]*mat.Dense, a.heads)
	scale := 1 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.heads; h++ {
		qh := denseSlice(qkvOut, 0, n, h*a.headDim, (h+1)*a.headDim)
		kh := denseSlice(qkvOut, 0, n, width+h*a.headDim, width+(h+1)*a.headDim)
		vh := denseSlice(qkvOut, 0, n, 2*width+h*a.headDim, 2*width+(h+1)*a.headDim)

		scores := mat.NewDense(n, n, nil)
		scores.Mul(qh, kh.T())
		scores.Scale(scale, scores)

		p := softmaxRows(scores, maskAdd)
		probs[h] = p

		var out mat.Dense
		out.Mul(p, vh)
		setBlock(concat, 0, h*a.headDim, &out)
	}

	y := a.proj.forward(concat)
	return y, &attnCache{x: x, qkvOut: qkvOut, probs: probs, concat: concat}
}

// backward propagates dy through the attention sublayer, accumulating
// projection gradients, and returns dx.
func (a *attention) backward(c *attnCache, dy *mat.Dense) *mat.Dense {
	n, width := c.x.Dims()
	dConcat := a.proj.backward(c.concat, dy)
	dQKV := mat.NewDense(n, 3*width, nil)
	scale := 1 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.heads; h++ {
		qh := denseSlice(c.qkvOut, 0, n, h*a.headDim, (h+1)*a.headDim)
		kh := denseSlice(c.qkvOut, 0, n, width+h*a.headDim, width+(h+1)*a.headDim)
		vh := denseSlice(c.qkvOut, 0, n, 2*width+h*a.headDim, 2*width+(h+1)*a.headDim)
		doH := denseSlice(dConcat, 0, n, h*a.headDim, (h+1)*a.headDim)
		p := c.probs[h]

		var dp mat.Dense
		dp.Mul(doH, vh.T())
		var dv mat.Dense
		dv.Mul(p.T(), doH)

		ds := softmaxBackwardRows(p, &dp)
		ds.Scale(scale, ds)

		var dq mat.Dense
		dq.Mul(ds, kh)
		var dk mat.Dense
		dk.Mul(ds.T(), qh)

		setBlock(dQKV, 0, h*a.headDim, &dq)
		setBlock(dQKV, 0, width+h*a.headDim, &dk)
		setBlock(dQKV, 0, 2*width+h*a.headDim, &dv)
	}

	return a.qkv.backward(c.x, dQKV)
}

func (a *attention) params() []*Param {
	return append(a.qkv.params(), a.proj.params()...)
}

// denseSlice returns the [r0:r1, c0:c1] view of m as a *mat.Dense.
func denseSlice(m *mat.Dense, r0, r1, c0, c1 int) *mat.Dense {
	return m.Slice(r0, r1, c0, c1).(*mat.Dense)
}

// setBlock copies src into dst starting at (row, col).
func setBlock(dst *mat.Dense, row, col int, src mat.Matrix) {
	rows, cols := src.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst.Set(row+i, col+j, src.At(i, j))
		}
	}
}
