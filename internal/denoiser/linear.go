package denoiser

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Param is one named learnable tensor with its accumulated gradient. Biases
// are stored as 1xC matrices so the optimizer and the checkpoint codec treat
// every parameter uniformly.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name: name,
		W:    mat.NewDense(rows, cols, nil),
		Grad: mat.NewDense(rows, cols, nil),
	}
}

// zeroGrad clears the accumulated gradient.
func (p *Param) zeroGrad() {
	p.Grad.Zero()
}

// linear is a dense layer y = x*W + b over row-major sequences (rows are
// residues, columns are channels).
type linear struct {
	weight *Param // in x out
	bias   *Param // 1 x out
}

func newLinear(name string, in, out int) *linear {
	return &linear{
		weight: newParam(name+".weight", in, out),
		bias:   newParam(name+".bias", 1, out),
	}
}

// initXavier fills the weight with Xavier-uniform draws; the bias stays zero.
func (l *linear) initXavier(r *rand.Rand) {
	in, out := l.weight.W.Dims()
	limit := math.Sqrt(6 / float64(in+out))
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			l.weight.W.Set(i, j, (2*r.Float64()-1)*limit)
		}
	}
}

// initNormal fills the weight with N(0, std^2) draws; the bias stays zero.
func (l *linear) initNormal(r *rand.Rand, std float64) {
	in, out := l.weight.W.Dims()
	for i := 0; i < in; i++ {
		for j := 0; j < out; j++ {
			l.weight.W.Set(i, j, r.NormFloat64()*std)
		}
	}
}

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	_, out := l.weight.W.Dims()
	y := mat.NewDense(rows, out, nil)
	y.Mul(x, l.weight.W)
	addRowVec(y, l.bias.W)
	return y
}

// backward accumulates dW and db from the layer input x and the output
// gradient dy, and returns the input gradient.
func (l *linear) backward(x, dy *mat.Dense) *mat.Dense {
	var dw mat.Dense
	dw.Mul(x.T(), dy)
	l.weight.Grad.Add(l.weight.Grad, &dw)

	l.bias.Grad.Add(l.bias.Grad, colSums(dy))

	rows, _ := dy.Dims()
	in, _ := l.weight.W.Dims()
	dx := mat.NewDense(rows, in, nil)
	dx.Mul(dy, l.weight.W.T())
	return dx
}

func (l *linear) params() []*Param {
	return []*Param{l.weight, l.bias}
}
