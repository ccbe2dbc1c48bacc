package denoiser

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// addRowVec adds the 1xC vector v to every row of m in place.
func addRowVec(m, v *mat.Dense) {
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, m.At(i, j)+v.At(0, j))
		}
	}
}

// colSums returns the 1xC column sums of m.
func colSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += m.At(i, j)
		}
		out.Set(0, j, sum)
	}
	return out
}

// mulRowVec returns m with every row scaled elementwise by the 1xC vector v.
func mulRowVec(m, v *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(i, j)*v.At(0, j))
		}
	}
	return out
}

// modulate applies the adaptive-normalization transform y*(1+scale)+shift,
// broadcasting the 1xC scale and shift vectors over every row.
func modulate(y, scale, shift *mat.Dense) *mat.Dense {
	rows, cols := y.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, y.At(i, j)*(1+scale.At(0, j))+shift.At(0, j))
		}
	}
	return out
}

// layerNormForward normalizes each row of x to zero mean and unit variance
// (non-affine). It returns the normalized rows and the per-row inverse
// standard deviation needed by the backward pass.
func layerNormForward(x *mat.Dense, eps float64) (*mat.Dense, []float64) {
	rows, cols := x.Dims()
	y := mat.NewDense(rows, cols, nil)
	invStd := make([]float64, rows)
	for i := 0; i < rows; i++ {
		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(cols)

		variance := 0.0
		for j := 0; j < cols; j++ {
			d := x.At(i, j) - mean
			variance += d * d
		}
		variance /= float64(cols)

		inv := 1 / math.Sqrt(variance+eps)
		invStd[i] = inv
		for j := 0; j < cols; j++ {
			y.Set(i, j, (x.At(i, j)-mean)*inv)
		}
	}
	return y, invStd
}

// layerNormBackward propagates gradients through a non-affine layer norm
// given the normalized output y and per-row inverse standard deviations:
//
//	dx_i = invStd * (dy_i - mean(dy) - y_i * mean(dy .* y))
func layerNormBackward(y *mat.Dense, invStd []float64, dy *mat.Dense) *mat.Dense {
	rows, cols := y.Dims()
	dx := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		meanDy := 0.0
		meanDyY := 0.0
		for j := 0; j < cols; j++ {
			meanDy += dy.At(i, j)
			meanDyY += dy.At(i, j) * y.At(i, j)
		}
		meanDy /= float64(cols)
		meanDyY /= float64(cols)

		for j := 0; j < cols; j++ {
			dx.Set(i, j, invStd[i]*(dy.At(i, j)-meanDy-y.At(i, j)*meanDyY))
		}
	}
	return dx
}

// softmaxRows applies a row-wise softmax to scores after adding the per-column
// bias (the additive attention mask).
func softmaxRows(scores *mat.Dense, bias []float64) *mat.Dense {
	rows, cols := scores.Dims()
	p := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		maxVal := math.Inf(-1)
		for j := 0; j < cols; j++ {
			v := scores.At(i, j) + bias[j]
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(scores.At(i, j) + bias[j] - maxVal)
			p.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			p.Set(i, j, p.At(i, j)/sum)
		}
	}
	return p
}

// softmaxBackwardRows propagates gradients through a row-wise softmax with
// probabilities p: ds = p .* (dp - sum(dp .* p)).
func softmaxBackwardRows(p, dp *mat.Dense) *mat.Dense {
	rows, cols := p.Dims()
	ds := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		dot := 0.0
		for j := 0; j < cols; j++ {
			dot += dp.At(i, j) * p.At(i, j)
		}
		for j := 0; j < cols; j++ {
			ds.Set(i, j, p.At(i, j)*(dp.At(i, j)-dot))
		}
	}
	return ds
}

const geluCoeff = 0.044715

// gelu is the tanh-approximated Gaussian error linear unit.
func gelu(x float64) float64 {
	c := math.Sqrt(2 / math.Pi)
	return 0.5 * x * (1 + math.Tanh(c*(x+geluCoeff*x*x*x)))
}

func geluPrime(x float64) float64 {
	c := math.Sqrt(2 / math.Pi)
	u := c * (x + geluCoeff*x*x*x)
	t := math.Tanh(u)
	return 0.5*(1+t) + 0.5*x*(1-t*t)*c*(1+3*geluCoeff*x*x)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// silu is x * sigmoid(x).
func silu(x float64) float64 {
	return x * sigmoid(x)
}

func siluPrime(x float64) float64 {
	s := sigmoid(x)
	return s * (1 + x*(1-s))
}

// applyUnary returns f applied elementwise to m.
func applyUnary(f func(float64) float64, m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, f(m.At(i, j)))
		}
	}
	return out
}

// sinusoidalPositions builds the fixed positional table: even channels carry
// sines, odd channels cosines, with geometrically spaced frequencies.
func sinusoidalPositions(seqLen, dim int) *mat.Dense {
	pe := mat.NewDense(seqLen, dim, nil)
	for pos := 0; pos < seqLen; pos++ {
		for j := 0; j < dim; j += 2 {
			div := math.Exp(-float64(j) * math.Log(10000) / float64(dim))
			angle := float64(pos) * div
			pe.Set(pos, j, math.Sin(angle))
			if j+1 < dim {
				pe.Set(pos, j+1, math.Cos(angle))
			}
		}
	}
	return pe
}

// timestepFrequencies is the fixed sinusoidal embedding of a scalar timestep:
// the first half holds cosines, the second half sines, over geometrically
// spaced frequencies down to 1/10000.
func timestepFrequencies(t float64, dim int) []float64 {
	half := dim / 2
	out := make([]float64, dim)
	for i := 0; i < half; i++ {
		freq := math.Exp(-math.Log(10000) * float64(i) / float64(half))
		out[i] = math.Cos(t * freq)
		out[half+i] = math.Sin(t * freq)
	}
	return out
}
