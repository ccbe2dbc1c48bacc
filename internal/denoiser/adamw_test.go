package denoiser

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAdamWConvergesOnQuadratic(t *testing.T) {
	p := newParam("w", 1, 1)
	p.W.Set(0, 0, 5)
	params := []*Param{p}
	opt := NewAdamW(0)

	// Minimize (w - 3)^2.
	for i := 0; i < 2000; i++ {
		p.zeroGrad()
		p.Grad.Set(0, 0, 2*(p.W.At(0, 0)-3))
		opt.Step(params, 0.01)
	}
	if got := p.W.At(0, 0); math.Abs(got-3) > 0.01 {
		t.Fatalf("adamw failed to approach the minimum: got %g want 3", got)
	}
}

func TestAdamWWeightDecayShrinksIdleParam(t *testing.T) {
	p := newParam("w", 1, 1)
	p.W.Set(0, 0, 1)
	opt := NewAdamW(0.1)

	// Zero gradient: only the decoupled decay acts.
	for i := 0; i < 10; i++ {
		opt.Step([]*Param{p}, 0.1)
	}
	if got := p.W.At(0, 0); got >= 1 {
		t.Fatalf("weight decay did not shrink the parameter: got %g", got)
	}
}

func TestClipGradNorm(t *testing.T) {
	p := newParam("w", 1, 2)
	p.Grad.Set(0, 0, 3)
	p.Grad.Set(0, 1, 4)

	norm := ClipGradNorm([]*Param{p}, 1)
	if math.Abs(norm-5) > 1e-12 {
		t.Fatalf("unexpected pre-clip norm: got %g want 5", norm)
	}
	clipped := math.Hypot(p.Grad.At(0, 0), p.Grad.At(0, 1))
	if math.Abs(clipped-1) > 1e-12 {
		t.Fatalf("post-clip norm: got %g want 1", clipped)
	}

	// Below the threshold nothing changes.
	before := mat.DenseCopyOf(p.Grad)
	ClipGradNorm([]*Param{p}, 10)
	if !mat.Equal(before, p.Grad) {
		t.Fatal("clip modified gradients under the threshold")
	}

	// Disabled clipping still reports the norm.
	if got := ClipGradNorm([]*Param{p}, 0); math.Abs(got-1) > 1e-12 {
		t.Fatalf("disabled clip norm: got %g want 1", got)
	}
}

func TestCosineWarmupLR(t *testing.T) {
	const base = 1e-3
	const total = 1000

	prev := 0.0
	for step := 0; step < 50; step++ {
		lr := CosineWarmupLR(base, step, total, 0.05)
		if lr <= prev {
			t.Fatalf("warmup not increasing at step %d: %g <= %g", step, lr, prev)
		}
		prev = lr
	}

	peak := CosineWarmupLR(base, 50, total, 0.05)
	if math.Abs(peak-base) > 1e-9 {
		t.Fatalf("post-warmup rate: got %g want %g", peak, base)
	}

	last := CosineWarmupLR(base, total-1, total, 0.05)
	if last >= peak || last < base/10-1e-12 {
		t.Fatalf("final rate out of range: got %g", last)
	}
}
