package denoiser

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func testConfig() Config {
	return Config{Blocks: 2, Width: 16, Heads: 2, SeqLen: 8, InputDim: 12}
}

func randomInput(r *rand.Rand, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, r.NormFloat64())
		}
	}
	return out
}

func TestNewValidation(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero blocks", Config{Blocks: 0, Width: 16, Heads: 2, SeqLen: 8}},
		{"zero width", Config{Blocks: 1, Width: 0, Heads: 2, SeqLen: 8}},
		{"width not divisible by heads", Config{Blocks: 1, Width: 16, Heads: 3, SeqLen: 8}},
		{"odd width", Config{Blocks: 1, Width: 15, Heads: 3, SeqLen: 8}},
		{"zero seq len", Config{Blocks: 1, Width: 16, Heads: 2, SeqLen: 0}},
		{"odd freq embed", Config{Blocks: 1, Width: 16, Heads: 2, SeqLen: 8, FreqEmbedSize: 13}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg, r); err == nil {
				t.Fatalf("expected construction error for %+v", tc.cfg)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	d, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}
	cfg := d.Config()
	if cfg.InputDim != 12 || cfg.FreqEmbedSize != 256 || cfg.MLPRatio != 4 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestZeroInitPredictsZeroNoise(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	d, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}

	for _, step := range []int{0, 17, 999} {
		xt := randomInput(r, 8, 12)
		epsHat, err := d.Predict(xt, step, nil)
		if err != nil {
			t.Fatalf("predict at t=%d: %v", step, err)
		}
		rows, cols := epsHat.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if math.Abs(epsHat.At(i, j)) > 1e-12 {
					t.Fatalf("fresh denoiser must predict zero noise, got %g at (%d,%d) t=%d",
						epsHat.At(i, j), i, j, step)
				}
			}
		}
	}
}

func TestForwardShapeAndMaskValidation(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	d, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}

	if _, err := d.Predict(randomInput(r, 8, 7), 0, nil); err == nil {
		t.Fatal("expected channel mismatch error")
	}
	if _, err := d.Predict(randomInput(r, 9, 12), 0, nil); err == nil {
		t.Fatal("expected sequence length error")
	}
	if _, err := d.Predict(randomInput(r, 8, 12), 0, make([]bool, 5)); err == nil {
		t.Fatal("expected mask length mismatch error")
	}
	if _, err := d.Predict(randomInput(r, 8, 12), -1, nil); err == nil {
		t.Fatal("expected negative timestep error")
	}
}

func TestPaddingDoesNotLeakIntoValidResidues(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	d, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}
	// Perturb the zero-initialized projections so attention and gates are
	// actually live.
	for _, p := range d.Params() {
		rows, cols := p.W.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.W.Set(i, j, p.W.At(i, j)+0.05*r.NormFloat64())
			}
		}
	}

	mask := []bool{true, true, true, true, true, true, false, false}
	xt := randomInput(r, 8, 12)
	base, err := d.Predict(xt, 25, mask)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	altered := cloneDense(xt)
	altered.Set(6, 0, 100)
	altered.Set(7, 5, -40)
	perturbed, err := d.Predict(altered, 25, mask)
	if err != nil {
		t.Fatalf("predict perturbed: %v", err)
	}

	for i := 0; i < 6; i++ {
		for j := 0; j < 12; j++ {
			if math.Abs(base.At(i, j)-perturbed.At(i, j)) > 1e-9 {
				t.Fatalf("padding perturbation leaked into valid residue (%d,%d): %g vs %g",
					i, j, base.At(i, j), perturbed.At(i, j))
			}
		}
	}
}

func TestBackwardMatchesNumericGradient(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	cfg := Config{Blocks: 1, Width: 8, Heads: 2, SeqLen: 4, InputDim: 6, FreqEmbedSize: 8, MLPRatio: 2}
	d, err := New(cfg, r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}
	// Random weights everywhere, including the zero-initialized heads, so
	// gradients flow through the gates.
	for _, p := range d.Params() {
		rows, cols := p.W.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.W.Set(i, j, 0.1*r.NormFloat64())
			}
		}
	}

	xt := randomInput(r, 4, 6)
	mask := []bool{true, true, true, false}
	dEps := randomInput(r, 4, 6)
	const step = 3

	lossOf := func() float64 {
		epsHat, err := d.Predict(xt, step, mask)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		total := 0.0
		for i := 0; i < 4; i++ {
			for j := 0; j < 6; j++ {
				total += epsHat.At(i, j) * dEps.At(i, j)
			}
		}
		return total
	}

	_, cache, err := d.Forward(xt, step, mask)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	d.ZeroGrads()
	d.Backward(cache, dEps)

	const h = 1e-5
	for _, p := range d.Params() {
		rows, cols := p.W.Dims()
		i := r.Intn(rows)
		j := r.Intn(cols)

		orig := p.W.At(i, j)
		p.W.Set(i, j, orig+h)
		up := lossOf()
		p.W.Set(i, j, orig-h)
		down := lossOf()
		p.W.Set(i, j, orig)

		numeric := (up - down) / (2 * h)
		analytic := p.Grad.At(i, j)
		tol := 1e-5 * math.Max(1, math.Max(math.Abs(numeric), math.Abs(analytic)))
		if math.Abs(numeric-analytic) > tol {
			t.Fatalf("gradient mismatch for %s[%d,%d]: numeric=%g analytic=%g", p.Name, i, j, numeric, analytic)
		}
	}
}

func TestStateRecordsRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(6))
	d1, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}
	for _, p := range d1.Params() {
		rows, cols := p.W.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.W.Set(i, j, r.NormFloat64())
			}
		}
	}

	d2, err := New(testConfig(), rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}
	if err := d2.LoadStateRecords(d1.StateRecords()); err != nil {
		t.Fatalf("load state: %v", err)
	}

	xt := randomInput(r, 8, 12)
	out1, err := d1.Predict(xt, 11, nil)
	if err != nil {
		t.Fatalf("predict d1: %v", err)
	}
	out2, err := d2.Predict(xt, 11, nil)
	if err != nil {
		t.Fatalf("predict d2: %v", err)
	}
	if !mat.EqualApprox(out1, out2, 1e-15) {
		t.Fatal("restored denoiser disagrees with the original")
	}
}

func TestLoadStateRecordsRejectsMismatch(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	d, err := New(testConfig(), r)
	if err != nil {
		t.Fatalf("new denoiser: %v", err)
	}

	records := d.StateRecords()
	records[0].Name = "bogus"
	if err := d.LoadStateRecords(records); err == nil {
		t.Fatal("expected unknown parameter error")
	}

	records = d.StateRecords()
	records[0].Rows++
	if err := d.LoadStateRecords(records); err == nil {
		t.Fatal("expected shape mismatch error")
	}

	records = d.StateRecords()
	if err := d.LoadStateRecords(records[1:]); err == nil {
		t.Fatal("expected missing parameter error")
	}
}
