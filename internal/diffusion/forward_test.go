package diffusion

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/schedule"
)

func testSchedule(t *testing.T) *schedule.NoiseSchedule {
	t.Helper()
	s, err := schedule.New(1000, 0.008)
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}
	return s
}

func TestCorruptPreservesSignalAtFirstStep(t *testing.T) {
	s := testSchedule(t)
	r := rand.New(rand.NewSource(1))

	x0 := NoiseLike(r, 8, 12)
	eps := NoiseLike(r, 8, 12)
	xt, err := Corrupt(s, x0, 0, eps)
	if err != nil {
		t.Fatalf("Corrupt: %v", err)
	}

	// At t=0 almost all of the signal survives.
	keep := math.Sqrt(s.AlphaCum(0))
	if keep < 0.999 {
		t.Fatalf("got keep coefficient %v, want >= 0.999", keep)
	}
	for i := 0; i < 8; i++ {
		for j := 0; j < 12; j++ {
			if diff := math.Abs(xt.At(i, j) - x0.At(i, j)); diff > 0.1 {
				t.Fatalf("element (%d,%d) moved by %v at t=0", i, j, diff)
			}
		}
	}
}

func TestCorruptIsMostlyNoiseAtLastStep(t *testing.T) {
	s := testSchedule(t)
	r := rand.New(rand.NewSource(2))

	x0 := NoiseLike(r, 8, 12)
	eps := NoiseLike(r, 8, 12)
	xt, err := Corrupt(s, x0, s.Steps()-1, eps)
	if err != nil {
		t.Fatalf("Corrupt: %v", err)
	}

	if ac := s.AlphaCum(s.Steps() - 1); ac >= 0.01 {
		t.Fatalf("got cumulative retention %v at last step, want < 0.01", ac)
	}
	corrupt := math.Sqrt(1 - s.AlphaCum(s.Steps()-1))
	for i := 0; i < 8; i++ {
		for j := 0; j < 12; j++ {
			if diff := math.Abs(xt.At(i, j) - corrupt*eps.At(i, j)); diff > 0.2 {
				t.Fatalf("element (%d,%d) differs from scaled noise by %v at last step", i, j, diff)
			}
		}
	}
}

func TestCorruptValidation(t *testing.T) {
	s := testSchedule(t)
	r := rand.New(rand.NewSource(3))
	x0 := NoiseLike(r, 4, 12)

	if _, err := Corrupt(s, x0, -1, NoiseLike(r, 4, 12)); err == nil {
		t.Fatal("expected error for negative timestep")
	}
	if _, err := Corrupt(s, x0, s.Steps(), NoiseLike(r, 4, 12)); err == nil {
		t.Fatal("expected error for timestep past schedule end")
	}
	if _, err := Corrupt(s, x0, 10, NoiseLike(r, 3, 12)); err == nil {
		t.Fatal("expected error for mismatched noise shape")
	}
}

func TestNoiseLikeIsSeedDeterministic(t *testing.T) {
	a := NoiseLike(rand.New(rand.NewSource(7)), 5, 12)
	b := NoiseLike(rand.New(rand.NewSource(7)), 5, 12)
	if !mat.Equal(a, b) {
		t.Fatal("same seed produced different noise tensors")
	}
}
