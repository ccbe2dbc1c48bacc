package schedule

import "testing"

func TestUniformSteps(t *testing.T) {
	steps, err := UniformSteps(1000, 50)
	if err != nil {
		t.Fatalf("uniform steps: %v", err)
	}
	if len(steps) != 50 {
		t.Fatalf("unexpected step count: got %d want 50", len(steps))
	}
	assertValidStepSequence(t, steps, 1000)
}

func TestUniformStepsFullLength(t *testing.T) {
	steps, err := UniformSteps(10, 10)
	if err != nil {
		t.Fatalf("uniform steps: %v", err)
	}
	for i, step := range steps {
		if want := 9 - i; step != want {
			t.Fatalf("full-length subsample at %d: got %d want %d", i, step, want)
		}
	}
}

func TestUniformStepsValidation(t *testing.T) {
	if _, err := UniformSteps(100, 1); err == nil {
		t.Fatal("expected error for step count below 2")
	}
	if _, err := UniformSteps(100, 101); err == nil {
		t.Fatal("expected error for step count above schedule length")
	}
}

func TestOptimizedSteps(t *testing.T) {
	for _, count := range optimizedStepCounts {
		steps, err := OptimizedSteps(1000, count)
		if err != nil {
			t.Fatalf("optimized steps K=%d: %v", count, err)
		}
		if len(steps) != count {
			t.Fatalf("unexpected step count: got %d want %d", len(steps), count)
		}
		assertValidStepSequence(t, steps, 1000)
	}
}

func TestOptimizedStepsFrontLoadsLowNoise(t *testing.T) {
	uniform, err := UniformSteps(1000, 10)
	if err != nil {
		t.Fatalf("uniform steps: %v", err)
	}
	optimized, err := OptimizedSteps(1000, 10)
	if err != nil {
		t.Fatalf("optimized steps: %v", err)
	}

	// The warped schedule spends more of its budget at low timesteps than
	// the uniform one does.
	if optimized[len(optimized)/2] >= uniform[len(uniform)/2] {
		t.Fatalf("expected optimized midpoint below uniform midpoint, got %d >= %d",
			optimized[len(optimized)/2], uniform[len(uniform)/2])
	}
}

func TestOptimizedStepsUnsupportedCount(t *testing.T) {
	if _, err := OptimizedSteps(1000, 17); err == nil {
		t.Fatal("expected error for untabulated step count")
	}
}

func assertValidStepSequence(t *testing.T, steps []int, total int) {
	t.Helper()
	if steps[0] != total-1 {
		t.Fatalf("sequence must start at top corruption %d, got %d", total-1, steps[0])
	}
	if steps[len(steps)-1] != 0 {
		t.Fatalf("sequence must end at 0, got %d", steps[len(steps)-1])
	}
	for i := 1; i < len(steps); i++ {
		if steps[i] >= steps[i-1] {
			t.Fatalf("sequence not strictly decreasing at %d: %d >= %d", i, steps[i], steps[i-1])
		}
	}
}
