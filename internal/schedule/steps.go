package schedule

import (
	"fmt"
	"math"
	"sort"
)

// optimizedStepCounts are the step counts the offline schedule search was run
// for. The resulting fractional schedules are tabulated at package init and
// never mutated afterwards.
var optimizedStepCounts = []int{5, 10, 20, 25, 50}

var optimizedFractions map[int][]float64

func init() {
	optimizedFractions = make(map[int][]float64, len(optimizedStepCounts))
	for _, k := range optimizedStepCounts {
		optimizedFractions[k] = warpedFractions(k)
	}
}

// warpedFractions generates the tan-warped schedule family used by the
// offline search: fractions concentrate steps at low noise levels, where
// sampling error accumulates fastest.
func warpedFractions(count int) []float64 {
	fractions := make([]float64, count)
	for i := 0; i < count; i++ {
		u := 1 - float64(i)/float64(count-1)
		fractions[i] = math.Tan(u*math.Pi/4) / math.Tan(math.Pi/4)
	}
	return fractions
}

// UniformSteps returns a strictly decreasing sequence of count timesteps
// linearly subsampled from {0, ..., total-1}. The first element is total-1
// and the last is 0.
func UniformSteps(total, count int) ([]int, error) {
	if err := validateStepCount(total, count); err != nil {
		return nil, err
	}
	fractions := make([]float64, count)
	for i := 0; i < count; i++ {
		fractions[i] = 1 - float64(i)/float64(count-1)
	}
	return stepsFromFractions(total, fractions)
}

// OptimizedSteps returns the precomputed non-uniform schedule for count
// steps, mapped onto {0, ..., total-1}. Only the tabulated step counts are
// supported.
func OptimizedSteps(total, count int) ([]int, error) {
	if err := validateStepCount(total, count); err != nil {
		return nil, err
	}
	fractions, ok := optimizedFractions[count]
	if !ok {
		return nil, fmt.Errorf("no optimized schedule for %d steps, supported counts: %v", count, supportedOptimizedCounts())
	}
	return stepsFromFractions(total, fractions)
}

func validateStepCount(total, count int) error {
	if count < 2 {
		return fmt.Errorf("sampler step count must be at least 2, got %d", count)
	}
	if count > total {
		return fmt.Errorf("sampler step count %d exceeds schedule length %d", count, total)
	}
	return nil
}

func stepsFromFractions(total int, fractions []float64) ([]int, error) {
	steps := make([]int, len(fractions))
	for i, f := range fractions {
		steps[i] = int(math.Round(f * float64(total-1)))
	}
	steps[0] = total - 1
	steps[len(steps)-1] = 0

	// Rounding a concentrated schedule onto a short table can collide
	// adjacent steps; push collisions down while keeping the sequence
	// strictly decreasing.
	for i := 1; i < len(steps); i++ {
		if steps[i] >= steps[i-1] {
			steps[i] = steps[i-1] - 1
		}
		if steps[i] < 0 {
			return nil, fmt.Errorf("cannot fit %d strictly decreasing steps into schedule length %d", len(fractions), total)
		}
	}
	return steps, nil
}

func supportedOptimizedCounts() []int {
	counts := make([]int, len(optimizedStepCounts))
	copy(counts, optimizedStepCounts)
	sort.Ints(counts)
	return counts
}
