package training

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/dataset"
	"foldgen/internal/denoiser"
	"foldgen/internal/model"
	"foldgen/internal/schedule"
)

func randomCoords(r *rand.Rand, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, r.NormFloat64())
		}
	}
	return out
}

func tinySetup(t *testing.T) (*denoiser.Denoiser, *schedule.NoiseSchedule, *dataset.Batcher, []*dataset.Structure, *rand.Rand) {
	t.Helper()
	r := rand.New(rand.NewSource(5))

	den, err := denoiser.New(model.DenoiserConfig{
		Blocks: 1,
		Width:  16,
		Heads:  2,
		SeqLen: 8,
	}, r)
	if err != nil {
		t.Fatalf("denoiser.New: %v", err)
	}
	s, err := schedule.New(50, 0.008)
	if err != nil {
		t.Fatalf("schedule.New: %v", err)
	}

	structures := make([]*dataset.Structure, 6)
	for i := range structures {
		coords := randomCoords(r, 8, dataset.Channels)
		mask := make([]bool, 8)
		for j := range mask {
			mask[j] = j < 6
		}
		structures[i] = &dataset.Structure{Name: fmt.Sprintf("chain%d", i), Length: 6, Coords: coords, Mask: mask}
	}

	batches, err := dataset.NewBatcher(structures[:4], 2, r)
	if err != nil {
		t.Fatalf("NewBatcher: %v", err)
	}
	return den, s, batches, structures[4:], r
}

func TestRunCompletesAndRecordsHistory(t *testing.T) {
	den, s, batches, eval, r := tinySetup(t)

	trainer, err := New(den, s, batches, eval, Config{
		Iterations:   30,
		BatchSize:    2,
		LearningRate: 1e-3,
		WeightDecay:  0.01,
		EvalEvery:    10,
	}, Hooks{}, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := trainer.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Iterations != 30 {
		t.Fatalf("got %d iterations, want 30", res.Iterations)
	}
	if res.SkippedBatches != 0 {
		t.Fatalf("got %d skipped batches, want 0", res.SkippedBatches)
	}
	if len(res.History) == 0 {
		t.Fatal("no loss history recorded")
	}

	var evalPoints int
	for _, p := range res.History {
		if p.Eval {
			evalPoints++
		}
	}
	if evalPoints != 3 {
		t.Fatalf("got %d eval points, want 3", evalPoints)
	}
	if res.BestEvalLoss <= 0 {
		t.Fatalf("got best eval loss %v, want positive", res.BestEvalLoss)
	}
}

func TestRunInvokesHooks(t *testing.T) {
	den, s, batches, eval, r := tinySetup(t)

	var points []model.LossPoint
	trainer, err := New(den, s, batches, eval, Config{
		Iterations:   5,
		BatchSize:    2,
		LearningRate: 1e-3,
	}, Hooks{OnIteration: func(p model.LossPoint) { points = append(points, p) }}, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := trainer.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("hook saw %d points, want 5", len(points))
	}
	for i, p := range points {
		if p.Iteration != i {
			t.Fatalf("point %d has iteration %d", i, p.Iteration)
		}
		if p.LearningRate <= 0 {
			t.Fatalf("point %d has learning rate %v", i, p.LearningRate)
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	den, s, batches, eval, r := tinySetup(t)

	trainer, err := New(den, s, batches, eval, Config{
		Iterations:   1000,
		BatchSize:    2,
		LearningRate: 1e-3,
	}, Hooks{}, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := trainer.Run(ctx)
	if err != context.Canceled {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if res.Iterations != 0 {
		t.Fatalf("cancelled run reported %d iterations", res.Iterations)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	den, s, batches, eval, r := tinySetup(t)

	cases := []Config{
		{Iterations: 0, BatchSize: 2, LearningRate: 1e-3},
		{Iterations: 10, BatchSize: 0, LearningRate: 1e-3},
		{Iterations: 10, BatchSize: 2, LearningRate: 0},
		{Iterations: 10, BatchSize: 2, LearningRate: 1e-3, WeightDecay: -1},
	}
	for i, cfg := range cases {
		if _, err := New(den, s, batches, eval, cfg, Hooks{}, r); err == nil {
			t.Fatalf("case %d: expected config error", i)
		}
	}
}
