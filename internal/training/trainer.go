// Package training drives the noise-matching optimization loop: corrupt a
// batch, predict the noise, backpropagate the weighted loss and step the
// optimizer under a warmup-cosine learning-rate schedule.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"foldgen/internal/dataset"
	"foldgen/internal/denoiser"
	"foldgen/internal/diffusion"
	"foldgen/internal/model"
	"foldgen/internal/schedule"
)

// Config controls one training run.
type Config struct {
	Iterations      int
	BatchSize       int
	LearningRate    float64
	WeightDecay     float64
	WarmupFrac      float64
	ClipNorm        float64
	EvalEvery       int
	EvalBatches     int
	CheckpointEvery int
}

func (c *Config) normalize() error {
	if c.Iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %v", c.LearningRate)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay must be non-negative, got %v", c.WeightDecay)
	}
	if c.WarmupFrac <= 0 {
		c.WarmupFrac = 0.1
	}
	if c.ClipNorm <= 0 {
		c.ClipNorm = 1.0
	}
	if c.EvalBatches <= 0 {
		c.EvalBatches = 4
	}
	return nil
}

// Hooks observe the run. Every hook is optional. OnCheckpoint fires every
// CheckpointEvery iterations; returning an error aborts the run.
type Hooks struct {
	OnIteration  func(point model.LossPoint)
	OnSkipped    func(iteration int, err error)
	OnCheckpoint func(iteration int) error
}

// Result summarizes a finished (or cancelled) run.
type Result struct {
	Iterations     int
	FinalLoss      float64
	BestEvalLoss   float64
	SkippedBatches int
	History        []model.LossPoint
}

// Trainer owns one optimization run over a fixed model and dataset.
type Trainer struct {
	cfg     Config
	den     *denoiser.Denoiser
	sched   *schedule.NoiseSchedule
	batches *dataset.Batcher
	eval    []*dataset.Structure
	opt     *denoiser.AdamW
	r       *rand.Rand
	hooks   Hooks
}

// New wires a trainer. eval may be empty, in which case evaluation points are
// skipped entirely.
func New(den *denoiser.Denoiser, sched *schedule.NoiseSchedule, batches *dataset.Batcher, eval []*dataset.Structure, cfg Config, hooks Hooks, r *rand.Rand) (*Trainer, error) {
	if err := (&cfg).normalize(); err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:     cfg,
		den:     den,
		sched:   sched,
		batches: batches,
		eval:    eval,
		opt:     denoiser.NewAdamW(cfg.WeightDecay),
		r:       r,
		hooks:   hooks,
	}, nil
}

// Run executes the configured number of iterations. Cancellation is checked
// between iterations; a cancelled run returns the partial result alongside
// the context error.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	res := &Result{BestEvalLoss: math.Inf(1)}

	for iter := 0; iter < t.cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		lr := denoiser.CosineWarmupLR(t.cfg.LearningRate, iter, t.cfg.Iterations, t.cfg.WarmupFrac)
		stats, err := t.step(lr)
		if err != nil {
			if errors.Is(err, diffusion.ErrNonFinite) {
				res.SkippedBatches++
				if t.hooks.OnSkipped != nil {
					t.hooks.OnSkipped(iter, err)
				}
				continue
			}
			return res, fmt.Errorf("iteration %d: %w", iter, err)
		}

		res.Iterations = iter + 1
		res.FinalLoss = stats.WeightedMSE
		point := model.LossPoint{
			Iteration:    iter,
			Loss:         stats.WeightedMSE,
			MaxAbsDev:    stats.MaxAbsDev,
			LearningRate: lr,
		}
		res.History = append(res.History, point)
		if t.hooks.OnIteration != nil {
			t.hooks.OnIteration(point)
		}

		if t.cfg.EvalEvery > 0 && len(t.eval) > 0 && (iter+1)%t.cfg.EvalEvery == 0 {
			evalLoss, err := t.Evaluate()
			if err != nil {
				return res, fmt.Errorf("evaluation at iteration %d: %w", iter, err)
			}
			if evalLoss < res.BestEvalLoss {
				res.BestEvalLoss = evalLoss
			}
			evalPoint := model.LossPoint{
				Iteration:    iter,
				Loss:         evalLoss,
				LearningRate: lr,
				Eval:         true,
			}
			res.History = append(res.History, evalPoint)
			if t.hooks.OnIteration != nil {
				t.hooks.OnIteration(evalPoint)
			}
		}

		if t.cfg.CheckpointEvery > 0 && t.hooks.OnCheckpoint != nil && (iter+1)%t.cfg.CheckpointEvery == 0 {
			if err := t.hooks.OnCheckpoint(iter + 1); err != nil {
				return res, fmt.Errorf("checkpoint at iteration %d: %w", iter, err)
			}
		}
	}
	return res, nil
}

// step runs one optimization step over a fresh mini-batch.
func (t *Trainer) step(lr float64) (diffusion.LossStats, error) {
	batch := t.batches.Next()
	predicted, target, ts, masks, caches, err := t.forward(batch)
	if err != nil {
		return diffusion.LossStats{}, err
	}

	stats, grads, err := diffusion.LossGrads(t.sched, predicted, target, ts, masks)
	if err != nil {
		return stats, err
	}

	t.den.ZeroGrads()
	for b := range caches {
		t.den.Backward(caches[b], grads[b])
	}
	denoiser.ClipGradNorm(t.den.Params(), t.cfg.ClipNorm)
	t.opt.Step(t.den.Params(), lr)
	return stats, nil
}

// Evaluate measures the loss on the held-out structures without touching
// gradients or optimizer state.
func (t *Trainer) Evaluate() (float64, error) {
	if len(t.eval) == 0 {
		return 0, fmt.Errorf("no evaluation structures")
	}

	total := 0.0
	batches := 0
	for start := 0; start < len(t.eval) && batches < t.cfg.EvalBatches; start += t.cfg.BatchSize {
		end := start + t.cfg.BatchSize
		if end > len(t.eval) {
			end = len(t.eval)
		}
		predicted, target, ts, masks, _, err := t.forward(t.eval[start:end])
		if err != nil {
			return 0, err
		}
		stats, err := diffusion.Loss(t.sched, predicted, target, ts, masks)
		if err != nil {
			return 0, err
		}
		total += stats.WeightedMSE
		batches++
	}
	return total / float64(batches), nil
}

// forward corrupts each structure at an independently sampled timestep and
// runs the denoiser, returning everything the loss and backward pass need.
func (t *Trainer) forward(batch []*dataset.Structure) (predicted, target []*mat.Dense, ts []int, masks [][]bool, caches []*denoiser.ForwardCache, err error) {
	predicted = make([]*mat.Dense, len(batch))
	target = make([]*mat.Dense, len(batch))
	ts = make([]int, len(batch))
	masks = make([][]bool, len(batch))
	caches = make([]*denoiser.ForwardCache, len(batch))

	for b, st := range batch {
		rows, cols := st.Coords.Dims()
		step := t.r.Intn(t.sched.Steps())
		eps := diffusion.NoiseLike(t.r, rows, cols)
		xt, err := diffusion.Corrupt(t.sched, st.Coords, step, eps)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		epsHat, cache, err := t.den.Forward(xt, step, st.Mask)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("structure %s: %w", st.Name, err)
		}
		predicted[b] = epsHat
		target[b] = eps
		ts[b] = step
		masks[b] = st.Mask
		caches[b] = cache
	}
	return predicted, target, ts, masks, caches, nil
}
