// Package foldgen is the public facade over the diffusion engine: it wires
// the dataset pipeline, the denoiser, the training loop and the samplers to
// persistent storage and on-disk run artifacts.
package foldgen

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"foldgen/internal/dataset"
	"foldgen/internal/denoiser"
	"foldgen/internal/diffusion"
	"foldgen/internal/model"
	"foldgen/internal/schedule"
	"foldgen/internal/stats"
	"foldgen/internal/storage"
	"foldgen/internal/training"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "foldgen.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
}

type Client struct {
	store       storage.Store
	initialized bool

	artifactsDir string
	exportsDir   string
}

type TrainRequest struct {
	DatasetPath string
	SplitsPath  string
	Seed        int64

	Iterations      int
	BatchSize       int
	LearningRate    float64
	WeightDecay     float64
	WarmupFrac      float64
	ClipNorm        float64
	EvalEvery       int
	CheckpointEvery int

	SeqLen int
	Blocks int
	Width  int
	Heads  int

	Steps  int
	Offset float64

	Hooks training.Hooks
}

type TrainSummary struct {
	RunID          string
	CheckpointID   string
	ArtifactsDir   string
	Iterations     int
	FinalLoss      float64
	BestEvalLoss   float64
	SkippedBatches int
	NumParams      int
}

type SampleRequest struct {
	RunID        string
	CheckpointID string
	Latest       bool

	Count      int
	SeqLen     int
	Sampler    string
	Steps      int
	StepPolicy string
	Seed       int64
}

type SampleSummary struct {
	RunID        string
	CheckpointID string
	Path         string
	Count        int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Dataset      string
	Seed         int64
	Iterations   int
	BatchSize    int
	FinalLoss    float64
	BestEvalLoss float64
}

type LossesRequest struct {
	RunID string
	Limit int
}

type ExportRequest struct {
	RunID  string
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Train runs one full training pass over the configured dataset, persists
// the final checkpoint plus run summary, and writes the artifact directory.
func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	if req.DatasetPath == "" {
		return TrainSummary{}, fmt.Errorf("dataset path is required")
	}
	if req.Iterations <= 0 {
		req.Iterations = 1000
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 8
	}
	if req.LearningRate <= 0 {
		req.LearningRate = 1e-4
	}
	if req.WeightDecay < 0 {
		return TrainSummary{}, fmt.Errorf("weight decay must be non-negative")
	}
	if req.WeightDecay == 0 {
		req.WeightDecay = 0.01
	}
	if req.SeqLen <= 0 {
		req.SeqLen = 256
	}
	if req.Blocks <= 0 {
		req.Blocks = 4
	}
	if req.Width <= 0 {
		req.Width = 128
	}
	if req.Heads <= 0 {
		req.Heads = 8
	}
	if req.Steps <= 0 {
		req.Steps = 1000
	}
	if req.Offset <= 0 {
		req.Offset = 0.008
	}
	if err := c.Init(ctx); err != nil {
		return TrainSummary{}, err
	}

	structures, err := dataset.LoadChainSet(req.DatasetPath, req.SeqLen)
	if err != nil {
		return TrainSummary{}, err
	}
	var splits *dataset.Splits
	if req.SplitsPath != "" {
		splits, err = dataset.LoadSplits(req.SplitsPath)
		if err != nil {
			return TrainSummary{}, err
		}
	}
	train, validation, _ := dataset.Partition(structures, splits)
	if len(train) == 0 {
		return TrainSummary{}, fmt.Errorf("no training structures after split")
	}

	for _, st := range train {
		dataset.Center(st)
	}
	for _, st := range validation {
		dataset.Center(st)
	}
	normStats, err := dataset.ComputeStats(train)
	if err != nil {
		return TrainSummary{}, err
	}
	for _, st := range train {
		normStats.Normalize(st)
	}
	for _, st := range validation {
		normStats.Normalize(st)
	}

	sched, err := schedule.New(req.Steps, req.Offset)
	if err != nil {
		return TrainSummary{}, err
	}
	r := rand.New(rand.NewSource(req.Seed))
	denCfg := model.DenoiserConfig{
		Blocks: req.Blocks,
		Width:  req.Width,
		Heads:  req.Heads,
		SeqLen: req.SeqLen,
	}
	den, err := denoiser.New(denCfg, r)
	if err != nil {
		return TrainSummary{}, err
	}

	batches, err := dataset.NewBatcher(train, req.BatchSize, r)
	if err != nil {
		return TrainSummary{}, err
	}

	runID := uuid.NewString()
	scheduleCfg := model.ScheduleConfig{Steps: req.Steps, Offset: req.Offset}
	normRecord := model.NormStats{Mean: normStats.Mean, Std: normStats.Std}

	hooks := req.Hooks
	if req.CheckpointEvery > 0 {
		hooks.OnCheckpoint = func(iteration int) error {
			return c.store.SaveCheckpoint(ctx, model.Checkpoint{
				VersionedRecord: currentVersions(),
				ID:              uuid.NewString(),
				RunID:           runID,
				Iteration:       iteration,
				Denoiser:        den.Config(),
				Schedule:        scheduleCfg,
				Stats:           normRecord,
				Params:          den.StateRecords(),
			})
		}
	}

	trainCfg := training.Config{
		Iterations:      req.Iterations,
		BatchSize:       req.BatchSize,
		LearningRate:    req.LearningRate,
		WeightDecay:     req.WeightDecay,
		WarmupFrac:      req.WarmupFrac,
		ClipNorm:        req.ClipNorm,
		EvalEvery:       req.EvalEvery,
		CheckpointEvery: req.CheckpointEvery,
	}
	trainer, err := training.New(den, sched, batches, validation, trainCfg, hooks, r)
	if err != nil {
		return TrainSummary{}, err
	}

	result, err := trainer.Run(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	checkpointID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339)

	checkpoint := model.Checkpoint{
		VersionedRecord: currentVersions(),
		ID:              checkpointID,
		RunID:           runID,
		Iteration:       result.Iterations,
		Denoiser:        den.Config(),
		Schedule:        scheduleCfg,
		Stats:           normRecord,
		Params:          den.StateRecords(),
	}
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return TrainSummary{}, fmt.Errorf("save checkpoint: %w", err)
	}

	summary := model.RunSummary{
		VersionedRecord: currentVersions(),
		RunID:           runID,
		CreatedAtUTC:    now,
		Dataset:         req.DatasetPath,
		Seed:            req.Seed,
		Iterations:      result.Iterations,
		BatchSize:       req.BatchSize,
		FinalLoss:       result.FinalLoss,
		BestEvalLoss:    result.BestEvalLoss,
		SkippedBatches:  result.SkippedBatches,
		Denoiser:        den.Config(),
		Schedule:        checkpoint.Schedule,
	}
	if err := c.store.SaveRunSummary(ctx, summary); err != nil {
		return TrainSummary{}, fmt.Errorf("save run summary: %w", err)
	}
	if err := c.store.SaveLossHistory(ctx, runID, result.History); err != nil {
		return TrainSummary{}, fmt.Errorf("save loss history: %w", err)
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:        runID,
			Dataset:      req.DatasetPath,
			SplitsPath:   req.SplitsPath,
			Seed:         req.Seed,
			Iterations:   req.Iterations,
			BatchSize:    req.BatchSize,
			LearningRate: req.LearningRate,
			WeightDecay:  req.WeightDecay,
			WarmupFrac:   req.WarmupFrac,
			ClipNorm:     req.ClipNorm,
			EvalEvery:    req.EvalEvery,
			Denoiser:     den.Config(),
			Schedule:     checkpoint.Schedule,
		},
		LossHistory:    result.History,
		FinalLoss:      result.FinalLoss,
		BestEvalLoss:   result.BestEvalLoss,
		SkippedBatches: result.SkippedBatches,
	})
	if err != nil {
		return TrainSummary{}, fmt.Errorf("write run artifacts: %w", err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:        runID,
		Dataset:      req.DatasetPath,
		Seed:         req.Seed,
		Iterations:   result.Iterations,
		BatchSize:    req.BatchSize,
		FinalLoss:    result.FinalLoss,
		BestEvalLoss: result.BestEvalLoss,
		CreatedAtUTC: now,
	}); err != nil {
		return TrainSummary{}, fmt.Errorf("append run index: %w", err)
	}

	return TrainSummary{
		RunID:          runID,
		CheckpointID:   checkpointID,
		ArtifactsDir:   artifactsDir,
		Iterations:     result.Iterations,
		FinalLoss:      result.FinalLoss,
		BestEvalLoss:   result.BestEvalLoss,
		SkippedBatches: result.SkippedBatches,
		NumParams:      den.NumParams(),
	}, nil
}

// Sample rebuilds the model and noise schedule recorded in a checkpoint and
// generates new backbones, written to the run's artifact directory in
// coordinate space.
func (c *Client) Sample(ctx context.Context, req SampleRequest) (SampleSummary, error) {
	if err := c.Init(ctx); err != nil {
		return SampleSummary{}, err
	}
	if req.Count <= 0 {
		req.Count = 4
	}
	if req.Sampler == "" {
		req.Sampler = string(diffusion.SamplerAccelerated)
	}
	if req.Steps <= 0 {
		req.Steps = 50
	}

	checkpoint, err := c.resolveCheckpoint(ctx, req)
	if err != nil {
		return SampleSummary{}, err
	}

	// The exact training-time retention curve is rebuilt from the
	// checkpoint; a schedule mismatch silently ruins sample quality.
	sched, err := schedule.New(checkpoint.Schedule.Steps, checkpoint.Schedule.Offset)
	if err != nil {
		return SampleSummary{}, fmt.Errorf("rebuild schedule: %w", err)
	}

	r := rand.New(rand.NewSource(req.Seed))
	den, err := denoiser.New(checkpoint.Denoiser, r)
	if err != nil {
		return SampleSummary{}, fmt.Errorf("rebuild denoiser: %w", err)
	}
	if err := den.LoadStateRecords(checkpoint.Params); err != nil {
		return SampleSummary{}, fmt.Errorf("load weights: %w", err)
	}

	seqLen := req.SeqLen
	if seqLen <= 0 || seqLen > checkpoint.Denoiser.SeqLen {
		seqLen = checkpoint.Denoiser.SeqLen
	}

	coords, masks, err := diffusion.Generate(den, sched, diffusion.Request{
		BatchSize:  req.Count,
		SeqLen:     seqLen,
		Channels:   checkpoint.Denoiser.InputDim,
		Kind:       diffusion.SamplerKind(req.Sampler),
		StepCount:  req.Steps,
		StepPolicy: diffusion.StepPolicy(req.StepPolicy),
	}, r)
	if err != nil {
		return SampleSummary{}, err
	}

	normStats := &dataset.Stats{Mean: checkpoint.Stats.Mean, Std: checkpoint.Stats.Std}
	if err := normStats.Validate(); err != nil {
		return SampleSummary{}, fmt.Errorf("checkpoint stats: %w", err)
	}

	set := stats.SampleSet{
		RunID:        checkpoint.RunID,
		CheckpointID: checkpoint.ID,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
	}
	for i := range coords {
		angstroms := normStats.Denormalize(coords[i], masks[i])
		set.Samples = append(set.Samples, stats.SampleRecord{
			Index:   i,
			Length:  seqLen,
			Coords:  stats.CoordsToRows(angstroms),
			Sampler: req.Sampler,
			Steps:   req.Steps,
		})
	}

	path, err := stats.WriteSampleSet(c.artifactsDir, set)
	if err != nil {
		return SampleSummary{}, fmt.Errorf("write samples: %w", err)
	}

	return SampleSummary{
		RunID:        checkpoint.RunID,
		CheckpointID: checkpoint.ID,
		Path:         path,
		Count:        len(set.Samples),
	}, nil
}

func (c *Client) resolveCheckpoint(ctx context.Context, req SampleRequest) (model.Checkpoint, error) {
	if req.CheckpointID != "" {
		checkpoint, ok, err := c.store.GetCheckpoint(ctx, req.CheckpointID)
		if err != nil {
			return model.Checkpoint{}, err
		}
		if !ok {
			return model.Checkpoint{}, fmt.Errorf("checkpoint %s not found", req.CheckpointID)
		}
		return checkpoint, nil
	}

	runID := req.RunID
	if runID == "" || req.Latest {
		summaries, err := c.store.ListRunSummaries(ctx)
		if err != nil {
			return model.Checkpoint{}, err
		}
		if len(summaries) == 0 {
			return model.Checkpoint{}, fmt.Errorf("no runs recorded")
		}
		if runID == "" {
			runID = summaries[len(summaries)-1].RunID
		}
	}

	checkpoint, ok, err := c.store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if !ok {
		return model.Checkpoint{}, fmt.Errorf("no checkpoint for run %s", runID)
	}
	return checkpoint, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	summaries, err := c.store.ListRunSummaries(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]RunItem, 0, len(summaries))
	for i := len(summaries) - 1; i >= 0; i-- {
		s := summaries[i]
		items = append(items, RunItem{
			RunID:        s.RunID,
			CreatedAtUTC: s.CreatedAtUTC,
			Dataset:      s.Dataset,
			Seed:         s.Seed,
			Iterations:   s.Iterations,
			BatchSize:    s.BatchSize,
			FinalLoss:    s.FinalLoss,
			BestEvalLoss: s.BestEvalLoss,
		})
		if req.Limit > 0 && len(items) >= req.Limit {
			break
		}
	}
	return items, nil
}

func (c *Client) Losses(ctx context.Context, req LossesRequest) ([]model.LossPoint, error) {
	if req.RunID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	points, ok, err := c.store.GetLossHistory(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no loss history for run %s", req.RunID)
	}
	if req.Limit > 0 && len(points) > req.Limit {
		points = points[len(points)-req.Limit:]
	}
	return points, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" {
		return ExportSummary{}, fmt.Errorf("run id is required")
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}
	dir, err := stats.ExportRunArtifacts(c.artifactsDir, req.RunID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: req.RunID, Directory: dir}, nil
}

func currentVersions() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}
