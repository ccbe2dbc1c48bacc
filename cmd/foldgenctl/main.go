package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"foldgen/internal/model"
	"foldgen/internal/storage"
	"foldgen/pkg/foldgen"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "foldgen.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "sample":
		return runSample(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "losses":
		return runLosses(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: foldgenctl <init|train|sample|runs|losses|export> [flags]", msg)
}

func storeFlags(fs *flag.FlagSet) (storeKind, dbPath, artifactsDir *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", defaultDBPath, "sqlite database path")
	artifactsDir = fs.String("artifacts-dir", defaultArtifactsDir, "run artifacts directory")
	return
}

func newClient(storeKind, dbPath, artifactsDir string) (*foldgen.Client, error) {
	return foldgen.New(foldgen.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   defaultExportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	configPath := fs.String("config", "", "JSON training config (flags override)")
	datasetPath := fs.String("dataset", "", "chain set JSONL path")
	splitsPath := fs.String("splits", "", "split assignment JSON path")
	seed := fs.Int64("seed", 0, "random seed")
	iterations := fs.Int("iterations", 0, "training iterations")
	batchSize := fs.Int("batch-size", 0, "structures per batch")
	learningRate := fs.Float64("lr", 0, "peak learning rate")
	weightDecay := fs.Float64("weight-decay", 0, "adamw weight decay")
	seqLen := fs.Int("seq-len", 0, "maximum residues per chain")
	blocks := fs.Int("blocks", 0, "transformer blocks")
	width := fs.Int("width", 0, "hidden width")
	heads := fs.Int("heads", 0, "attention heads")
	steps := fs.Int("steps", 0, "diffusion timesteps")
	evalEvery := fs.Int("eval-every", 0, "iterations between evaluations")
	checkpointEvery := fs.Int("checkpoint-every", 0, "iterations between intermediate checkpoints")
	quiet := fs.Bool("quiet", false, "suppress per-iteration output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var req foldgen.TrainRequest
	if *configPath != "" {
		loaded, err := loadTrainRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}
	if *datasetPath != "" {
		req.DatasetPath = *datasetPath
	}
	if *splitsPath != "" {
		req.SplitsPath = *splitsPath
	}
	if *seed != 0 {
		req.Seed = *seed
	}
	if *iterations > 0 {
		req.Iterations = *iterations
	}
	if *batchSize > 0 {
		req.BatchSize = *batchSize
	}
	if *learningRate > 0 {
		req.LearningRate = *learningRate
	}
	if *weightDecay > 0 {
		req.WeightDecay = *weightDecay
	}
	if *seqLen > 0 {
		req.SeqLen = *seqLen
	}
	if *blocks > 0 {
		req.Blocks = *blocks
	}
	if *width > 0 {
		req.Width = *width
	}
	if *heads > 0 {
		req.Heads = *heads
	}
	if *steps > 0 {
		req.Steps = *steps
	}
	if *evalEvery > 0 {
		req.EvalEvery = *evalEvery
	}
	if *checkpointEvery > 0 {
		req.CheckpointEvery = *checkpointEvery
	}
	if req.DatasetPath == "" {
		return usageError("train requires -dataset or a config with dataset_path")
	}
	if !*quiet {
		req.Hooks.OnIteration = func(p model.LossPoint) {
			kind := "train"
			if p.Eval {
				kind = "eval"
			}
			fmt.Printf("iter=%d kind=%s loss=%.6f max_dev=%.4f lr=%.2e\n",
				p.Iteration, kind, p.Loss, p.MaxAbsDev, p.LearningRate)
		}
		req.Hooks.OnSkipped = func(iteration int, err error) {
			fmt.Printf("iter=%d skipped: %v\n", iteration, err)
		}
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("run=%s checkpoint=%s params=%s final_loss=%.6f best_eval=%.6f skipped=%d artifacts=%s\n",
		summary.RunID, summary.CheckpointID, humanize.Comma(int64(summary.NumParams)),
		summary.FinalLoss, summary.BestEvalLoss, summary.SkippedBatches, summary.ArtifactsDir)
	return nil
}

func runSample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	runID := fs.String("run", "", "run id (defaults to most recent)")
	checkpointID := fs.String("checkpoint", "", "explicit checkpoint id")
	count := fs.Int("count", 4, "structures to generate")
	seqLen := fs.Int("seq-len", 0, "residues per structure (defaults to model capacity)")
	sampler := fs.String("sampler", "accelerated", "sampler: ancestral|accelerated")
	steps := fs.Int("steps", 50, "denoising steps for the accelerated sampler")
	stepPolicy := fs.String("step-policy", "uniform", "timestep subsequence: uniform|optimized")
	seed := fs.Int64("seed", 0, "random seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Sample(ctx, foldgen.SampleRequest{
		RunID:        *runID,
		CheckpointID: *checkpointID,
		Count:        *count,
		SeqLen:       *seqLen,
		Sampler:      *sampler,
		Steps:        *steps,
		StepPolicy:   *stepPolicy,
		Seed:         *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run=%s checkpoint=%s samples=%d path=%s\n",
		summary.RunID, summary.CheckpointID, summary.Count, summary.Path)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	limit := fs.Int("limit", 0, "max runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, foldgen.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, item := range runs {
		fmt.Printf("run=%s created=%s dataset=%s seed=%d iterations=%d batch=%d final_loss=%.6f best_eval=%.6f\n",
			item.RunID, item.CreatedAtUTC, item.Dataset, item.Seed,
			item.Iterations, item.BatchSize, item.FinalLoss, item.BestEvalLoss)
	}
	return nil
}

func runLosses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("losses", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	runID := fs.String("run", "", "run id")
	limit := fs.Int("limit", 0, "max points to print (most recent)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("losses requires -run")
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	points, err := client.Losses(ctx, foldgen.LossesRequest{RunID: *runID, Limit: *limit})
	if err != nil {
		return err
	}
	for _, p := range points {
		kind := "train"
		if p.Eval {
			kind = "eval"
		}
		fmt.Printf("iter=%d kind=%s loss=%.6f max_dev=%.4f lr=%.2e\n",
			p.Iteration, kind, p.Loss, p.MaxAbsDev, p.LearningRate)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	storeKind, dbPath, artifactsDir := storeFlags(fs)
	runID := fs.String("run", "", "run id")
	outDir := fs.String("out", defaultExportsDir, "export directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("export requires -run")
	}

	client, err := newClient(*storeKind, *dbPath, *artifactsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, foldgen.ExportRequest{RunID: *runID, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run=%s dir=%s size=%s\n",
		summary.RunID, summary.Directory, humanize.Bytes(dirSize(summary.Directory)))
	return nil
}

func dirSize(dir string) uint64 {
	var total uint64
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.IsDir() {
			continue
		}
		total += uint64(info.Size())
	}
	return total
}
