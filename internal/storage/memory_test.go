package storage

import (
	"context"
	"testing"

	"foldgen/internal/model"
)

func versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func TestMemoryStoreCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := model.Checkpoint{
		VersionedRecord: versioned(),
		ID:              "ckpt-1",
		RunID:           "run-1",
		Iteration:       100,
		Denoiser:        model.DenoiserConfig{Blocks: 2, Width: 32, Heads: 4, SeqLen: 16},
		Schedule:        model.ScheduleConfig{Steps: 1000, Offset: 0.008},
		Params: []model.TensorRecord{
			{Name: "in_proj.weight", Rows: 2, Cols: 3, Data: []float64{1, 2, 3, 4, 5, 6}},
		},
	}
	if err := store.SaveCheckpoint(ctx, input); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	output, ok, err := store.GetCheckpoint(ctx, "ckpt-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted checkpoint")
	}
	if output.RunID != "run-1" || output.Iteration != 100 || len(output.Params) != 1 {
		t.Fatalf("unexpected checkpoint: %+v", output)
	}
}

func TestMemoryStoreLatestCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for i, iter := range []int{50, 200, 100} {
		ckpt := model.Checkpoint{
			VersionedRecord: versioned(),
			ID:              string(rune('a' + i)),
			RunID:           "run-1",
			Iteration:       iter,
		}
		if err := store.SaveCheckpoint(ctx, ckpt); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}
	if err := store.SaveCheckpoint(ctx, model.Checkpoint{
		VersionedRecord: versioned(), ID: "other", RunID: "run-2", Iteration: 999,
	}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	latest, ok, err := store.LatestCheckpoint(ctx, "run-1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if !ok {
		t.Fatal("expected latest checkpoint")
	}
	if latest.Iteration != 200 {
		t.Fatalf("got iteration %d, want 200", latest.Iteration)
	}

	if _, ok, _ := store.LatestCheckpoint(ctx, "run-missing"); ok {
		t.Fatal("found checkpoint for unknown run")
	}
}

func TestMemoryStoreRunSummaries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	first := model.RunSummary{VersionedRecord: versioned(), RunID: "run-b", CreatedAtUTC: "2026-08-26T10:00:00Z", FinalLoss: 0.5}
	second := model.RunSummary{VersionedRecord: versioned(), RunID: "run-a", CreatedAtUTC: "2026-08-26T11:00:00Z", FinalLoss: 0.4}
	if err := store.SaveRunSummary(ctx, first); err != nil {
		t.Fatalf("save run summary: %v", err)
	}
	if err := store.SaveRunSummary(ctx, second); err != nil {
		t.Fatalf("save run summary: %v", err)
	}

	got, ok, err := store.GetRunSummary(ctx, "run-b")
	if err != nil {
		t.Fatalf("get run summary: %v", err)
	}
	if !ok || got.FinalLoss != 0.5 {
		t.Fatalf("unexpected summary: %+v", got)
	}

	all, err := store.ListRunSummaries(ctx)
	if err != nil {
		t.Fatalf("list run summaries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d summaries, want 2", len(all))
	}
	if all[0].RunID != "run-b" || all[1].RunID != "run-a" {
		t.Fatalf("summaries not ordered by creation time: %s, %s", all[0].RunID, all[1].RunID)
	}
}

func TestMemoryStoreLossHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := []model.LossPoint{
		{Iteration: 0, Loss: 1.2, MaxAbsDev: 3.1, LearningRate: 1e-4},
		{Iteration: 1, Loss: 1.1, MaxAbsDev: 2.9, LearningRate: 2e-4},
	}
	if err := store.SaveLossHistory(ctx, "run-1", input); err != nil {
		t.Fatalf("save loss history: %v", err)
	}

	output, ok, err := store.GetLossHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get loss history: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted loss history")
	}
	if len(output) != 2 || output[1].Loss != 1.1 {
		t.Fatalf("unexpected history: %+v", output)
	}

	// The stored history must not alias the caller's slice.
	input[0].Loss = 99
	again, _, _ := store.GetLossHistory(ctx, "run-1")
	if again[0].Loss == 99 {
		t.Fatal("stored loss history aliases caller slice")
	}
}
