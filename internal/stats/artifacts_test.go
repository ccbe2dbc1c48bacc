package stats

import (
	"os"
	"path/filepath"
	"testing"

	"foldgen/internal/model"
)

func testArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:        runID,
			Dataset:      "chain_set.jsonl",
			Seed:         7,
			Iterations:   100,
			BatchSize:    8,
			LearningRate: 1e-4,
			Denoiser:     model.DenoiserConfig{Blocks: 4, Width: 128, Heads: 8, SeqLen: 256},
			Schedule:     model.ScheduleConfig{Steps: 1000, Offset: 0.008},
		},
		LossHistory: []model.LossPoint{
			{Iteration: 0, Loss: 2.1, LearningRate: 1e-5},
			{Iteration: 1, Loss: 1.9, LearningRate: 2e-5},
			{Iteration: 1, Loss: 2.0, Eval: true},
		},
		FinalLoss:    1.9,
		BestEvalLoss: 2.0,
	}
}

func TestWriteRunArtifactsCreatesRunDir(t *testing.T) {
	baseDir := t.TempDir()

	runDir, err := WriteRunArtifacts(baseDir, testArtifacts("run-1"))
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if runDir != filepath.Join(baseDir, "run-1") {
		t.Fatalf("unexpected run dir %s", runDir)
	}

	for _, file := range []string{"config.json", "loss_history.json", "summary.json", "loss_series.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("missing artifact %s: %v", file, err)
		}
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !ok || cfg.Iterations != 100 || cfg.Schedule.Steps != 1000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	points, ok, err := ReadLossHistory(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read loss history: %v", err)
	}
	if !ok || len(points) != 3 {
		t.Fatalf("unexpected loss history: %+v", points)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestLossSeriesSkipsEvalPoints(t *testing.T) {
	baseDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, testArtifacts("run-1")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	series, ok, err := ReadLossSeries(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read loss series: %v", err)
	}
	if !ok {
		t.Fatal("expected loss series")
	}
	if len(series) != 2 || series[0] != 2.1 || series[1] != 1.9 {
		t.Fatalf("unexpected series: %v", series)
	}
}

func TestRunIndexAppendAndReplace(t *testing.T) {
	baseDir := t.TempDir()

	first := RunIndexEntry{RunID: "run-1", FinalLoss: 1.0, CreatedAtUTC: "2026-08-26T10:00:00Z"}
	second := RunIndexEntry{RunID: "run-2", FinalLoss: 0.9, CreatedAtUTC: "2026-08-26T11:00:00Z"}
	if err := AppendRunIndex(baseDir, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := AppendRunIndex(baseDir, second); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].RunID != "run-2" {
		t.Fatalf("got first entry %s, want run-2", entries[0].RunID)
	}

	// Re-appending an existing run replaces its entry.
	first.FinalLoss = 0.5
	if err := AppendRunIndex(baseDir, first); err != nil {
		t.Fatalf("append replace: %v", err)
	}
	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("replace grew index to %d entries", len(entries))
	}
	for _, e := range entries {
		if e.RunID == "run-1" && e.FinalLoss != 0.5 {
			t.Fatalf("entry not replaced: %+v", e)
		}
	}
}

func TestListRunIndexEmptyDir(t *testing.T) {
	entries, err := ListRunIndex(t.TempDir())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries in empty dir", len(entries))
	}
}

func TestExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := t.TempDir()
	if _, err := WriteRunArtifacts(baseDir, testArtifacts("run-1")); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	dst, err := ExportRunArtifacts(baseDir, "run-1", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, file := range []string{"config.json", "loss_history.json", "summary.json", "loss_series.csv"} {
		if _, err := os.Stat(filepath.Join(dst, file)); err != nil {
			t.Fatalf("missing exported file %s: %v", file, err)
		}
	}

	if _, err := ExportRunArtifacts(baseDir, "missing-run", outDir); err == nil {
		t.Fatal("expected error for unknown run")
	}
}
