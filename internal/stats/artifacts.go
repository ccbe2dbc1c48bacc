// Package stats writes per-run artifact directories: the resolved run
// configuration, the loss history and generated sample sets, plus a
// top-level index of all runs.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"foldgen/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the fully resolved configuration of one training run, written
// next to its outputs so results stay reproducible.
type RunConfig struct {
	RunID        string               `json:"run_id"`
	Dataset      string               `json:"dataset"`
	SplitsPath   string               `json:"splits_path,omitempty"`
	Seed         int64                `json:"seed"`
	Iterations   int                  `json:"iterations"`
	BatchSize    int                  `json:"batch_size"`
	LearningRate float64              `json:"learning_rate"`
	WeightDecay  float64              `json:"weight_decay"`
	WarmupFrac   float64              `json:"warmup_frac"`
	ClipNorm     float64              `json:"clip_norm"`
	EvalEvery    int                  `json:"eval_every"`
	Denoiser     model.DenoiserConfig `json:"denoiser"`
	Schedule     model.ScheduleConfig `json:"schedule"`
}

// RunArtifacts is everything one training run leaves on disk.
type RunArtifacts struct {
	Config         RunConfig         `json:"config"`
	LossHistory    []model.LossPoint `json:"loss_history"`
	FinalLoss      float64           `json:"final_loss"`
	BestEvalLoss   float64           `json:"best_eval_loss"`
	SkippedBatches int               `json:"skipped_batches"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Dataset      string  `json:"dataset"`
	Seed         int64   `json:"seed"`
	Iterations   int     `json:"iterations"`
	BatchSize    int     `json:"batch_size"`
	FinalLoss    float64 `json:"final_loss"`
	BestEvalLoss float64 `json:"best_eval_loss"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "loss_history.json"), artifacts.LossHistory); err != nil {
		return "", err
	}
	summary := map[string]any{
		"final_loss":      artifacts.FinalLoss,
		"best_eval_loss":  artifacts.BestEvalLoss,
		"skipped_batches": artifacts.SkippedBatches,
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), summary); err != nil {
		return "", err
	}
	if err := writeLossSeries(filepath.Join(runDir, "loss_series.csv"), artifacts.LossHistory); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "loss_history.json", "summary.json", "loss_series.csv"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	samplesPath := filepath.Join(src, "samples.json")
	if _, err := os.Stat(samplesPath); err == nil {
		if err := copyFile(samplesPath, filepath.Join(dst, "samples.json")); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}
	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadLossHistory(baseDir, runID string) ([]model.LossPoint, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var points []model.LossPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, false, err
	}
	return points, true, nil
}

// writeLossSeries emits the training-loss trajectory as a two-column CSV for
// plotting tools that do not speak JSON.
func writeLossSeries(path string, points []model.LossPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"iteration", "loss"}); err != nil {
		return err
	}
	for _, p := range points {
		if p.Eval {
			continue
		}
		record := []string{
			strconv.Itoa(p.Iteration),
			strconv.FormatFloat(p.Loss, 'g', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ReadLossSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_series.csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, false, err
	}

	var series []float64
	for i, record := range records {
		if i == 0 || len(record) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
