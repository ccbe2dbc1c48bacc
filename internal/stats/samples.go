package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
)

// SampleRecord is one generated backbone in coordinate space. Coords is
// row-major, one residue per row with the 12 backbone channels.
type SampleRecord struct {
	Index   int         `json:"index"`
	Length  int         `json:"length"`
	Coords  [][]float64 `json:"coords"`
	Sampler string      `json:"sampler"`
	Steps   int         `json:"steps"`
}

// SampleSet groups the samples produced by one sampling invocation.
type SampleSet struct {
	RunID        string         `json:"run_id"`
	CheckpointID string         `json:"checkpoint_id"`
	CreatedAtUTC string         `json:"created_at_utc"`
	Samples      []SampleRecord `json:"samples"`
}

// WriteSampleSet stores the set under the run's artifact directory.
func WriteSampleSet(baseDir string, set SampleSet) (string, error) {
	if set.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, set.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(runDir, "samples.json")
	if err := writeJSON(path, set); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSampleSet loads a previously written sample set.
func ReadSampleSet(baseDir, runID string) (SampleSet, bool, error) {
	path := filepath.Join(baseDir, runID, "samples.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SampleSet{}, false, nil
		}
		return SampleSet{}, false, err
	}
	var set SampleSet
	if err := json.Unmarshal(data, &set); err != nil {
		return SampleSet{}, false, err
	}
	return set, true, nil
}

// CoordsToRows flattens a coordinate matrix into the row slices SampleRecord
// stores.
func CoordsToRows(coords *mat.Dense) [][]float64 {
	rows, cols := coords.Dims()
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		for j := 0; j < cols; j++ {
			row[j] = coords.At(i, j)
		}
		out[i] = row
	}
	return out
}
