package stats

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestSampleSetRoundTrip(t *testing.T) {
	baseDir := t.TempDir()

	coords := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	set := SampleSet{
		RunID:        "run-1",
		CheckpointID: "ckpt-9",
		CreatedAtUTC: "2026-08-26T12:00:00Z",
		Samples: []SampleRecord{
			{Index: 0, Length: 2, Coords: CoordsToRows(coords), Sampler: "accelerated", Steps: 50},
		},
	}

	if _, err := WriteSampleSet(baseDir, set); err != nil {
		t.Fatalf("write sample set: %v", err)
	}

	got, ok, err := ReadSampleSet(baseDir, "run-1")
	if err != nil {
		t.Fatalf("read sample set: %v", err)
	}
	if !ok {
		t.Fatal("expected sample set")
	}
	if got.CheckpointID != "ckpt-9" || len(got.Samples) != 1 {
		t.Fatalf("unexpected sample set: %+v", got)
	}
	if got.Samples[0].Coords[1][2] != 6 {
		t.Fatalf("unexpected coordinate %v", got.Samples[0].Coords[1][2])
	}
}

func TestWriteSampleSetRequiresRunID(t *testing.T) {
	if _, err := WriteSampleSet(t.TempDir(), SampleSet{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestReadSampleSetMissing(t *testing.T) {
	_, ok, err := ReadSampleSet(t.TempDir(), "run-x")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ok {
		t.Fatal("found sample set that was never written")
	}
}
