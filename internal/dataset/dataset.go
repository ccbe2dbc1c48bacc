// Package dataset loads protein backbone chain sets, normalizes coordinates
// into model space and batches structures for training.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Backbone atoms, in the channel order used throughout the module. Each
// residue contributes 3 coordinates per atom, 12 channels total.
var backboneAtoms = []string{"N", "CA", "C", "O"}

// Channels is the per-residue feature width.
const Channels = 12

// Structure is one protein chain in model space: a SeqLen x Channels
// coordinate tensor and a mask marking which rows are real residues.
type Structure struct {
	Name   string
	Length int
	Coords *mat.Dense
	Mask   []bool
}

// Coordinates come in as pointers because experimental structures mark
// unresolved atoms with JSON null.
type chainRecord struct {
	Name   string                   `json:"name"`
	Seq    string                   `json:"seq"`
	Coords map[string][][]*float64 `json:"coords"`
}

// LoadChainSet reads a JSON-lines chain set and converts each record into a
// fixed-length structure. Chains longer than seqLen are truncated; shorter
// ones are zero-padded with mask false. Residues with any missing backbone
// atom are masked out.
func LoadChainSet(path string, seqLen int) ([]*Structure, error) {
	if seqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", seqLen)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chain set: %w", err)
	}
	defer f.Close()

	var structures []*Structure
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec chainRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse chain set line %d: %w", line, err)
		}
		st, err := structureFromRecord(rec, seqLen)
		if err != nil {
			return nil, fmt.Errorf("chain set line %d (%s): %w", line, rec.Name, err)
		}
		structures = append(structures, st)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chain set: %w", err)
	}
	if len(structures) == 0 {
		return nil, fmt.Errorf("chain set %s contains no records", path)
	}
	return structures, nil
}

func structureFromRecord(rec chainRecord, seqLen int) (*Structure, error) {
	if rec.Name == "" {
		return nil, fmt.Errorf("record missing name")
	}
	length := len(rec.Seq)
	if length == 0 {
		if ca, ok := rec.Coords["CA"]; ok {
			length = len(ca)
		}
	}
	if length == 0 {
		return nil, fmt.Errorf("record has no residues")
	}
	for _, atom := range backboneAtoms {
		rows, ok := rec.Coords[atom]
		if !ok {
			return nil, fmt.Errorf("record missing %s coordinates", atom)
		}
		if len(rows) != length {
			return nil, fmt.Errorf("%s has %d rows, want %d", atom, len(rows), length)
		}
	}

	kept := length
	if kept > seqLen {
		kept = seqLen
	}

	coords := mat.NewDense(seqLen, Channels, nil)
	mask := make([]bool, seqLen)
	for i := 0; i < kept; i++ {
		valid := true
		for a, atom := range backboneAtoms {
			row := rec.Coords[atom][i]
			if len(row) != 3 {
				return nil, fmt.Errorf("%s residue %d has %d coordinates, want 3", atom, i, len(row))
			}
			for c := 0; c < 3; c++ {
				if row[c] == nil || math.IsNaN(*row[c]) || math.IsInf(*row[c], 0) {
					valid = false
					continue
				}
				coords.Set(i, a*3+c, *row[c])
			}
		}
		mask[i] = valid
		if !valid {
			for j := 0; j < Channels; j++ {
				coords.Set(i, j, 0)
			}
		}
	}

	return &Structure{Name: rec.Name, Length: kept, Coords: coords, Mask: mask}, nil
}

// Splits names the chains assigned to each evaluation partition. Any chain
// not listed belongs to the training set.
type Splits struct {
	Test       []string `json:"test"`
	Validation []string `json:"validation"`
}

// LoadSplits reads a split assignment file.
func LoadSplits(path string) (*Splits, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open splits: %w", err)
	}
	var s Splits
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse splits: %w", err)
	}
	return &s, nil
}

// Partition separates structures into train, validation and test sets
// according to the split assignment. A nil split puts everything in train.
func Partition(structures []*Structure, splits *Splits) (train, validation, test []*Structure) {
	if splits == nil {
		return structures, nil, nil
	}
	inValidation := nameSet(splits.Validation)
	inTest := nameSet(splits.Test)
	for _, st := range structures {
		switch {
		case inTest[st.Name]:
			test = append(test, st)
		case inValidation[st.Name]:
			validation = append(validation, st)
		default:
			train = append(train, st)
		}
	}
	return train, validation, test
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
