package denoiser

import (
	"fmt"

	"foldgen/internal/model"
)

// StateRecords serializes every parameter in stable order for checkpointing.
func (d *Denoiser) StateRecords() []model.TensorRecord {
	records := make([]model.TensorRecord, 0, len(d.params))
	for _, p := range d.params {
		rows, cols := p.W.Dims()
		data := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				data = append(data, p.W.At(i, j))
			}
		}
		records = append(records, model.TensorRecord{Name: p.Name, Rows: rows, Cols: cols, Data: data})
	}
	return records
}

// LoadStateRecords restores parameters from a checkpoint payload. Every
// record must match an existing parameter by name and shape, and every
// parameter must be covered.
func (d *Denoiser) LoadStateRecords(records []model.TensorRecord) error {
	byName := make(map[string]*Param, len(d.params))
	for _, p := range d.params {
		byName[p.Name] = p
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		p, ok := byName[rec.Name]
		if !ok {
			return fmt.Errorf("checkpoint has unknown parameter %q", rec.Name)
		}
		rows, cols := p.W.Dims()
		if rec.Rows != rows || rec.Cols != cols {
			return fmt.Errorf("parameter %q shape mismatch: checkpoint %dx%d, model %dx%d",
				rec.Name, rec.Rows, rec.Cols, rows, cols)
		}
		if len(rec.Data) != rows*cols {
			return fmt.Errorf("parameter %q has %d values, want %d", rec.Name, len(rec.Data), rows*cols)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.W.Set(i, j, rec.Data[i*cols+j])
			}
		}
		seen[rec.Name] = true
	}

	if len(seen) != len(d.params) {
		for _, p := range d.params {
			if !seen[p.Name] {
				return fmt.Errorf("checkpoint is missing parameter %q", p.Name)
			}
		}
	}
	return nil
}
