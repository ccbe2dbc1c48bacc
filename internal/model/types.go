package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// DenoiserConfig describes the conditioned transformer architecture. It is
// persisted alongside weights so a checkpoint reconstructs an identical model.
type DenoiserConfig struct {
	Blocks        int `json:"blocks"`
	Width         int `json:"width"`
	Heads         int `json:"heads"`
	SeqLen        int `json:"seq_len"`
	InputDim      int `json:"input_dim"`
	FreqEmbedSize int `json:"freq_embed_size"`
	MLPRatio      int `json:"mlp_ratio"`
}

// ScheduleConfig is enough to rebuild the exact noise schedule used at
// training time. Sampling correctness depends on reproducing the same
// cumulative-retention curve, so it travels with every checkpoint.
type ScheduleConfig struct {
	Steps  int     `json:"steps"`
	Offset float64 `json:"offset"`
}

// NormStats are the per-channel normalization statistics applied to training
// coordinates. Generated samples are mapped back through them.
type NormStats struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// TensorRecord is a serialized named parameter.
type TensorRecord struct {
	Name string    `json:"name"`
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Checkpoint bundles denoiser weights with the configs needed to rebuild the
// model and its noise schedule.
type Checkpoint struct {
	VersionedRecord
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Iteration int            `json:"iteration"`
	Denoiser  DenoiserConfig `json:"denoiser"`
	Schedule  ScheduleConfig `json:"schedule"`
	Stats     NormStats      `json:"stats"`
	Params    []TensorRecord `json:"params"`
}

// RunSummary records the outcome of one training run.
type RunSummary struct {
	VersionedRecord
	RunID          string         `json:"run_id"`
	CreatedAtUTC   string         `json:"created_at_utc"`
	Dataset        string         `json:"dataset"`
	Seed           int64          `json:"seed"`
	Iterations     int            `json:"iterations"`
	BatchSize      int            `json:"batch_size"`
	FinalLoss      float64        `json:"final_loss"`
	BestEvalLoss   float64        `json:"best_eval_loss"`
	SkippedBatches int            `json:"skipped_batches"`
	Denoiser       DenoiserConfig `json:"denoiser"`
	Schedule       ScheduleConfig `json:"schedule"`
}

// LossPoint is one logged training measurement: the p2-weighted MSE that
// drives gradients and the max-absolute-deviation monitoring statistic.
type LossPoint struct {
	Iteration    int     `json:"iteration"`
	Loss         float64 `json:"loss"`
	MaxAbsDev    float64 `json:"max_abs_dev"`
	LearningRate float64 `json:"learning_rate"`
	Eval         bool    `json:"eval,omitempty"`
}
