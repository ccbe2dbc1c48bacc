package storage

import (
	"context"

	"foldgen/internal/model"
)

// Store defines persistence operations for training artifacts: model
// checkpoints, run summaries and per-run loss histories.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveRunSummary(ctx context.Context, summary model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, bool, error)
	ListRunSummaries(ctx context.Context) ([]model.RunSummary, error)
	SaveLossHistory(ctx context.Context, runID string, points []model.LossPoint) error
	GetLossHistory(ctx context.Context, runID string) ([]model.LossPoint, bool, error)
}
