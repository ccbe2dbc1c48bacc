package storage

import (
	"context"
	"sort"
	"sync"

	"foldgen/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]model.Checkpoint
	runs        map[string]model.RunSummary
	losses      map[string][]model.LossPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints = make(map[string]model.Checkpoint)
	s.runs = make(map[string]model.RunSummary)
	s.losses = make(map[string][]model.LossPoint)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[checkpoint.ID] = checkpoint
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[id]
	return checkpoint, ok, nil
}

func (s *MemoryStore) LatestCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best model.Checkpoint
	found := false
	for _, checkpoint := range s.checkpoints {
		if checkpoint.RunID != runID {
			continue
		}
		if !found || checkpoint.Iteration > best.Iteration {
			best = checkpoint
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) SaveRunSummary(_ context.Context, summary model.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetRunSummary(_ context.Context, runID string) (model.RunSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.runs[runID]
	return summary, ok, nil
}

func (s *MemoryStore) ListRunSummaries(_ context.Context) ([]model.RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]model.RunSummary, 0, len(s.runs))
	for _, summary := range s.runs {
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAtUTC != summaries[j].CreatedAtUTC {
			return summaries[i].CreatedAtUTC < summaries[j].CreatedAtUTC
		}
		return summaries[i].RunID < summaries[j].RunID
	})
	return summaries, nil
}

func (s *MemoryStore) SaveLossHistory(_ context.Context, runID string, points []model.LossPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.LossPoint, len(points))
	copy(copied, points)
	s.losses[runID] = copied
	return nil
}

func (s *MemoryStore) GetLossHistory(_ context.Context, runID string) ([]model.LossPoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, ok := s.losses[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LossPoint, len(points))
	copy(copied, points)
	return copied, true, nil
}
