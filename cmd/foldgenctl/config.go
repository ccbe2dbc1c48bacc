package main

import (
	"encoding/json"
	"fmt"
	"os"

	"foldgen/pkg/foldgen"
)

func loadTrainRequestFromConfig(path string) (foldgen.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return foldgen.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return foldgen.TrainRequest{}, fmt.Errorf("parse training config %s: %w", path, err)
	}

	var req foldgen.TrainRequest
	if v, ok := asString(raw["dataset_path"]); ok {
		req.DatasetPath = v
	}
	if v, ok := asString(raw["splits_path"]); ok {
		req.SplitsPath = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["iterations"]); ok {
		req.Iterations = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asFloat64(raw["weight_decay"]); ok {
		req.WeightDecay = v
	}
	if v, ok := asFloat64(raw["warmup_frac"]); ok {
		req.WarmupFrac = v
	}
	if v, ok := asFloat64(raw["clip_norm"]); ok {
		req.ClipNorm = v
	}
	if v, ok := asInt(raw["eval_every"]); ok {
		req.EvalEvery = v
	}
	if v, ok := asInt(raw["checkpoint_every"]); ok {
		req.CheckpointEvery = v
	}
	if v, ok := asInt(raw["seq_len"]); ok {
		req.SeqLen = v
	}
	if v, ok := asInt(raw["blocks"]); ok {
		req.Blocks = v
	}
	if v, ok := asInt(raw["width"]); ok {
		req.Width = v
	}
	if v, ok := asInt(raw["heads"]); ok {
		req.Heads = v
	}
	if v, ok := asInt(raw["steps"]); ok {
		req.Steps = v
	}
	if v, ok := asFloat64(raw["offset"]); ok {
		req.Offset = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
