package model

import (
	"slices"

	"github.com/chaz8081/jointist-go/internal/config"
	"github.com/chaz8081/jointist-go/internal/errs"
)

// Task turns detection probabilities into the set of present classes.
type Task interface {
	Name() string
	// Select returns the indices of detected classes in ascending order.
	Select(probs []float32) []int
}

func newTask(tree *config.Tree, classes int) (Task, error) {
	name, err := tree.String("detection.task")
	if err != nil {
		return nil, err
	}
	threshold, err := tree.Float("detection.threshold")
	if err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, errs.New(errs.ErrConfiguration, "detection.threshold", "must be in (0, 1), got %g", threshold)
	}

	switch name {
	case TaskThreshold:
		return thresholdTask{threshold: float32(threshold)}, nil
	case TaskTopK:
		k, err := tree.Int("detection.top_k")
		if err != nil {
			return nil, err
		}
		if k <= 0 || k > classes {
			return nil, errs.New(errs.ErrConfiguration, "detection.top_k", "must be in [1, %d], got %d", classes, k)
		}
		return topKTask{threshold: float32(threshold), k: k}, nil
	default:
		return nil, unrecognized("detection.task", name, tasks)
	}
}

type thresholdTask struct {
	threshold float32
}

func (thresholdTask) Name() string { return TaskThreshold }

func (t thresholdTask) Select(probs []float32) []int {
	var out []int
	for i, p := range probs {
		if p >= t.threshold {
			out = append(out, i)
		}
	}
	return out
}

// topKTask keeps at most k classes above the threshold, most probable first,
// with ties broken by the lower index.
type topKTask struct {
	threshold float32
	k         int
}

func (topKTask) Name() string { return TaskTopK }

func (t topKTask) Select(probs []float32) []int {
	out := thresholdTask{threshold: t.threshold}.Select(probs)
	slices.SortStableFunc(out, func(a, b int) int {
		switch {
		case probs[a] > probs[b]:
			return -1
		case probs[a] < probs[b]:
			return 1
		}
		return 0
	})
	if len(out) > t.k {
		out = out[:t.k]
	}
	slices.Sort(out)
	return out
}
