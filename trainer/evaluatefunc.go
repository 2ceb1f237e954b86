package trainer

import "context"

import "github.com/pkg/errors"

import "github.com/neurlang/finetune/datasets"
import "github.com/neurlang/finetune/model"

// EvaluateFunc scores one pass over a loader and returns the local accuracy
// together with the tally it was computed from.
type EvaluateFunc func(ctx context.Context) (float64, *datasets.Tally, error)

// NewEvaluateFunc returns an inference-only accuracy pass. No gradients are
// computed and the weights are not touched.
func NewEvaluateFunc(m model.Model, loader *datasets.Loader) EvaluateFunc {
	return func(ctx context.Context) (float64, *datasets.Tally, error) {
		var tally datasets.Tally
		tally.Init()
		err := loader.Each(ctx, func(n int, b model.Batch) error {
			scores, err := m.Forward(b.Inputs)
			if err != nil {
				return errors.Wrapf(err, "trainer: evaluate batch %d", n)
			}
			if len(scores) != b.Len() {
				return errors.Errorf("trainer: %d score rows for %d labels in batch %d", len(scores), b.Len(), n)
			}
			for i, row := range scores {
				tally.Add(b.Labels[i], model.Argmax(row))
			}
			return nil
		})
		if err != nil {
			return 0, nil, err
		}
		return tally.Accuracy(), &tally, nil
	}
}
