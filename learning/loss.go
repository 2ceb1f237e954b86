package learning

import "math"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/floats"

// LossFunc scores a batch and returns the mean loss and its gradient with
// respect to the scores.
type LossFunc func(scores [][]float64, labels []int) (float64, [][]float64, error)

// CrossEntropy is the softmax cross entropy averaged over the batch.
func CrossEntropy(scores [][]float64, labels []int) (float64, [][]float64, error) {
	if len(scores) == 0 {
		return 0, nil, errors.New("learning: cross entropy of an empty batch")
	}
	if len(scores) != len(labels) {
		return 0, nil, errors.Errorf("learning: %d score rows for %d labels", len(scores), len(labels))
	}
	var loss float64
	var n = float64(len(scores))
	grad := make([][]float64, len(scores))
	for i, row := range scores {
		if labels[i] < 0 || labels[i] >= len(row) {
			return 0, nil, errors.Errorf("learning: label %d outside %d classes", labels[i], len(row))
		}
		// log-sum-exp shifted by the maximum for stability
		top := floats.Max(row)
		g := make([]float64, len(row))
		for j, s := range row {
			g[j] = math.Exp(s - top)
		}
		sum := floats.Sum(g)
		loss += math.Log(sum) + top - row[labels[i]]

		floats.Scale(1/sum, g)
		g[labels[i]] -= 1
		floats.Scale(1/n, g)
		grad[i] = g
	}
	return loss / n, grad, nil
}
