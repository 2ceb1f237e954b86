// Package inference classifies raw texts with a trained model
package inference

import "math"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/floats"

import "github.com/neurlang/finetune/model"

// Encoder turns texts into model input.
type Encoder interface {
	EncodeTexts(texts []string) (model.EncodedInput, error)
}

// Prediction is the outcome for one text.
type Prediction struct {
	Text          string    `json:"text"`
	Label         int       `json:"label"`
	Probabilities []float64 `json:"probabilities"`
}

// Softmax returns the class probabilities of one score row.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	top := floats.Max(scores)
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - top)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Classify predicts a label for every text, batchSize texts per forward.
func Classify(m model.Model, enc Encoder, texts []string, batchSize int) ([]Prediction, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	out := make([]Prediction, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		in, err := enc.EncodeTexts(texts[start:end])
		if err != nil {
			return nil, errors.Wrap(err, "inference: encode")
		}
		scores, err := m.Forward(in)
		if err != nil {
			return nil, errors.Wrap(err, "inference: forward")
		}
		for i, row := range scores {
			out = append(out, Prediction{
				Text:          texts[start+i],
				Label:         model.Argmax(row),
				Probabilities: Softmax(row),
			})
		}
	}
	return out, nil
}
