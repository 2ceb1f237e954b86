// Package model defines the classifier capability consumed by the training loop
package model

import "gonum.org/v1/gonum/floats"

// EncodedInput is a fixed-shape batch of token ids. Every row of IDs has the
// same length, Mask reports which positions hold real tokens.
type EncodedInput struct {
	IDs  [][]int
	Mask [][]bool
}

// Rows returns the number of samples in the input.
func (e EncodedInput) Rows() int {
	return len(e.IDs)
}

// Width returns the padded row length, 0 for an empty input.
func (e EncodedInput) Width() int {
	if len(e.IDs) == 0 {
		return 0
	}
	return len(e.IDs[0])
}

// Batch is one loader step: encoded inputs plus labels aligned by row.
type Batch struct {
	Inputs EncodedInput
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

// Param is a trainable weight tensor, stored flat in row major order.
type Param struct {
	Name  string
	Shape []int
	Data  []float64
	Grad  []float64
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, shape ...int) *Param {
	var size = 1
	for _, d := range shape {
		size *= d
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, size),
		Grad:  make([]float64, size),
	}
}

// Model is the opaque classifier. The training core calls nothing else.
type Model interface {

	// Forward produces one row of per-class scores for every input row.
	Forward(in EncodedInput) ([][]float64, error)

	// Parameters lists the trainable weights. The order is stable.
	Parameters() []*Param

	// State serializes the weights.
	State() ([]byte, error)

	// LoadState restores weights produced by State.
	LoadState(blob []byte) error
}

// Trainable is a Model that can compute gradients of the latest Forward.
type Trainable interface {
	Model

	// Backward accumulates into Param.Grad the gradient of the loss given the
	// gradient of the loss with respect to the scores of the latest Forward.
	Backward(dScores [][]float64) error
}

// ZeroGrad clears the gradients of all parameters.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] = 0
		}
	}
}

// NumValues returns the total number of scalar weights.
func NumValues(params []*Param) (n int) {
	for _, p := range params {
		n += len(p.Data)
	}
	return
}

// Argmax returns the index of the largest score, the first one on ties.
// It returns -1 for an empty row.
func Argmax(scores []float64) int {
	if len(scores) == 0 {
		return -1
	}
	return floats.MaxIdx(scores)
}
