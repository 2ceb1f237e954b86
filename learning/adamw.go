package learning

import "math"

import "github.com/neurlang/finetune/model"

// AdamW is Adam with decoupled weight decay.
type AdamW struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64

	params []*model.Param
	m, v   [][]float64
	step   int
}

// NewAdamW creates the optimizer over params. Moment buffers are allocated
// once and follow the parameter order.
func NewAdamW(params []*model.Param, lr, weightDecay float64) *AdamW {
	o := &AdamW{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-6,
		WeightDecay:  weightDecay,
		params:       params,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, len(p.Data))
		o.v[i] = make([]float64, len(p.Data))
	}
	return o
}

// Steps returns the number of updates applied so far.
func (o *AdamW) Steps() int {
	return o.step
}

// Step applies one update from the accumulated gradients.
func (o *AdamW) Step() {
	o.step++
	c1 := 1 - math.Pow(o.Beta1, float64(o.step))
	c2 := 1 - math.Pow(o.Beta2, float64(o.step))
	decay := 1 - o.LearningRate*o.WeightDecay
	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j, g := range p.Grad {
			m[j] = o.Beta1*m[j] + (1-o.Beta1)*g
			v[j] = o.Beta2*v[j] + (1-o.Beta2)*g*g
			p.Data[j] *= decay
			p.Data[j] -= o.LearningRate * (m[j] / c1) / (math.Sqrt(v[j]/c2) + o.Epsilon)
		}
	}
}

// ZeroGrad clears the gradients of every parameter.
func (o *AdamW) ZeroGrad() {
	model.ZeroGrad(o.params)
}
