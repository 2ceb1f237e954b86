package feedforward

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

import "github.com/neurlang/finetune/learning"
import "github.com/neurlang/finetune/model"

func small(t *testing.T, seed int64) *FeedforwardNetwork {
	f, err := New(Config{VocabSize: 11, EmbeddingDim: 4, HiddenDim: 3, Classes: 2, Seed: seed})
	require.NoError(t, err)
	return f
}

func input() model.EncodedInput {
	return model.EncodedInput{
		IDs:  [][]int{{2, 5, 7, 3}, {2, 9, 3, 0}},
		Mask: [][]bool{{true, true, true, true}, {true, true, true, false}},
	}
}

func TestNewDeterministic(t *testing.T) {
	a, b := small(t, 7), small(t, 7)
	for i, p := range a.Parameters() {
		assert.Equal(t, p.Data, b.Parameters()[i].Data, p.Name)
	}
	c := small(t, 8)
	assert.NotEqual(t, a.Parameters()[0].Data, c.Parameters()[0].Data)
}

func TestNewRejectsShape(t *testing.T) {
	_, err := New(Config{VocabSize: 10, EmbeddingDim: 4, HiddenDim: 3, Classes: 1})
	assert.Error(t, err)
}

func TestForwardShape(t *testing.T) {
	f := small(t, 1)
	scores, err := f.Forward(input())
	require.NoError(t, err)
	require.Len(t, scores, 2)
	for _, row := range scores {
		assert.Len(t, row, 2)
	}
}

func TestForwardPaddingIgnored(t *testing.T) {
	f := small(t, 1)
	a, err := f.Forward(model.EncodedInput{IDs: [][]int{{2, 9, 3}}, Mask: [][]bool{{true, true, true}}})
	require.NoError(t, err)
	b, err := f.Forward(model.EncodedInput{IDs: [][]int{{2, 9, 3, 0, 0}}, Mask: [][]bool{{true, true, true, false, false}}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, a[0], b[0], 1e-12)
}

func TestForwardErrors(t *testing.T) {
	f := small(t, 1)
	_, err := f.Forward(model.EncodedInput{IDs: [][]int{{11}}, Mask: [][]bool{{true}}})
	assert.Error(t, err)
	_, err = f.Forward(model.EncodedInput{IDs: [][]int{{1, 2}}, Mask: [][]bool{{true}}})
	assert.Error(t, err)
	_, err = f.Forward(model.EncodedInput{IDs: [][]int{{1}}})
	assert.Error(t, err)
}

func TestBackwardWithoutForward(t *testing.T) {
	f := small(t, 1)
	assert.Error(t, f.Backward([][]float64{{1, 0}}))
}

func TestGradientCheck(t *testing.T) {
	f := small(t, 3)
	in := input()
	labels := []int{1, 0}

	lossAt := func() float64 {
		scores, err := f.Forward(in)
		require.NoError(t, err)
		loss, _, err := learning.CrossEntropy(scores, labels)
		require.NoError(t, err)
		return loss
	}

	scores, err := f.Forward(in)
	require.NoError(t, err)
	_, dScores, err := learning.CrossEntropy(scores, labels)
	require.NoError(t, err)
	require.NoError(t, f.Backward(dScores))

	const h = 1e-6
	for _, p := range f.Parameters() {
		for i := range p.Data {
			orig := p.Data[i]
			p.Data[i] = orig + h
			up := lossAt()
			p.Data[i] = orig - h
			down := lossAt()
			p.Data[i] = orig
			assert.InDelta(t, (up-down)/(2*h), p.Grad[i], 1e-5, "%s[%d]", p.Name, i)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	a, b := small(t, 1), small(t, 2)
	blob, err := a.State()
	require.NoError(t, err)
	require.NoError(t, b.LoadState(blob))

	sa, err := a.Forward(input())
	require.NoError(t, err)
	sb, err := b.Forward(input())
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}

func TestLoadStateShapeMismatch(t *testing.T) {
	a := small(t, 1)
	blob, err := a.State()
	require.NoError(t, err)

	b, err := New(Config{VocabSize: 11, EmbeddingDim: 5, HiddenDim: 3, Classes: 2})
	require.NoError(t, err)
	before := append([]float64(nil), b.Parameters()[0].Data...)
	assert.Error(t, b.LoadState(blob))
	assert.Equal(t, before, b.Parameters()[0].Data)

	assert.Error(t, b.LoadState([]byte("not json")))
}

func TestLearnsSeparableBatch(t *testing.T) {
	f := small(t, 5)
	o := learning.NewAdamW(f.Parameters(), 0.05, 0)
	in := input()
	labels := []int{1, 0}
	var first, last float64
	for i := 0; i < 100; i++ {
		scores, err := f.Forward(in)
		require.NoError(t, err)
		loss, dScores, err := learning.CrossEntropy(scores, labels)
		require.NoError(t, err)
		require.NoError(t, f.Backward(dScores))
		o.Step()
		o.ZeroGrad()
		if i == 0 {
			first = loss
		}
		last = loss
	}
	assert.Less(t, last, first/2)
}
