// Package feedforward implements a feedforward text classifier: token
// embeddings, masked mean pooling, one tanh hidden layer and a linear output.
package feedforward

import "math"
import "math/rand"

import "github.com/pkg/errors"
import "gonum.org/v1/gonum/floats"

import "github.com/neurlang/finetune/model"
import "github.com/neurlang/finetune/parallel"

// Config is the shape of the network.
type Config struct {
	VocabSize    int
	EmbeddingDim int
	HiddenDim    int
	Classes      int
	Seed         int64
}

func (c Config) validate() error {
	if c.VocabSize < 1 || c.EmbeddingDim < 1 || c.HiddenDim < 1 || c.Classes < 2 {
		return errors.Errorf("feedforward: invalid shape %+v", c)
	}
	return nil
}

// tape holds the activations of the latest Forward, consumed by Backward.
type tape struct {
	ids    [][]int
	mask   [][]bool
	counts []int
	pooled [][]float64
	hidden [][]float64
}

// FeedforwardNetwork is the feedforward network
type FeedforwardNetwork struct {
	cfg Config

	embedding *model.Param // VocabSize x EmbeddingDim
	w1        *model.Param // EmbeddingDim x HiddenDim
	b1        *model.Param // HiddenDim
	w2        *model.Param // HiddenDim x Classes
	b2        *model.Param // Classes

	threads int
	last    *tape
}

// New creates a network with weights drawn from a PRNG seeded with cfg.Seed,
// so every process constructing the same Config starts from the same weights.
func New(cfg Config) (*FeedforwardNetwork, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &FeedforwardNetwork{
		cfg:       cfg,
		embedding: model.NewParam("embedding", cfg.VocabSize, cfg.EmbeddingDim),
		w1:        model.NewParam("hidden.weight", cfg.EmbeddingDim, cfg.HiddenDim),
		b1:        model.NewParam("hidden.bias", cfg.HiddenDim),
		w2:        model.NewParam("classifier.weight", cfg.HiddenDim, cfg.Classes),
		b2:        model.NewParam("classifier.bias", cfg.Classes),
		threads:   parallel.Threads(),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	for i := range f.embedding.Data {
		f.embedding.Data[i] = rng.NormFloat64() * 0.1
	}
	xavier(rng, f.w1.Data, cfg.EmbeddingDim, cfg.HiddenDim)
	xavier(rng, f.w2.Data, cfg.HiddenDim, cfg.Classes)
	return f, nil
}

func xavier(rng *rand.Rand, data []float64, in, out int) {
	bound := math.Sqrt(6 / float64(in+out))
	for i := range data {
		data[i] = (2*rng.Float64() - 1) * bound
	}
}

// Config returns the shape of the network.
func (f *FeedforwardNetwork) Config() Config {
	return f.cfg
}

// Parameters lists the weights in a fixed order.
func (f *FeedforwardNetwork) Parameters() []*model.Param {
	return []*model.Param{f.embedding, f.w1, f.b1, f.w2, f.b2}
}

func row(p *model.Param, n, width int) []float64 {
	return p.Data[n*width : (n+1)*width]
}

func gradRow(p *model.Param, n, width int) []float64 {
	return p.Grad[n*width : (n+1)*width]
}

// Forward computes class scores for every row. Rows are independent and are
// computed concurrently.
func (f *FeedforwardNetwork) Forward(in model.EncodedInput) ([][]float64, error) {
	if len(in.IDs) != len(in.Mask) {
		return nil, errors.Errorf("feedforward: %d id rows but %d mask rows", len(in.IDs), len(in.Mask))
	}
	d, h, c := f.cfg.EmbeddingDim, f.cfg.HiddenDim, f.cfg.Classes
	for i, ids := range in.IDs {
		if len(ids) != len(in.Mask[i]) {
			return nil, errors.Errorf("feedforward: row %d has %d ids but %d mask entries", i, len(ids), len(in.Mask[i]))
		}
		for _, id := range ids {
			if id < 0 || id >= f.cfg.VocabSize {
				return nil, errors.Errorf("feedforward: token id %d outside vocabulary of %d", id, f.cfg.VocabSize)
			}
		}
	}

	t := &tape{
		ids:    in.IDs,
		mask:   in.Mask,
		counts: make([]int, len(in.IDs)),
		pooled: make([][]float64, len(in.IDs)),
		hidden: make([][]float64, len(in.IDs)),
	}
	scores := make([][]float64, len(in.IDs))

	parallel.ForEach(len(in.IDs), f.threads, func(i int) {
		pooled := make([]float64, d)
		var count int
		for j, id := range in.IDs[i] {
			if !in.Mask[i][j] {
				continue
			}
			floats.Add(pooled, row(f.embedding, id, d))
			count++
		}
		if count > 0 {
			floats.Scale(1/float64(count), pooled)
		}

		hidden := make([]float64, h)
		copy(hidden, f.b1.Data)
		for k := 0; k < d; k++ {
			floats.AddScaled(hidden, pooled[k], row(f.w1, k, h))
		}
		for k := range hidden {
			hidden[k] = math.Tanh(hidden[k])
		}

		out := make([]float64, c)
		copy(out, f.b2.Data)
		for k := 0; k < h; k++ {
			floats.AddScaled(out, hidden[k], row(f.w2, k, c))
		}

		t.counts[i], t.pooled[i], t.hidden[i], scores[i] = count, pooled, hidden, out
	})

	f.last = t
	return scores, nil
}

// Backward accumulates gradients for the latest Forward.
func (f *FeedforwardNetwork) Backward(dScores [][]float64) error {
	t := f.last
	if t == nil {
		return errors.New("feedforward: backward without forward")
	}
	if len(dScores) != len(t.ids) {
		return errors.Errorf("feedforward: %d score gradients for %d rows", len(dScores), len(t.ids))
	}
	d, h, c := f.cfg.EmbeddingDim, f.cfg.HiddenDim, f.cfg.Classes
	dHidden := make([]float64, h)
	dPooled := make([]float64, d)

	for i, ds := range dScores {
		if len(ds) != c {
			return errors.Errorf("feedforward: row %d has %d score gradients, want %d", i, len(ds), c)
		}
		hidden, pooled := t.hidden[i], t.pooled[i]

		floats.Add(f.b2.Grad, ds)
		for k := 0; k < h; k++ {
			floats.AddScaled(gradRow(f.w2, k, c), hidden[k], ds)
			// through tanh: d/dz tanh(z) = 1 - tanh(z)^2
			dHidden[k] = floats.Dot(row(f.w2, k, c), ds) * (1 - hidden[k]*hidden[k])
		}

		floats.Add(f.b1.Grad, dHidden)
		for k := 0; k < d; k++ {
			floats.AddScaled(gradRow(f.w1, k, h), pooled[k], dHidden)
			dPooled[k] = floats.Dot(row(f.w1, k, h), dHidden)
		}

		if t.counts[i] == 0 {
			continue
		}
		scale := 1 / float64(t.counts[i])
		for j, id := range t.ids[i] {
			if !t.mask[i][j] {
				continue
			}
			floats.AddScaled(gradRow(f.embedding, id, d), scale, dPooled)
		}
	}
	return nil
}
