package datasets

import "context"

import "github.com/pkg/errors"
import "golang.org/x/sync/errgroup"

import "github.com/neurlang/finetune/model"

// Collator turns raw samples into one encoded batch.
type Collator interface {
	Encode(samples []Sample) (model.Batch, error)
}

// Sampler yields the indices of one epoch.
type Sampler interface {
	Indices() []int
	Len() int
}

// Loader walks a sampler in batches.
type Loader struct {
	data      *Dataset
	sampler   Sampler
	batchSize int
	collate   Collator
	prefetch  int
}

// NewLoader creates a loader. prefetch is how many encoded batches a
// background goroutine may prepare ahead of the consumer, 0 disables it.
func NewLoader(data *Dataset, sampler Sampler, batchSize int, collate Collator, prefetch int) *Loader {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Loader{
		data:      data,
		sampler:   sampler,
		batchSize: batchSize,
		collate:   collate,
		prefetch:  prefetch,
	}
}

// Len returns the number of batches per epoch.
func (l *Loader) Len() int {
	return (l.sampler.Len() + l.batchSize - 1) / l.batchSize
}

// NumSamples returns the number of samples per epoch.
func (l *Loader) NumSamples() int {
	return l.sampler.Len()
}

func (l *Loader) batch(indices []int, n int) (model.Batch, error) {
	var end = (n + 1) * l.batchSize
	if end > len(indices) {
		end = len(indices)
	}
	var samples = make([]Sample, 0, end-n*l.batchSize)
	for _, idx := range indices[n*l.batchSize : end] {
		samples = append(samples, l.data.Get(idx))
	}
	b, err := l.collate.Encode(samples)
	if err != nil {
		return model.Batch{}, errors.Wrapf(err, "datasets: encode batch %d", n+1)
	}
	return b, nil
}

// Each calls fn for every batch of the current epoch in order. Batches are
// numbered from 1. The first error stops the walk and is returned.
func (l *Loader) Each(ctx context.Context, fn func(n int, b model.Batch) error) error {
	var indices = l.sampler.Indices()
	var total = (len(indices) + l.batchSize - 1) / l.batchSize

	if l.prefetch <= 0 {
		for n := 0; n < total; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			b, err := l.batch(indices, n)
			if err != nil {
				return err
			}
			if err := fn(n+1, b); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan model.Batch, l.prefetch)
	g.Go(func() error {
		defer close(ch)
		for n := 0; n < total; n++ {
			b, err := l.batch(indices, n)
			if err != nil {
				return err
			}
			select {
			case ch <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		var n int
		for b := range ch {
			if err := gctx.Err(); err != nil {
				return err
			}
			n++
			if err := fn(n, b); err != nil {
				return err
			}
		}
		return nil
	})
	return g.Wait()
}
