// Package datasets implements labeled text datasets, their sources, and the
// per-rank partitioning used by distributed training
package datasets

import "context"
import "fmt"

import "github.com/pkg/errors"

// Split names a dataset split.
type Split string

const (
	Train      Split = "train"
	Validation Split = "validation"
	Test       Split = "test"
)

// Sample is one labeled text. Immutable once loaded.
type Sample struct {
	Text  string `json:"text"`
	Label int    `json:"label"`
}

// Dataset is the ordered collection of one split. The index of a sample is
// its position in load order.
type Dataset struct {
	split   Split
	samples []Sample
}

// New creates a dataset over samples. The slice is copied.
func New(split Split, samples []Sample) *Dataset {
	return &Dataset{
		split:   split,
		samples: append([]Sample(nil), samples...),
	}
}

// Len returns the number of samples.
func (d *Dataset) Len() int {
	return len(d.samples)
}

// Get returns the sample at index n.
func (d *Dataset) Get(n int) Sample {
	return d.samples[n]
}

// Split reports which split the dataset holds.
func (d *Dataset) Split() Split {
	return d.split
}

// Texts returns the texts in canonical order.
func (d *Dataset) Texts() []string {
	var out = make([]string, len(d.samples))
	for i, s := range d.samples {
		out[i] = s.Text
	}
	return out
}

// Source retrieves the raw samples of a split.
type Source interface {
	Retrieve(ctx context.Context, split Split) ([]Sample, error)
	String() string
}

// DataUnavailableError reports a split that could not be retrieved.
type DataUnavailableError struct {
	Split  Split
	Source string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("datasets: split %q unavailable from %s: %v", e.Split, e.Source, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// Load retrieves a split from src. Every failure, including an empty split or
// a negative label, is reported as *DataUnavailableError.
func Load(ctx context.Context, src Source, split Split) (*Dataset, error) {
	fail := func(err error) (*Dataset, error) {
		return nil, &DataUnavailableError{Split: split, Source: src.String(), Err: err}
	}
	samples, err := src.Retrieve(ctx, split)
	if err != nil {
		return fail(err)
	}
	if len(samples) == 0 {
		return fail(errors.New("no samples"))
	}
	for i, s := range samples {
		if s.Label < 0 {
			return fail(errors.Errorf("sample %d has negative label %d", i, s.Label))
		}
	}
	return New(split, samples), nil
}

// MemorySource serves samples held in memory.
type MemorySource map[Split][]Sample

func (m MemorySource) Retrieve(_ context.Context, split Split) ([]Sample, error) {
	samples, ok := m[split]
	if !ok {
		return nil, errors.Errorf("unknown split %q", split)
	}
	return samples, nil
}

func (m MemorySource) String() string {
	return "memory"
}
