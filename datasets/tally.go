package datasets

import "sync"

// Tally counts predictions against expected labels and returns the accuracy.
type Tally struct {
	mut sync.Mutex

	// confusion maps (expected, predicted) pairs to their count
	confusion map[[2]int]uint64

	correct uint64
	total   uint64
}

// Init initializes the tally structure
func (t *Tally) Init() {
	t.mut.Lock()
	t.confusion = make(map[[2]int]uint64)
	t.correct = 0
	t.total = 0
	t.mut.Unlock()
}

// Add records one prediction.
func (t *Tally) Add(expected, predicted int) {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.confusion == nil {
		t.confusion = make(map[[2]int]uint64)
	}
	t.confusion[[2]int{expected, predicted}]++
	if expected == predicted {
		t.correct++
	}
	t.total++
}

// Correct returns the number of correct predictions.
func (t *Tally) Correct() uint64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.correct
}

// Len returns the number of predictions.
func (t *Tally) Len() uint64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.total
}

// Confusion returns how often expected was predicted as predicted.
func (t *Tally) Confusion(expected, predicted int) uint64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	return t.confusion[[2]int{expected, predicted}]
}

// Accuracy returns correct/total, 0 when nothing was tallied.
func (t *Tally) Accuracy() float64 {
	t.mut.Lock()
	defer t.mut.Unlock()
	if t.total == 0 {
		return 0
	}
	return float64(t.correct) / float64(t.total)
}
