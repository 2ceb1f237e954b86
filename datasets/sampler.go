package datasets

import "math/rand"
import "sync"

// Shard identifies the part of a dataset one rank visits in one epoch.
type Shard struct {
	Rank      int
	WorldSize int
	Seed      int64
	Epoch     int
}

// Partition returns the ordered dataset indices rank visits. All ranks build
// the same permutation from (Seed, Epoch) and take every WorldSize-th entry
// starting at Rank, so shards are disjoint and differ in size by at most one.
// With dropLast the tail of n mod WorldSize indices is left out so that every
// shard has the same size.
func Partition(n int, shard Shard, shuffle, dropLast bool) []int {
	var perm []int
	if shuffle {
		perm = rand.New(rand.NewSource(shard.Seed + int64(shard.Epoch))).Perm(n)
	} else {
		perm = make([]int, n)
		for i := range perm {
			perm[i] = i
		}
	}
	if shard.WorldSize <= 1 {
		return perm
	}
	if dropLast {
		perm = perm[:(n/shard.WorldSize)*shard.WorldSize]
	}
	var out = make([]int, 0, (len(perm)+shard.WorldSize-1)/shard.WorldSize)
	for i := shard.Rank; i < len(perm); i += shard.WorldSize {
		out = append(out, perm[i])
	}
	return out
}

// DistributedSampler yields the shard of one rank. The epoch is the only
// mutable part and is set by the coordinator before each epoch.
type DistributedSampler struct {
	mut      sync.Mutex
	size     int
	shard    Shard
	shuffle  bool
	dropLast bool
}

// NewDistributedSampler creates a sampler over a dataset of size n.
func NewDistributedSampler(n, rank, worldSize int, seed int64, shuffle, dropLast bool) *DistributedSampler {
	if worldSize < 1 {
		worldSize = 1
	}
	return &DistributedSampler{
		size:     n,
		shard:    Shard{Rank: rank, WorldSize: worldSize, Seed: seed},
		shuffle:  shuffle,
		dropLast: dropLast,
	}
}

// SetEpoch reseeds the shuffle order.
func (s *DistributedSampler) SetEpoch(epoch int) {
	s.mut.Lock()
	s.shard.Epoch = epoch
	s.mut.Unlock()
}

// Shard returns the current assignment.
func (s *DistributedSampler) Shard() Shard {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.shard
}

// Indices returns the indices of the current epoch.
func (s *DistributedSampler) Indices() []int {
	return Partition(s.size, s.Shard(), s.shuffle, s.dropLast)
}

// Len returns the number of indices per epoch without building them.
func (s *DistributedSampler) Len() int {
	shard := s.Shard()
	w := shard.WorldSize
	if w <= 1 {
		return s.size
	}
	if s.dropLast {
		return s.size / w
	}
	n := s.size / w
	if shard.Rank < s.size%w {
		n++
	}
	return n
}
