package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForEach(t *testing.T) {
	for _, limit := range []int{-1, 0, 1, 3, 64} {
		var out = make([]int, 100)
		var calls atomic.Int32
		ForEach(len(out), limit, func(i int) {
			out[i] = i * i
			calls.Add(1)
		})
		assert.Equal(t, int32(100), calls.Load(), "limit %d", limit)
		for i, v := range out {
			assert.Equal(t, i*i, v)
		}
	}
}

func TestForEachLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	ForEach(50, 4, func(i int) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		inflight.Add(-1)
	})
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestForEachEmpty(t *testing.T) {
	ForEach(0, 4, func(i int) { t.Fatal("called") })
}

func TestThreads(t *testing.T) {
	assert.GreaterOrEqual(t, Threads(), 1)
	_, _, logical := CPU()
	assert.GreaterOrEqual(t, logical, 0)
}
