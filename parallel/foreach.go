// Package parallel contains the bounded fan-out helpers used by the model and the test harnesses.
package parallel

import "sync"

// ForEach calls body for every i in 0..length-1 with at most limit calls in
// flight and returns when all calls have finished. The order of calls is
// unspecified, so body must only write to locations owned by i.
func ForEach(length, limit int, body func(i int)) {
	if limit <= 0 {
		limit = 1
	}
	if length <= 0 {
		return
	}
	if limit == 1 || length == 1 {
		for i := 0; i < length; i++ {
			body(i)
		}
		return
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(length)

	for i := 0; i < length; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			body(i)
		}(i)
	}

	wg.Wait()
}
