package upload

import "time"

// raceFirst runs the waits concurrently and returns the index of the first
// one to succeed. Abandoned branches observe read-only DOM state and expire
// on their own bound, so no compensating action is needed. When no wait
// succeeds, the last error is returned.
func raceFirst(timeout time.Duration, waits ...func(time.Duration) error) (int, error) {
	type result struct {
		idx int
		err error
	}

	results := make(chan result, len(waits))
	for i, wait := range waits {
		go func(idx int, wait func(time.Duration) error) {
			results <- result{idx: idx, err: wait(timeout)}
		}(i, wait)
	}

	var lastErr error
	for range waits {
		r := <-results
		if r.err == nil {
			return r.idx, nil
		}
		lastErr = r.err
	}
	return -1, lastErr
}
