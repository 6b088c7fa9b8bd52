package strava

import (
	"errors"
	"sync"
)

// taskSet tracks every dispatched extraction task so the crawl can
// join them all exactly once after pagination has finished. Tasks run
// as soon as they are spawned and never block pagination; a failing
// task never cancels its siblings.
type taskSet struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []Activity
	errs    []error
}

func (t *taskSet) spawn(fn func() (Activity, DiscardReason, error)) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		activity, discard, err := fn()

		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			t.errs = append(t.errs, err)
			return
		}
		if discard == DiscardNone {
			t.results = append(t.results, activity)
		}
	}()
}

// wait blocks until every spawned task has completed. Discarded
// entries are simply absent from the result set.
func (t *taskSet) wait() ([]Activity, error) {
	t.wg.Wait()
	return t.results, errors.Join(t.errs...)
}
