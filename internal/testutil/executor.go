package testutil

import "sync"

// ManualExecutor runs jobs inline, except jobs whose label is held: those
// are queued until released. Tests use it to control when durable calls
// complete.
type ManualExecutor struct {
	mu     sync.Mutex
	held   map[string]bool
	queued []heldJob
}

type heldJob struct {
	label string
	fn    func()
}

// NewManualExecutor creates an executor that holds the given labels.
func NewManualExecutor(hold ...string) *ManualExecutor {
	e := &ManualExecutor{held: make(map[string]bool)}
	for _, l := range hold {
		e.held[l] = true
	}
	return e
}

// Go runs fn now, or queues it if label is held.
func (e *ManualExecutor) Go(label string, fn func()) {
	e.mu.Lock()
	if e.held[label] {
		e.queued = append(e.queued, heldJob{label: label, fn: fn})
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	fn()
}

// Hold starts queueing jobs with label.
func (e *ManualExecutor) Hold(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.held[label] = true
}

// Unhold stops queueing label. Already queued jobs stay queued.
func (e *ManualExecutor) Unhold(label string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.held, label)
}

// RunNext runs the oldest queued job with label. Returns false if none.
func (e *ManualExecutor) RunNext(label string) bool {
	e.mu.Lock()
	for i, j := range e.queued {
		if j.label != label {
			continue
		}
		e.queued = append(e.queued[:i], e.queued[i+1:]...)
		e.mu.Unlock()
		j.fn()
		return true
	}
	e.mu.Unlock()
	return false
}

// RunAll runs every queued job with label in order and returns the count.
func (e *ManualExecutor) RunAll(label string) int {
	n := 0
	for e.RunNext(label) {
		n++
	}
	return n
}

// Queued returns how many jobs with label are waiting.
func (e *ManualExecutor) Queued(label string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, j := range e.queued {
		if j.label == label {
			n++
		}
	}
	return n
}
