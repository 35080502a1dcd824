package storetest

import (
	"sync"
	"time"
)

// Transition is one notification received by a Recorder.
type Transition[E any] struct {
	Old, New E
}

// Recorder is a listener that remembers every notification. Use it by
// pointer.
type Recorder[E any] struct {
	mu     sync.Mutex
	calls  []Transition[E]
	notify chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder[E any]() *Recorder[E] {
	return &Recorder[E]{notify: make(chan struct{}, 1)}
}

// Update records the transition.
func (r *Recorder[E]) Update(old, new E) {
	r.mu.Lock()
	r.calls = append(r.calls, Transition[E]{Old: old, New: new})
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Transitions returns the recorded transitions in order.
func (r *Recorder[E]) Transitions() []Transition[E] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition[E](nil), r.calls...)
}

// Len returns the number of recorded transitions.
func (r *Recorder[E]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Last returns the most recent transition.
func (r *Recorder[E]) Last() (Transition[E], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Transition[E]{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// WaitFor blocks until at least n transitions were recorded or timeout
// elapses, and reports whether the count was reached.
func (r *Recorder[E]) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Len() >= n {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Len() >= n
		}
	}
}
